package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/logging"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/metrics"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/platform"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/traces"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/validation"
)

// Service is the settlement workflow engine. Every transition runs inside one
// database transaction: exclusive lock on the source row, re-validation,
// payment-platform call, delete-source + insert-destination. If any step
// fails the transaction rolls back, so no DB-side change is ever observable
// without the corresponding platform effect.
type Service struct {
	store         Store
	platform      platform.Client
	feeRate       int32
	captureWindow time.Duration
	neglectWindow time.Duration
}

// NewService creates a settlement workflow engine. captureWindow is the
// fallback credit-hold length used when the platform reports no expiry for a
// charge; neglectWindow is how long after the meeting an unconfirmed payment
// becomes a neglect candidate.
func NewService(store Store, client platform.Client, feeRateInPercentage int,
	captureWindow, neglectWindow time.Duration) *Service {
	return &Service{
		store:         store,
		platform:      client,
		feeRate:       int32(feeRateInPercentage),
		captureWindow: captureWindow,
		neglectWindow: neglectWindow,
	}
}

// AcceptRequestInput carries a consultant's acceptance of a consultation
// request. The charge has already been authorized on the payment platform by
// the user-facing flow; ChargeID references it.
type AcceptRequestInput struct {
	UserAccountID   int64     `json:"userAccountId"`
	ConsultantID    int64     `json:"consultantId"`
	FeePerHourInYen int32     `json:"feePerHourInYen"`
	MeetingAt       time.Time `json:"meetingAt"`
	ChargeID        string    `json:"chargeId"`
}

// AcceptRequest creates the consultation and its awaiting-payment record.
// Both party accounts are locked FOR SHARE so neither can be deleted while
// the consultation is being created.
func (s *Service) AcceptRequest(ctx context.Context, in AcceptRequestInput) (*consultation.Consultation, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.accept_request", traces.ChargeID(in.ChargeID))
	defer span.End()

	if !validation.IsValidFeePerHourInYen(in.FeePerHourInYen) {
		return nil, ErrInvalidFee
	}

	// The platform is authoritative for the charge's amount and hold window.
	charge, err := s.platform.GetCharge(ctx, in.ChargeID)
	if err != nil {
		logging.L(ctx).Error("failed to fetch charge for acceptance",
			"charge_id", in.ChargeID, "error", err)
		return nil, fmt.Errorf("failed to fetch charge %s: %w", in.ChargeID, err)
	}
	if charge.Amount != int64(in.FeePerHourInYen) {
		return nil, fmt.Errorf("%w: charge amount %d does not match fee %d",
			ErrInvalidFee, charge.Amount, in.FeePerHourInYen)
	}

	now := time.Now()
	expiredAt := charge.ExpiredAt
	if expiredAt.IsZero() {
		expiredAt = now.Add(s.captureWindow)
	}
	c := &consultation.Consultation{
		UserAccountID: in.UserAccountID,
		ConsultantID:  in.ConsultantID,
		MeetingAt:     in.MeetingAt,
		RoomName:      consultation.NewRoomName(),
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.UserAccountForShare(ctx, in.UserAccountID); err != nil {
			return fmt.Errorf("user account %d: %w", in.UserAccountID, err)
		}
		if _, err := tx.UserAccountForShare(ctx, in.ConsultantID); err != nil {
			return fmt.Errorf("consultant account %d: %w", in.ConsultantID, err)
		}
		if err := tx.InsertConsultation(ctx, c); err != nil {
			return err
		}
		return tx.InsertAwaitingPayment(ctx, &AwaitingPayment{
			ConsultationID:              c.ConsultationID,
			ChargeID:                    in.ChargeID,
			FeePerHourInYen:             in.FeePerHourInYen,
			PlatformFeeRateInPercentage: s.feeRate,
			CreditFacilitiesExpiredAt:   expiredAt,
			CreatedAt:                   now,
		})
	})
	if err != nil {
		metrics.ConsultationsAcceptedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ConsultationsAcceptedTotal.WithLabelValues("ok").Inc()
	return c, nil
}

// ConfirmPayment moves an awaiting payment to awaiting withdrawal, capturing
// the charge. The consultant's account is pinned FOR SHARE: the reward must
// have an owner when the hold is created.
func (s *Service) ConfirmPayment(ctx context.Context, consultationID, adminAccountID int64) error {
	return s.transition(ctx, ActionConfirmPayment, func(tx Tx) (State, error) {
		ap, err := tx.AwaitingPaymentForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		if err := s.pinConsultant(ctx, tx, consultationID); err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingPayment, AwaitingPayment: ap}, nil
	}, adminAccountID, consultationID)
}

// NeglectPayment archives an awaiting payment whose fee was never completed.
func (s *Service) NeglectPayment(ctx context.Context, consultationID, adminAccountID int64) error {
	return s.transition(ctx, ActionNeglect, func(tx Tx) (State, error) {
		ap, err := tx.AwaitingPaymentForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingPayment, AwaitingPayment: ap}, nil
	}, adminAccountID, consultationID)
}

// RefundAwaitingPayment refunds the charge and archives the awaiting payment.
// The user's account is pinned FOR SHARE while the refund is issued.
func (s *Service) RefundAwaitingPayment(ctx context.Context, consultationID, adminAccountID int64) error {
	return s.transition(ctx, ActionRefund, func(tx Tx) (State, error) {
		ap, err := tx.AwaitingPaymentForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		if err := s.pinUser(ctx, tx, consultationID); err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingPayment, AwaitingPayment: ap}, nil
	}, adminAccountID, consultationID)
}

// StopSettlement halts an in-flight settlement before the charge's credit
// hold expires. Returns the stopped settlement's assigned ID.
func (s *Service) StopSettlement(ctx context.Context, consultationID, adminAccountID int64) (int64, error) {
	var settlementID int64
	err := s.transition(ctx, ActionStop, func(tx Tx) (State, error) {
		ap, err := tx.AwaitingPaymentForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingPayment, AwaitingPayment: ap}, nil
	}, adminAccountID, consultationID, func(next State) {
		if next.StoppedSettlement != nil {
			settlementID = next.StoppedSettlement.SettlementID
		}
	})
	return settlementID, err
}

// ResumeStoppedSettlement puts a stopped settlement back in the awaiting
// payment queue.
func (s *Service) ResumeStoppedSettlement(ctx context.Context, settlementID, adminAccountID int64) error {
	return s.transition(ctx, ActionResume, func(tx Tx) (State, error) {
		ss, err := tx.StoppedSettlementForUpdate(ctx, settlementID)
		if err != nil {
			return State{}, err
		}
		return State{Kind: KindStoppedSettlement, StoppedSettlement: ss}, nil
	}, adminAccountID, settlementID)
}

// RefundStoppedSettlement refunds the charge of a stopped settlement and
// archives it.
func (s *Service) RefundStoppedSettlement(ctx context.Context, settlementID, adminAccountID int64) error {
	return s.transition(ctx, ActionRefund, func(tx Tx) (State, error) {
		ss, err := tx.StoppedSettlementForUpdate(ctx, settlementID)
		if err != nil {
			return State{}, err
		}
		if err := s.pinUser(ctx, tx, ss.ConsultationID); err != nil {
			return State{}, err
		}
		return State{Kind: KindStoppedSettlement, StoppedSettlement: ss}, nil
	}, adminAccountID, settlementID)
}

// PayWithdrawal records the bank transfer of a consultant's reward. The
// consultant's bank account must still exist and is pinned FOR SHARE.
func (s *Service) PayWithdrawal(ctx context.Context, consultationID, adminAccountID int64) error {
	return s.transition(ctx, ActionPayWithdrawal, func(tx Tx) (State, error) {
		aw, err := tx.AwaitingWithdrawalForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		c, err := tx.ConsultationForShare(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		if _, err := tx.UserAccountForShare(ctx, c.ConsultantID); err != nil {
			return State{}, err
		}
		if _, err := tx.BankAccountForShare(ctx, c.ConsultantID); err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingWithdrawal, AwaitingWithdrawal: aw}, nil
	}, adminAccountID, consultationID)
}

// RefundAwaitingWithdrawal refunds a captured charge back to the user and
// archives the withdrawal hold.
func (s *Service) RefundAwaitingWithdrawal(ctx context.Context, consultationID, adminAccountID int64) error {
	return s.transition(ctx, ActionRefund, func(tx Tx) (State, error) {
		aw, err := tx.AwaitingWithdrawalForUpdate(ctx, consultationID)
		if err != nil {
			return State{}, err
		}
		if err := s.pinUser(ctx, tx, consultationID); err != nil {
			return State{}, err
		}
		return State{Kind: KindAwaitingWithdrawal, AwaitingWithdrawal: aw}, nil
	}, adminAccountID, consultationID)
}

// transition is the shared engine path: lock and load the source record,
// compute the transition, execute its effects, commit. The optional observer
// sees the next state before commit (used to surface assigned IDs).
func (s *Service) transition(ctx context.Context, action ActionKind,
	load func(tx Tx) (State, error), adminAccountID, recordID int64,
	observers ...func(next State)) error {

	ctx, span := traces.StartSpan(ctx, "settlement.transition",
		traces.Action(string(action)), traces.AdminAccountID(adminAccountID))
	defer span.End()

	now := time.Now()
	err := s.store.InTx(ctx, func(tx Tx) error {
		state, err := load(tx)
		if err != nil {
			return err
		}
		next, effects, err := Transition(state, Action{Kind: action, AdminAccountID: adminAccountID}, now)
		if err != nil {
			return err
		}
		if err := s.applyEffects(ctx, tx, effects); err != nil {
			return err
		}
		for _, observe := range observers {
			observe(next)
		}
		return nil
	})
	if err != nil {
		metrics.SettlementTransitionsTotal.WithLabelValues(string(action), "error").Inc()
		logging.L(ctx).Error("settlement transition failed",
			"action", string(action),
			"record_id", recordID,
			"admin_account_id", adminAccountID,
			"error", err,
		)
		return err
	}
	metrics.SettlementTransitionsTotal.WithLabelValues(string(action), "ok").Inc()
	return nil
}

// applyEffects executes a transition's side effects in order inside the open
// transaction. Platform calls happen here so their failure rolls everything
// back.
func (s *Service) applyEffects(ctx context.Context, tx Tx, effects []Effect) error {
	for _, e := range effects {
		var err error
		switch e.Op {
		case OpCaptureCharge:
			_, err = s.platform.CaptureCharge(ctx, e.ChargeID)
		case OpRefundCharge:
			_, err = s.platform.RefundCharge(ctx, e.ChargeID, e.RefundReason)
		case OpDeleteAwaitingPayment:
			err = tx.DeleteAwaitingPayment(ctx, e.ConsultationID)
		case OpDeleteAwaitingWithdrawal:
			err = tx.DeleteAwaitingWithdrawal(ctx, e.ConsultationID)
		case OpDeleteStoppedSettlement:
			err = tx.DeleteStoppedSettlement(ctx, e.SettlementID)
		case OpInsertAwaitingPayment:
			err = tx.InsertAwaitingPayment(ctx, e.AwaitingPayment)
		case OpInsertStoppedSettlement:
			err = tx.InsertStoppedSettlement(ctx, e.StoppedSettlement)
		case OpInsertAwaitingWithdrawal:
			err = tx.InsertAwaitingWithdrawal(ctx, e.AwaitingWithdrawal)
		case OpInsertNeglectedPayment:
			err = tx.InsertNeglectedPayment(ctx, e.NeglectedPayment)
		case OpInsertRefundedPayment:
			err = tx.InsertRefundedPayment(ctx, e.RefundedPayment)
		case OpInsertLeftAwaitingWithdrawal:
			err = tx.InsertLeftAwaitingWithdrawal(ctx, e.LeftAwaitingWithdrawal)
		default:
			err = fmt.Errorf("unknown effect %s", e.Op)
		}
		if err != nil {
			return fmt.Errorf("effect %s: %w", e.Op, err)
		}
	}
	return nil
}

// pinUser shared-locks the consultation's user account.
func (s *Service) pinUser(ctx context.Context, tx Tx, consultationID int64) error {
	c, err := tx.ConsultationForShare(ctx, consultationID)
	if err != nil {
		return err
	}
	_, err = tx.UserAccountForShare(ctx, c.UserAccountID)
	return err
}

// pinConsultant shared-locks the consultation's consultant account.
func (s *Service) pinConsultant(ctx context.Context, tx Tx, consultationID int64) error {
	c, err := tx.ConsultationForShare(ctx, consultationID)
	if err != nil {
		return err
	}
	_, err = tx.UserAccountForShare(ctx, c.ConsultantID)
	return err
}

// ListAwaitingPayments returns awaiting payments, oldest first.
func (s *Service) ListAwaitingPayments(ctx context.Context, limit, offset int) ([]*AwaitingPayment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAwaitingPayments(ctx, limit, offset)
}

// ListAwaitingWithdrawals returns withdrawal holds, oldest first.
func (s *Service) ListAwaitingWithdrawals(ctx context.Context, limit, offset int) ([]*AwaitingWithdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListAwaitingWithdrawals(ctx, limit, offset)
}

// ListNeglectCandidates returns awaiting payments whose meeting passed more
// than the neglect window ago.
func (s *Service) ListNeglectCandidates(ctx context.Context, limit int) ([]*AwaitingPayment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListNeglectCandidates(ctx, time.Now().Add(-s.neglectWindow), limit)
}
