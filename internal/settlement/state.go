package settlement

import (
	"fmt"
	"time"
)

// StateKind identifies a lifecycle stage.
type StateKind string

const (
	KindAwaitingPayment        StateKind = "awaiting_payment"
	KindAwaitingWithdrawal     StateKind = "awaiting_withdrawal"
	KindStoppedSettlement      StateKind = "stopped_settlement"
	KindNeglectedPayment       StateKind = "neglected_payment"
	KindRefundedPayment        StateKind = "refunded_payment"
	KindLeftAwaitingWithdrawal StateKind = "left_awaiting_withdrawal"
)

// State is the tagged union of a consultation's live settlement record.
// Exactly the field matching Kind is non-nil.
type State struct {
	Kind               StateKind
	AwaitingPayment    *AwaitingPayment
	AwaitingWithdrawal *AwaitingWithdrawal
	StoppedSettlement  *StoppedSettlement
}

// ActionKind identifies an admin decision.
type ActionKind string

const (
	ActionConfirmPayment ActionKind = "confirm_payment"
	ActionNeglect        ActionKind = "neglect"
	ActionRefund         ActionKind = "refund"
	ActionStop           ActionKind = "stop"
	ActionResume         ActionKind = "resume"
	ActionPayWithdrawal  ActionKind = "pay_withdrawal"
)

// Action is an admin decision applied to a live settlement record.
type Action struct {
	Kind           ActionKind
	AdminAccountID int64
}

// EffectOp identifies one side effect of a transition.
type EffectOp string

const (
	OpDeleteAwaitingPayment        EffectOp = "delete_awaiting_payment"
	OpDeleteAwaitingWithdrawal     EffectOp = "delete_awaiting_withdrawal"
	OpDeleteStoppedSettlement      EffectOp = "delete_stopped_settlement"
	OpInsertAwaitingPayment        EffectOp = "insert_awaiting_payment"
	OpInsertStoppedSettlement      EffectOp = "insert_stopped_settlement"
	OpInsertAwaitingWithdrawal     EffectOp = "insert_awaiting_withdrawal"
	OpInsertNeglectedPayment       EffectOp = "insert_neglected_payment"
	OpInsertRefundedPayment        EffectOp = "insert_refunded_payment"
	OpInsertLeftAwaitingWithdrawal EffectOp = "insert_left_awaiting_withdrawal"
	OpCaptureCharge                EffectOp = "capture_charge"
	OpRefundCharge                 EffectOp = "refund_charge"
)

// Effect is one side effect of a transition. The field matching Op is set.
// Effects are executed in order inside the same transaction; a failing
// platform call aborts the transaction so none of the DB effects survive.
type Effect struct {
	Op EffectOp

	ConsultationID int64  // delete ops
	SettlementID   int64  // delete_stopped_settlement
	ChargeID       string // capture_charge / refund_charge
	RefundReason   string // refund_charge

	AwaitingPayment        *AwaitingPayment
	StoppedSettlement      *StoppedSettlement
	AwaitingWithdrawal     *AwaitingWithdrawal
	NeglectedPayment       *NeglectedPayment
	RefundedPayment        *RefundedPayment
	LeftAwaitingWithdrawal *LeftAwaitingWithdrawal
}

// Transition computes the next state and the ordered side effects of applying
// an admin action at the given time. It is pure: callers execute the effects
// atomically. The same refund logic serves awaiting payments, stopped
// settlements, and awaiting withdrawals.
func Transition(s State, a Action, now time.Time) (State, []Effect, error) {
	switch s.Kind {
	case KindAwaitingPayment:
		return transitionFromAwaitingPayment(s.AwaitingPayment, a, now)
	case KindStoppedSettlement:
		return transitionFromStoppedSettlement(s.StoppedSettlement, a, now)
	case KindAwaitingWithdrawal:
		return transitionFromAwaitingWithdrawal(s.AwaitingWithdrawal, a, now)
	default:
		return State{}, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, a.Kind, s.Kind)
	}
}

func transitionFromAwaitingPayment(ap *AwaitingPayment, a Action, now time.Time) (State, []Effect, error) {
	switch a.Kind {
	case ActionConfirmPayment:
		aw := &AwaitingWithdrawal{
			ConsultationID:              ap.ConsultationID,
			ChargeID:                    ap.ChargeID,
			FeePerHourInYen:             ap.FeePerHourInYen,
			PlatformFeeRateInPercentage: ap.PlatformFeeRateInPercentage,
			PaymentConfirmedBy:          a.AdminAccountID,
			CreatedAt:                   now,
		}
		return State{Kind: KindAwaitingWithdrawal, AwaitingWithdrawal: aw}, []Effect{
			{Op: OpCaptureCharge, ChargeID: ap.ChargeID},
			{Op: OpDeleteAwaitingPayment, ConsultationID: ap.ConsultationID},
			{Op: OpInsertAwaitingWithdrawal, AwaitingWithdrawal: aw},
		}, nil

	case ActionNeglect:
		// The authorization is left to lapse on its own; no platform call.
		np := &NeglectedPayment{
			ConsultationID:     ap.ConsultationID,
			ChargeID:           ap.ChargeID,
			FeePerHourInYen:    ap.FeePerHourInYen,
			NeglectConfirmedBy: a.AdminAccountID,
			CreatedAt:          now,
		}
		return State{Kind: KindNeglectedPayment}, []Effect{
			{Op: OpDeleteAwaitingPayment, ConsultationID: ap.ConsultationID},
			{Op: OpInsertNeglectedPayment, NeglectedPayment: np},
		}, nil

	case ActionRefund:
		rp := &RefundedPayment{
			ConsultationID:              ap.ConsultationID,
			ChargeID:                    ap.ChargeID,
			FeePerHourInYen:             ap.FeePerHourInYen,
			PlatformFeeRateInPercentage: ap.PlatformFeeRateInPercentage,
			TransferredFrom:             string(KindAwaitingPayment),
			RefundConfirmedBy:           a.AdminAccountID,
			CreatedAt:                   now,
		}
		return State{Kind: KindRefundedPayment}, []Effect{
			{Op: OpRefundCharge, ChargeID: ap.ChargeID, RefundReason: "refunded from awaiting payment"},
			{Op: OpDeleteAwaitingPayment, ConsultationID: ap.ConsultationID},
			{Op: OpInsertRefundedPayment, RefundedPayment: rp},
		}, nil

	case ActionStop:
		if !now.Before(ap.CreditFacilitiesExpiredAt) {
			return State{}, nil, ErrCreditFacilitiesExpired
		}
		ss := &StoppedSettlement{
			ConsultationID:              ap.ConsultationID,
			ChargeID:                    ap.ChargeID,
			FeePerHourInYen:             ap.FeePerHourInYen,
			PlatformFeeRateInPercentage: ap.PlatformFeeRateInPercentage,
			CreditFacilitiesExpiredAt:   ap.CreditFacilitiesExpiredAt,
			StoppedBy:                   a.AdminAccountID,
			StoppedAt:                   now,
		}
		return State{Kind: KindStoppedSettlement, StoppedSettlement: ss}, []Effect{
			{Op: OpDeleteAwaitingPayment, ConsultationID: ap.ConsultationID},
			{Op: OpInsertStoppedSettlement, StoppedSettlement: ss},
		}, nil
	}
	return State{}, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, a.Kind, KindAwaitingPayment)
}

func transitionFromStoppedSettlement(ss *StoppedSettlement, a Action, now time.Time) (State, []Effect, error) {
	switch a.Kind {
	case ActionResume:
		ap := &AwaitingPayment{
			ConsultationID:              ss.ConsultationID,
			ChargeID:                    ss.ChargeID,
			FeePerHourInYen:             ss.FeePerHourInYen,
			PlatformFeeRateInPercentage: ss.PlatformFeeRateInPercentage,
			CreditFacilitiesExpiredAt:   ss.CreditFacilitiesExpiredAt,
			CreatedAt:                   now,
		}
		return State{Kind: KindAwaitingPayment, AwaitingPayment: ap}, []Effect{
			{Op: OpDeleteStoppedSettlement, SettlementID: ss.SettlementID},
			{Op: OpInsertAwaitingPayment, AwaitingPayment: ap},
		}, nil

	case ActionRefund:
		rp := &RefundedPayment{
			ConsultationID:              ss.ConsultationID,
			ChargeID:                    ss.ChargeID,
			FeePerHourInYen:             ss.FeePerHourInYen,
			PlatformFeeRateInPercentage: ss.PlatformFeeRateInPercentage,
			TransferredFrom:             string(KindStoppedSettlement),
			RefundConfirmedBy:           a.AdminAccountID,
			CreatedAt:                   now,
		}
		return State{Kind: KindRefundedPayment}, []Effect{
			{Op: OpRefundCharge, ChargeID: ss.ChargeID, RefundReason: "refunded from stopped settlement"},
			{Op: OpDeleteStoppedSettlement, SettlementID: ss.SettlementID},
			{Op: OpInsertRefundedPayment, RefundedPayment: rp},
		}, nil
	}
	return State{}, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, a.Kind, KindStoppedSettlement)
}

func transitionFromAwaitingWithdrawal(aw *AwaitingWithdrawal, a Action, now time.Time) (State, []Effect, error) {
	switch a.Kind {
	case ActionPayWithdrawal:
		lw := &LeftAwaitingWithdrawal{
			ConsultationID:              aw.ConsultationID,
			ChargeID:                    aw.ChargeID,
			FeePerHourInYen:             aw.FeePerHourInYen,
			PlatformFeeRateInPercentage: aw.PlatformFeeRateInPercentage,
			PaymentConfirmedBy:          aw.PaymentConfirmedBy,
			PayoutConfirmedBy:           a.AdminAccountID,
			CreatedAt:                   now,
		}
		return State{Kind: KindLeftAwaitingWithdrawal}, []Effect{
			{Op: OpDeleteAwaitingWithdrawal, ConsultationID: aw.ConsultationID},
			{Op: OpInsertLeftAwaitingWithdrawal, LeftAwaitingWithdrawal: lw},
		}, nil

	case ActionRefund:
		rp := &RefundedPayment{
			ConsultationID:              aw.ConsultationID,
			ChargeID:                    aw.ChargeID,
			FeePerHourInYen:             aw.FeePerHourInYen,
			PlatformFeeRateInPercentage: aw.PlatformFeeRateInPercentage,
			TransferredFrom:             string(KindAwaitingWithdrawal),
			RefundConfirmedBy:           a.AdminAccountID,
			CreatedAt:                   now,
		}
		return State{Kind: KindRefundedPayment}, []Effect{
			{Op: OpRefundCharge, ChargeID: aw.ChargeID, RefundReason: "refunded from awaiting withdrawal"},
			{Op: OpDeleteAwaitingWithdrawal, ConsultationID: aw.ConsultationID},
			{Op: OpInsertRefundedPayment, RefundedPayment: rp},
		}, nil
	}
	return State{}, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, a.Kind, KindAwaitingWithdrawal)
}
