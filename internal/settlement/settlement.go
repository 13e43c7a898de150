// Package settlement implements the financial lifecycle of a consultation.
//
// Flow:
//  1. Consultant accepts a request → charge authorized on the payment
//     platform → awaiting payment
//  2. Admin confirms the fee was received → charge captured → awaiting
//     withdrawal (consultant's reward held)
//  3. Admin pays the reward to the consultant's bank account → left awaiting
//     withdrawal
//  4. Admin refunds, neglects, or stops the settlement instead → terminal
//     archival record
//
// Every transition deletes the source row and inserts the destination row in
// one database transaction, under an exclusive row lock on the source. A
// replayed admin action therefore observes the source row gone and fails
// instead of applying twice. Terminal tables are append-only.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
)

var (
	// ErrNotFound means a settlement record vanished between the caller's
	// existence check and lock acquisition. Callers treat it as an internal
	// error, not a business error: existence is established before locking.
	ErrNotFound = errors.New("settlement record not found")
	// ErrAccountNotFound means a referenced user or consultant account row
	// disappeared. Same internal-error treatment as ErrNotFound.
	ErrAccountNotFound = errors.New("account not found")
	// ErrBankAccountNotFound means the consultant has no payout destination.
	ErrBankAccountNotFound = errors.New("bank account not found")
	// ErrCreditFacilitiesExpired rejects stopping a settlement whose charge
	// can no longer be captured or reversed.
	ErrCreditFacilitiesExpired = errors.New("credit facilities already expired")
	// ErrInvalidTransition means the requested action does not apply to the
	// record's current lifecycle stage.
	ErrInvalidTransition = errors.New("invalid settlement state transition")
	// ErrInvalidFee rejects an out-of-range consultation fee.
	ErrInvalidFee = errors.New("fee per hour out of accepted range")
)

// Stable numeric API result codes. Never renumber.
const (
	CodeUnexpectedError                = 10000
	CodeConsultationIDNotPositive      = 10001
	CodeSettlementIDNotPositive        = 10002
	CodeCreditFacilitiesAlreadyExpired = 10003
	CodeInvalidFeePerHourInYen         = 10004
	CodeInvalidAcceptRequest           = 10005
)

// AwaitingPayment holds a consultation whose fee is authorized on the payment
// platform but not yet confirmed received.
type AwaitingPayment struct {
	ConsultationID              int64     `json:"consultationId"`
	ChargeID                    string    `json:"chargeId"`
	FeePerHourInYen             int32     `json:"feePerHourInYen"`
	PlatformFeeRateInPercentage int32     `json:"platformFeeRateInPercentage"`
	CreditFacilitiesExpiredAt   time.Time `json:"creditFacilitiesExpiredAt"`
	CreatedAt                   time.Time `json:"createdAt"`
}

// AwaitingWithdrawal holds a consultant's earned reward pending bank transfer.
type AwaitingWithdrawal struct {
	ConsultationID              int64     `json:"consultationId"`
	ChargeID                    string    `json:"chargeId"`
	FeePerHourInYen             int32     `json:"feePerHourInYen"`
	PlatformFeeRateInPercentage int32     `json:"platformFeeRateInPercentage"`
	PaymentConfirmedBy          int64     `json:"paymentConfirmedBy"` // admin account ID
	CreatedAt                   time.Time `json:"createdAt"`
}

// RewardInYen is the consultant's share after the platform's cut.
func (a *AwaitingWithdrawal) RewardInYen() int32 {
	return a.FeePerHourInYen * (100 - a.PlatformFeeRateInPercentage) / 100
}

// StoppedSettlement is a settlement explicitly halted by an admin before the
// charge's credit-hold window expired.
type StoppedSettlement struct {
	SettlementID                int64     `json:"settlementId"` // assigned on insert
	ConsultationID              int64     `json:"consultationId"`
	ChargeID                    string    `json:"chargeId"`
	FeePerHourInYen             int32     `json:"feePerHourInYen"`
	PlatformFeeRateInPercentage int32     `json:"platformFeeRateInPercentage"`
	CreditFacilitiesExpiredAt   time.Time `json:"creditFacilitiesExpiredAt"`
	StoppedBy                   int64     `json:"stoppedBy"`
	StoppedAt                   time.Time `json:"stoppedAt"`
}

// NeglectedPayment is the terminal record for a consultation whose payment was
// never completed.
type NeglectedPayment struct {
	ConsultationID     int64     `json:"consultationId"`
	ChargeID           string    `json:"chargeId"`
	FeePerHourInYen    int32     `json:"feePerHourInYen"`
	NeglectConfirmedBy int64     `json:"neglectConfirmedBy"`
	CreatedAt          time.Time `json:"createdAt"`
}

// RefundedPayment is the terminal record for a refunded consultation fee.
// TransferredFrom names the lifecycle stage the refund was issued from.
type RefundedPayment struct {
	ConsultationID              int64     `json:"consultationId"`
	ChargeID                    string    `json:"chargeId"`
	FeePerHourInYen             int32     `json:"feePerHourInYen"`
	PlatformFeeRateInPercentage int32     `json:"platformFeeRateInPercentage"`
	TransferredFrom             string    `json:"transferredFrom"`
	RefundConfirmedBy           int64     `json:"refundConfirmedBy"`
	CreatedAt                   time.Time `json:"createdAt"`
}

// LeftAwaitingWithdrawal is the terminal record for a reward paid out to the
// consultant's bank account.
type LeftAwaitingWithdrawal struct {
	ConsultationID              int64     `json:"consultationId"`
	ChargeID                    string    `json:"chargeId"`
	FeePerHourInYen             int32     `json:"feePerHourInYen"`
	PlatformFeeRateInPercentage int32     `json:"platformFeeRateInPercentage"`
	PaymentConfirmedBy          int64     `json:"paymentConfirmedBy"`
	PayoutConfirmedBy           int64     `json:"payoutConfirmedBy"`
	CreatedAt                   time.Time `json:"createdAt"`
}

// UserAccount is the slice of an account row the settlement core reads: it is
// only ever locked FOR SHARE to confirm the account still exists.
type UserAccount struct {
	UserAccountID int64     `json:"userAccountId"`
	EmailAddress  string    `json:"emailAddress"`
	CreatedAt     time.Time `json:"createdAt"`
}

// BankAccount is a consultant's payout destination, referenced only at
// withdrawal time.
type BankAccount struct {
	UserAccountID     int64  `json:"userAccountId"`
	BankCode          string `json:"bankCode"`
	BranchCode        string `json:"branchCode"`
	AccountType       string `json:"accountType"`
	AccountNumber     string `json:"accountNumber"`
	AccountHolderName string `json:"accountHolderName"`
}

// Tx is the set of operations available inside one settlement transaction.
// ForUpdate methods take exclusive row locks (the row will be deleted in the
// same transaction); ForShare methods take shared locks that allow concurrent
// readers while blocking a concurrent account deletion. All return ErrNotFound
// (or ErrAccountNotFound / ErrBankAccountNotFound) when the row is absent
// after lock acquisition.
type Tx interface {
	AwaitingPaymentForUpdate(ctx context.Context, consultationID int64) (*AwaitingPayment, error)
	AwaitingWithdrawalForUpdate(ctx context.Context, consultationID int64) (*AwaitingWithdrawal, error)
	StoppedSettlementForUpdate(ctx context.Context, settlementID int64) (*StoppedSettlement, error)

	UserAccountForShare(ctx context.Context, userAccountID int64) (*UserAccount, error)
	BankAccountForShare(ctx context.Context, userAccountID int64) (*BankAccount, error)
	ConsultationForShare(ctx context.Context, consultationID int64) (*consultation.Consultation, error)

	// InsertConsultation assigns ConsultationID.
	InsertConsultation(ctx context.Context, c *consultation.Consultation) error
	InsertAwaitingPayment(ctx context.Context, a *AwaitingPayment) error
	InsertAwaitingWithdrawal(ctx context.Context, a *AwaitingWithdrawal) error
	// InsertStoppedSettlement assigns SettlementID.
	InsertStoppedSettlement(ctx context.Context, s *StoppedSettlement) error
	InsertNeglectedPayment(ctx context.Context, n *NeglectedPayment) error
	InsertRefundedPayment(ctx context.Context, r *RefundedPayment) error
	InsertLeftAwaitingWithdrawal(ctx context.Context, l *LeftAwaitingWithdrawal) error

	DeleteAwaitingPayment(ctx context.Context, consultationID int64) error
	DeleteAwaitingWithdrawal(ctx context.Context, consultationID int64) error
	DeleteStoppedSettlement(ctx context.Context, settlementID int64) error
}

// Store persists settlement data. InTx runs fn inside one transaction,
// committing on nil return and rolling back otherwise. The listing methods
// are lock-free reads for the admin back office.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ListAwaitingPayments(ctx context.Context, limit, offset int) ([]*AwaitingPayment, error)
	ListAwaitingWithdrawals(ctx context.Context, limit, offset int) ([]*AwaitingWithdrawal, error)
	// ListNeglectCandidates returns awaiting payments whose consultation
	// meeting happened before the given time, oldest meeting first.
	ListNeglectCandidates(ctx context.Context, meetingBefore time.Time, limit int) ([]*AwaitingPayment, error)
}
