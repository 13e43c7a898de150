package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
)

// PostgresStore persists settlement data in PostgreSQL. Row-level locking
// (SELECT ... FOR UPDATE / FOR SHARE) serializes concurrent admin actions on
// the same consultation; transitions on different consultations proceed
// independently.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn inside one transaction. Row locks taken by fn are held until
// commit or rollback.
func (p *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type postgresTx struct {
	tx *sql.Tx
}

const awaitingPaymentColumns = `consultation_id, charge_id, fee_per_hour_in_yen,
	       platform_fee_rate_in_percentage, credit_facilities_expired_at, created_at`

func (t *postgresTx) AwaitingPaymentForUpdate(ctx context.Context, consultationID int64) (*AwaitingPayment, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+awaitingPaymentColumns+` FROM awaiting_payments
		 WHERE consultation_id = $1 FOR UPDATE`, consultationID)

	a := &AwaitingPayment{}
	err := row.Scan(&a.ConsultationID, &a.ChargeID, &a.FeePerHourInYen,
		&a.PlatformFeeRateInPercentage, &a.CreditFacilitiesExpiredAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (t *postgresTx) AwaitingWithdrawalForUpdate(ctx context.Context, consultationID int64) (*AwaitingWithdrawal, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT consultation_id, charge_id, fee_per_hour_in_yen,
		       platform_fee_rate_in_percentage, payment_confirmed_by, created_at
		FROM awaiting_withdrawals
		WHERE consultation_id = $1 FOR UPDATE`, consultationID)

	a := &AwaitingWithdrawal{}
	err := row.Scan(&a.ConsultationID, &a.ChargeID, &a.FeePerHourInYen,
		&a.PlatformFeeRateInPercentage, &a.PaymentConfirmedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func (t *postgresTx) StoppedSettlementForUpdate(ctx context.Context, settlementID int64) (*StoppedSettlement, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT settlement_id, consultation_id, charge_id, fee_per_hour_in_yen,
		       platform_fee_rate_in_percentage, credit_facilities_expired_at,
		       stopped_by, stopped_at
		FROM stopped_settlements
		WHERE settlement_id = $1 FOR UPDATE`, settlementID)

	s := &StoppedSettlement{}
	err := row.Scan(&s.SettlementID, &s.ConsultationID, &s.ChargeID, &s.FeePerHourInYen,
		&s.PlatformFeeRateInPercentage, &s.CreditFacilitiesExpiredAt,
		&s.StoppedBy, &s.StoppedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

func (t *postgresTx) UserAccountForShare(ctx context.Context, userAccountID int64) (*UserAccount, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_account_id, email_address, created_at
		FROM user_accounts
		WHERE user_account_id = $1 FOR SHARE`, userAccountID)

	u := &UserAccount{}
	err := row.Scan(&u.UserAccountID, &u.EmailAddress, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return u, err
}

func (t *postgresTx) BankAccountForShare(ctx context.Context, userAccountID int64) (*BankAccount, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT user_account_id, bank_code, branch_code, account_type,
		       account_number, account_holder_name
		FROM bank_accounts
		WHERE user_account_id = $1 FOR SHARE`, userAccountID)

	b := &BankAccount{}
	err := row.Scan(&b.UserAccountID, &b.BankCode, &b.BranchCode, &b.AccountType,
		&b.AccountNumber, &b.AccountHolderName)
	if err == sql.ErrNoRows {
		return nil, ErrBankAccountNotFound
	}
	return b, err
}

func (t *postgresTx) ConsultationForShare(ctx context.Context, consultationID int64) (*consultation.Consultation, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT consultation_id, user_account_id, consultant_id, meeting_at,
		       room_name, user_entered_at, consultant_entered_at
		FROM consultations
		WHERE consultation_id = $1 FOR SHARE`, consultationID)

	c := &consultation.Consultation{}
	var userEnteredAt, consultantEnteredAt sql.NullTime
	err := row.Scan(&c.ConsultationID, &c.UserAccountID, &c.ConsultantID, &c.MeetingAt,
		&c.RoomName, &userEnteredAt, &consultantEnteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if userEnteredAt.Valid {
		c.UserEnteredAt = &userEnteredAt.Time
	}
	if consultantEnteredAt.Valid {
		c.ConsultantEnteredAt = &consultantEnteredAt.Time
	}
	return c, nil
}

func (t *postgresTx) InsertConsultation(ctx context.Context, c *consultation.Consultation) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO consultations (user_account_id, consultant_id, meeting_at, room_name)
		VALUES ($1, $2, $3, $4)
		RETURNING consultation_id`,
		c.UserAccountID, c.ConsultantID, c.MeetingAt, c.RoomName,
	).Scan(&c.ConsultationID)
}

func (t *postgresTx) InsertAwaitingPayment(ctx context.Context, a *AwaitingPayment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO awaiting_payments (`+awaitingPaymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ConsultationID, a.ChargeID, a.FeePerHourInYen,
		a.PlatformFeeRateInPercentage, a.CreditFacilitiesExpiredAt, a.CreatedAt,
	)
	return err
}

func (t *postgresTx) InsertAwaitingWithdrawal(ctx context.Context, a *AwaitingWithdrawal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO awaiting_withdrawals (
			consultation_id, charge_id, fee_per_hour_in_yen,
			platform_fee_rate_in_percentage, payment_confirmed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ConsultationID, a.ChargeID, a.FeePerHourInYen,
		a.PlatformFeeRateInPercentage, a.PaymentConfirmedBy, a.CreatedAt,
	)
	return err
}

func (t *postgresTx) InsertStoppedSettlement(ctx context.Context, s *StoppedSettlement) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO stopped_settlements (
			consultation_id, charge_id, fee_per_hour_in_yen,
			platform_fee_rate_in_percentage, credit_facilities_expired_at,
			stopped_by, stopped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING settlement_id`,
		s.ConsultationID, s.ChargeID, s.FeePerHourInYen,
		s.PlatformFeeRateInPercentage, s.CreditFacilitiesExpiredAt,
		s.StoppedBy, s.StoppedAt,
	).Scan(&s.SettlementID)
}

func (t *postgresTx) InsertNeglectedPayment(ctx context.Context, n *NeglectedPayment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO neglected_payments (
			consultation_id, charge_id, fee_per_hour_in_yen,
			neglect_confirmed_by, created_at
		) VALUES ($1, $2, $3, $4, $5)`,
		n.ConsultationID, n.ChargeID, n.FeePerHourInYen,
		n.NeglectConfirmedBy, n.CreatedAt,
	)
	return err
}

func (t *postgresTx) InsertRefundedPayment(ctx context.Context, r *RefundedPayment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunded_payments (
			consultation_id, charge_id, fee_per_hour_in_yen,
			platform_fee_rate_in_percentage, transferred_from,
			refund_confirmed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ConsultationID, r.ChargeID, r.FeePerHourInYen,
		r.PlatformFeeRateInPercentage, r.TransferredFrom,
		r.RefundConfirmedBy, r.CreatedAt,
	)
	return err
}

func (t *postgresTx) InsertLeftAwaitingWithdrawal(ctx context.Context, l *LeftAwaitingWithdrawal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO left_awaiting_withdrawals (
			consultation_id, charge_id, fee_per_hour_in_yen,
			platform_fee_rate_in_percentage, payment_confirmed_by,
			payout_confirmed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ConsultationID, l.ChargeID, l.FeePerHourInYen,
		l.PlatformFeeRateInPercentage, l.PaymentConfirmedBy,
		l.PayoutConfirmedBy, l.CreatedAt,
	)
	return err
}

func (t *postgresTx) DeleteAwaitingPayment(ctx context.Context, consultationID int64) error {
	return t.deleteOne(ctx,
		`DELETE FROM awaiting_payments WHERE consultation_id = $1`, consultationID)
}

func (t *postgresTx) DeleteAwaitingWithdrawal(ctx context.Context, consultationID int64) error {
	return t.deleteOne(ctx,
		`DELETE FROM awaiting_withdrawals WHERE consultation_id = $1`, consultationID)
}

func (t *postgresTx) DeleteStoppedSettlement(ctx context.Context, settlementID int64) error {
	return t.deleteOne(ctx,
		`DELETE FROM stopped_settlements WHERE settlement_id = $1`, settlementID)
}

func (t *postgresTx) deleteOne(ctx context.Context, query string, id int64) error {
	result, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListAwaitingPayments(ctx context.Context, limit, offset int) ([]*AwaitingPayment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+awaitingPaymentColumns+`
		FROM awaiting_payments
		ORDER BY created_at ASC, consultation_id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AwaitingPayment
	for rows.Next() {
		a := &AwaitingPayment{}
		if err := rows.Scan(&a.ConsultationID, &a.ChargeID, &a.FeePerHourInYen,
			&a.PlatformFeeRateInPercentage, &a.CreditFacilitiesExpiredAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListAwaitingWithdrawals(ctx context.Context, limit, offset int) ([]*AwaitingWithdrawal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT consultation_id, charge_id, fee_per_hour_in_yen,
		       platform_fee_rate_in_percentage, payment_confirmed_by, created_at
		FROM awaiting_withdrawals
		ORDER BY created_at ASC, consultation_id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AwaitingWithdrawal
	for rows.Next() {
		a := &AwaitingWithdrawal{}
		if err := rows.Scan(&a.ConsultationID, &a.ChargeID, &a.FeePerHourInYen,
			&a.PlatformFeeRateInPercentage, &a.PaymentConfirmedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListNeglectCandidates(ctx context.Context, meetingBefore time.Time, limit int) ([]*AwaitingPayment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ap.consultation_id, ap.charge_id, ap.fee_per_hour_in_yen,
		       ap.platform_fee_rate_in_percentage, ap.credit_facilities_expired_at, ap.created_at
		FROM awaiting_payments ap
		JOIN consultations c ON c.consultation_id = ap.consultation_id
		WHERE c.meeting_at < $1
		ORDER BY c.meeting_at ASC
		LIMIT $2`, meetingBefore, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AwaitingPayment
	for rows.Next() {
		a := &AwaitingPayment{}
		if err := rows.Scan(&a.ConsultationID, &a.ChargeID, &a.FeePerHourInYen,
			&a.PlatformFeeRateInPercentage, &a.CreditFacilitiesExpiredAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Compile-time assertions.
var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
