package consultation

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists consultations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed consultation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consultationColumns = `consultation_id, user_account_id, consultant_id, meeting_at,
	       room_name, user_entered_at, consultant_entered_at`

func (p *PostgresStore) Get(ctx context.Context, consultationID int64) (*Consultation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+consultationColumns+` FROM consultations WHERE consultation_id = $1`,
		consultationID)

	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, ErrConsultationNotFound
	}
	return c, err
}

func (p *PostgresStore) RecordUserEntry(ctx context.Context, consultationID int64, at time.Time) error {
	return p.recordEntry(ctx, consultationID, at, "user_entered_at")
}

func (p *PostgresStore) RecordConsultantEntry(ctx context.Context, consultationID int64, at time.Time) error {
	return p.recordEntry(ctx, consultationID, at, "consultant_entered_at")
}

// recordEntry sets the column only if still NULL; a second entry is a no-op
// error so the first entry timestamp is never overwritten.
func (p *PostgresStore) recordEntry(ctx context.Context, consultationID int64, at time.Time, column string) error {
	// column is one of two compile-time constants, never user input
	result, err := p.db.ExecContext(ctx,
		`UPDATE consultations SET `+column+` = $1
		 WHERE consultation_id = $2 AND `+column+` IS NULL`,
		at, consultationID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing row from already-recorded entry.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM consultations WHERE consultation_id = $1)`,
			consultationID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrConsultationNotFound
		}
		return ErrAlreadyEntered
	}
	return nil
}

func (p *PostgresStore) ListByConsultant(ctx context.Context, consultantID int64, limit int) ([]*Consultation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE consultant_id = $1
		ORDER BY meeting_at ASC
		LIMIT $2`, consultantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConsultation(s scanner) (*Consultation, error) {
	c := &Consultation{}
	var (
		userEnteredAt       sql.NullTime
		consultantEnteredAt sql.NullTime
	)

	err := s.Scan(
		&c.ConsultationID, &c.UserAccountID, &c.ConsultantID, &c.MeetingAt,
		&c.RoomName, &userEnteredAt, &consultantEnteredAt,
	)
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

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
