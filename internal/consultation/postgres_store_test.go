//go:build integration

package consultation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/testutil"
)

func seedPG(t *testing.T, db *sql.DB) (store *PostgresStore, consultationID, consultantID int64) {
	t.Helper()
	ctx := context.Background()

	var userID int64
	if err := db.QueryRowContext(ctx,
		`INSERT INTO user_accounts (email_address) VALUES ('user@example.com') RETURNING user_account_id`,
	).Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := db.QueryRowContext(ctx,
		`INSERT INTO user_accounts (email_address) VALUES ('consultant@example.com') RETURNING user_account_id`,
	).Scan(&consultantID); err != nil {
		t.Fatalf("seed consultant: %v", err)
	}
	if err := db.QueryRowContext(ctx, `
		INSERT INTO consultations (user_account_id, consultant_id, meeting_at, room_name)
		VALUES ($1, $2, $3, $4) RETURNING consultation_id`,
		userID, consultantID, time.Now().Add(24*time.Hour), NewRoomName(),
	).Scan(&consultationID); err != nil {
		t.Fatalf("seed consultation: %v", err)
	}
	return NewPostgresStore(db), consultationID, consultantID
}

func TestPostgresRecordEntry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store, id, _ := seedPG(t, db)
	ctx := context.Background()

	if err := store.RecordUserEntry(ctx, id, time.Now()); err != nil {
		t.Fatalf("record entry: %v", err)
	}
	if err := store.RecordUserEntry(ctx, id, time.Now()); !errors.Is(err, ErrAlreadyEntered) {
		t.Fatalf("second entry: got %v, want ErrAlreadyEntered", err)
	}
	if err := store.RecordUserEntry(ctx, id+100, time.Now()); !errors.Is(err, ErrConsultationNotFound) {
		t.Fatalf("missing consultation: got %v, want ErrConsultationNotFound", err)
	}

	c, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.UserEnteredAt == nil {
		t.Fatal("user entry timestamp not persisted")
	}
	if c.ConsultantEnteredAt != nil {
		t.Fatal("consultant entry should be untouched")
	}
}

func TestPostgresListByConsultant(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store, id, consultantID := seedPG(t, db)
	ctx := context.Background()

	items, err := store.ListByConsultant(ctx, consultantID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ConsultationID != id {
		t.Fatalf("unexpected listing: %+v", items)
	}
}
