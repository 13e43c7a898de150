//go:build integration

package settlement

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
	"github.com/Ken-Miura/career-change-supporter-sub006/internal/testutil"
)

func seedAccounts(t *testing.T, db *sql.DB) (userID, consultantID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO user_accounts (email_address) VALUES ($1) RETURNING user_account_id`,
		"user@example.com").Scan(&userID))
	require.NoError(t, db.QueryRowContext(ctx,
		`INSERT INTO user_accounts (email_address) VALUES ($1) RETURNING user_account_id`,
		"consultant@example.com").Scan(&consultantID))
	_, err := db.ExecContext(ctx, `
		INSERT INTO bank_accounts (user_account_id, bank_code, branch_code,
			account_type, account_number, account_holder_name)
		VALUES ($1, '0001', '001', 'ordinary', '1234567', 'consultant')`, consultantID)
	require.NoError(t, err)
	return userID, consultantID
}

func seedAwaitingPayment(t *testing.T, store *PostgresStore, userID, consultantID int64) int64 {
	t.Helper()
	ctx := context.Background()
	c := &consultation.Consultation{
		UserAccountID: userID,
		ConsultantID:  consultantID,
		MeetingAt:     time.Now().Add(24 * time.Hour),
		RoomName:      consultation.NewRoomName(),
	}
	err := store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertConsultation(ctx, c); err != nil {
			return err
		}
		return tx.InsertAwaitingPayment(ctx, &AwaitingPayment{
			ConsultationID:              c.ConsultationID,
			ChargeID:                    "ch_pg",
			FeePerHourInYen:             5000,
			PlatformFeeRateInPercentage: 30,
			CreditFacilitiesExpiredAt:   time.Now().Add(59 * 24 * time.Hour),
			CreatedAt:                   time.Now(),
		})
	})
	require.NoError(t, err)
	return c.ConsultationID
}

func TestPostgresLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	userID, consultantID := seedAccounts(t, db)
	id := seedAwaitingPayment(t, store, userID, consultantID)
	ctx := context.Background()

	// Move to awaiting withdrawal the way a confirmation does.
	err := store.InTx(ctx, func(tx Tx) error {
		ap, err := tx.AwaitingPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.UserAccountForShare(ctx, consultantID); err != nil {
			return err
		}
		if err := tx.DeleteAwaitingPayment(ctx, id); err != nil {
			return err
		}
		return tx.InsertAwaitingWithdrawal(ctx, &AwaitingWithdrawal{
			ConsultationID:              ap.ConsultationID,
			ChargeID:                    ap.ChargeID,
			FeePerHourInYen:             ap.FeePerHourInYen,
			PlatformFeeRateInPercentage: ap.PlatformFeeRateInPercentage,
			PaymentConfirmedBy:          1,
			CreatedAt:                   time.Now(),
		})
	})
	require.NoError(t, err)

	// The source row is gone; a replay fails inside the transaction.
	err = store.InTx(ctx, func(tx Tx) error {
		_, err := tx.AwaitingPaymentForUpdate(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.InTx(ctx, func(tx Tx) error {
		aw, err := tx.AwaitingWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, "ch_pg", aw.ChargeID)
		_, err = tx.BankAccountForShare(ctx, consultantID)
		return err
	})
	require.NoError(t, err)
}

func TestPostgresRollbackOnError(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	userID, consultantID := seedAccounts(t, db)
	id := seedAwaitingPayment(t, store, userID, consultantID)
	ctx := context.Background()

	boom := errors.New("platform down")
	err := store.InTx(ctx, func(tx Tx) error {
		if err := tx.DeleteAwaitingPayment(ctx, id); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The delete was rolled back.
	err = store.InTx(ctx, func(tx Tx) error {
		_, err := tx.AwaitingPaymentForUpdate(ctx, id)
		return err
	})
	assert.NoError(t, err)
}

func TestPostgresStoppedSettlementAssignsID(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	userID, consultantID := seedAccounts(t, db)
	id := seedAwaitingPayment(t, store, userID, consultantID)
	ctx := context.Background()

	ss := &StoppedSettlement{
		ConsultationID:              id,
		ChargeID:                    "ch_pg",
		FeePerHourInYen:             5000,
		PlatformFeeRateInPercentage: 30,
		CreditFacilitiesExpiredAt:   time.Now().Add(time.Hour),
		StoppedBy:                   1,
		StoppedAt:                   time.Now(),
	}
	err := store.InTx(ctx, func(tx Tx) error {
		if err := tx.DeleteAwaitingPayment(ctx, id); err != nil {
			return err
		}
		return tx.InsertStoppedSettlement(ctx, ss)
	})
	require.NoError(t, err)
	require.Positive(t, ss.SettlementID)

	err = store.InTx(ctx, func(tx Tx) error {
		got, err := tx.StoppedSettlementForUpdate(ctx, ss.SettlementID)
		if err != nil {
			return err
		}
		assert.Equal(t, id, got.ConsultationID)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresRowLockSerializesDecisions(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	userID, consultantID := seedAccounts(t, db)
	id := seedAwaitingPayment(t, store, userID, consultantID)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)

	go func() {
		first <- store.InTx(ctx, func(tx Tx) error {
			if _, err := tx.AwaitingPaymentForUpdate(ctx, id); err != nil {
				return err
			}
			close(locked)
			<-release
			if err := tx.DeleteAwaitingPayment(ctx, id); err != nil {
				return err
			}
			return tx.InsertNeglectedPayment(ctx, &NeglectedPayment{
				ConsultationID:     id,
				ChargeID:           "ch_pg",
				FeePerHourInYen:    5000,
				NeglectConfirmedBy: 1,
				CreatedAt:          time.Now(),
			})
		})
	}()

	<-locked
	// The second transaction blocks on the row lock until the first commits,
	// then finds the row gone.
	second := make(chan error, 1)
	go func() {
		second <- store.InTx(ctx, func(tx Tx) error {
			_, err := tx.AwaitingPaymentForUpdate(ctx, id)
			return err
		})
	}()

	select {
	case err := <-second:
		t.Fatalf("second transaction finished while lock held: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, ErrNotFound)

	var terminal int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM neglected_payments WHERE consultation_id = $1`, id).Scan(&terminal))
	assert.Equal(t, 1, terminal)
}

func TestPostgresListNeglectCandidates(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	userID, consultantID := seedAccounts(t, db)
	ctx := context.Background()

	insert := func(meetingAt time.Time) int64 {
		c := &consultation.Consultation{
			UserAccountID: userID,
			ConsultantID:  consultantID,
			MeetingAt:     meetingAt,
			RoomName:      consultation.NewRoomName(),
		}
		err := store.InTx(ctx, func(tx Tx) error {
			if err := tx.InsertConsultation(ctx, c); err != nil {
				return err
			}
			return tx.InsertAwaitingPayment(ctx, &AwaitingPayment{
				ConsultationID:              c.ConsultationID,
				ChargeID:                    consultation.NewRoomName(),
				FeePerHourInYen:             5000,
				PlatformFeeRateInPercentage: 30,
				CreditFacilitiesExpiredAt:   time.Now().Add(time.Hour),
				CreatedAt:                   time.Now(),
			})
		})
		require.NoError(t, err)
		return c.ConsultationID
	}

	oldID := insert(time.Now().Add(-30 * 24 * time.Hour))
	insert(time.Now().Add(24 * time.Hour))

	items, err := store.ListNeglectCandidates(ctx, time.Now().Add(-14*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, oldID, items[0].ConsultationID)
}
