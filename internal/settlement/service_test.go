package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/platform"
)

const (
	testUserID       = 10
	testConsultantID = 20
	testAdminID      = 99
)

type fixture struct {
	store  *MemoryStore
	client *platform.MockClient
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	store.PutUserAccount(&UserAccount{UserAccountID: testUserID, EmailAddress: "user@example.com"})
	store.PutUserAccount(&UserAccount{UserAccountID: testConsultantID, EmailAddress: "consultant@example.com"})
	store.PutBankAccount(&BankAccount{
		UserAccountID:     testConsultantID,
		BankCode:          "0001",
		BranchCode:        "001",
		AccountType:       "ordinary",
		AccountNumber:     "1234567",
		AccountHolderName: "consultant",
	})
	client := platform.NewMockClient()
	return &fixture{
		store:  store,
		client: client,
		svc:    NewService(store, client, 30, 59*24*time.Hour, 14*24*time.Hour),
	}
}

// accept seeds a charge and runs the acceptance flow, returning the new
// consultation's ID.
func (f *fixture) accept(t *testing.T, chargeID string, expiredAt time.Time) int64 {
	t.Helper()
	f.client.Put(&platform.Charge{
		ID:        chargeID,
		Amount:    5000,
		Currency:  "jpy",
		ExpiredAt: expiredAt,
	})
	c, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    testConsultantID,
		FeePerHourInYen: 5000,
		MeetingAt:       time.Now().Add(7 * 24 * time.Hour),
		ChargeID:        chargeID,
	})
	require.NoError(t, err)
	require.Positive(t, c.ConsultationID)
	return c.ConsultationID
}

func TestAcceptRequestCreatesAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	expiry := time.Now().Add(59 * 24 * time.Hour)
	id := f.accept(t, "ch_1", expiry)

	ap, ok := f.store.GetAwaitingPayment(id)
	require.True(t, ok)
	assert.Equal(t, "ch_1", ap.ChargeID)
	assert.Equal(t, int32(5000), ap.FeePerHourInYen)
	assert.Equal(t, int32(30), ap.PlatformFeeRateInPercentage)
	assert.True(t, ap.CreditFacilitiesExpiredAt.Equal(expiry))
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
}

func TestAcceptRequestFallsBackToCaptureWindow(t *testing.T) {
	f := newFixture(t)
	// Platform did not report an expiry for this charge.
	id := f.accept(t, "ch_1", time.Time{})

	ap, ok := f.store.GetAwaitingPayment(id)
	require.True(t, ok)
	want := time.Now().Add(59 * 24 * time.Hour)
	assert.WithinDuration(t, want, ap.CreditFacilitiesExpiredAt, time.Minute)
}

func TestAcceptRequestRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	f.client.Put(&platform.Charge{ID: "ch_bad", Amount: 4000, ExpiredAt: time.Now().Add(time.Hour)})

	_, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    testConsultantID,
		FeePerHourInYen: 5000,
		MeetingAt:       time.Now().Add(24 * time.Hour),
		ChargeID:        "ch_bad",
	})
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestAcceptRequestRejectsOutOfRangeFee(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    testConsultantID,
		FeePerHourInYen: 100,
		ChargeID:        "ch_x",
	})
	assert.ErrorIs(t, err, ErrInvalidFee)
	assert.Empty(t, f.client.Calls, "platform should not be called for invalid fees")
}

func TestAcceptRequestMissingAccountLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.store.DeleteUserAccount(testConsultantID)
	f.client.Put(&platform.Charge{ID: "ch_1", Amount: 5000, ExpiredAt: time.Now().Add(time.Hour)})

	_, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    testConsultantID,
		FeePerHourInYen: 5000,
		MeetingAt:       time.Now().Add(24 * time.Hour),
		ChargeID:        "ch_1",
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConfirmPaymentMovesToAwaitingWithdrawal(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), id, testAdminID))

	_, ok := f.store.GetAwaitingPayment(id)
	assert.False(t, ok, "awaiting payment should be deleted")
	aw, ok := f.store.GetAwaitingWithdrawal(id)
	require.True(t, ok)
	assert.Equal(t, int64(testAdminID), aw.PaymentConfirmedBy)
	assert.Equal(t, int32(3500), aw.RewardInYen())
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
	assert.Contains(t, f.client.Calls, "capture ch_1")
}

func TestConfirmPaymentReplayFails(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))

	require.NoError(t, f.svc.ConfirmPayment(context.Background(), id, testAdminID))
	err := f.svc.ConfirmPayment(context.Background(), id, testAdminID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
}

func TestConfirmPaymentPlatformFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	f.client.FailWith(&platform.Error{Status: 500, Code: "server_error", Message: "boom"})

	err := f.svc.ConfirmPayment(context.Background(), id, testAdminID)
	require.Error(t, err)

	ap, ok := f.store.GetAwaitingPayment(id)
	require.True(t, ok, "awaiting payment must survive a failed capture")
	assert.Equal(t, "ch_1", ap.ChargeID)
	_, ok = f.store.GetAwaitingWithdrawal(id)
	assert.False(t, ok)
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
}

func TestNeglectPaymentArchivesWithoutPlatformCall(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	callsAfterAccept := len(f.client.Calls)

	require.NoError(t, f.svc.NeglectPayment(context.Background(), id, testAdminID))

	assert.Len(t, f.client.Calls, callsAfterAccept, "neglect must not touch the platform")
	assert.Equal(t, 0, f.store.LiveRecordCount(id))
	nps := f.store.NeglectedPayments()
	require.Len(t, nps, 1)
	assert.Equal(t, id, nps[0].ConsultationID)
	assert.Equal(t, int64(testAdminID), nps[0].NeglectConfirmedBy)
}

func TestRefundAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))

	require.NoError(t, f.svc.RefundAwaitingPayment(context.Background(), id, testAdminID))

	assert.Contains(t, f.client.Calls, "refund ch_1")
	assert.Equal(t, 0, f.store.LiveRecordCount(id))
	rps := f.store.RefundedPayments()
	require.Len(t, rps, 1)
	assert.Equal(t, "awaiting_payment", rps[0].TransferredFrom)
}

func TestRefundAwaitingPaymentRequiresUserAccount(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	f.store.DeleteUserAccount(testUserID)

	err := f.svc.RefundAwaitingPayment(context.Background(), id, testAdminID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
	assert.Empty(t, f.store.RefundedPayments())
}

func TestStopSettlementAndResume(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))

	settlementID, err := f.svc.StopSettlement(context.Background(), id, testAdminID)
	require.NoError(t, err)
	require.Positive(t, settlementID)

	_, ok := f.store.GetAwaitingPayment(id)
	assert.False(t, ok)
	ss, ok := f.store.GetStoppedSettlement(settlementID)
	require.True(t, ok)
	assert.Equal(t, id, ss.ConsultationID)
	assert.Equal(t, int64(testAdminID), ss.StoppedBy)
	assert.Equal(t, 1, f.store.LiveRecordCount(id))

	// A stopped settlement cannot be confirmed.
	err = f.svc.ConfirmPayment(context.Background(), id, testAdminID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.ResumeStoppedSettlement(context.Background(), settlementID, testAdminID))
	_, ok = f.store.GetStoppedSettlement(settlementID)
	assert.False(t, ok)
	ap, ok := f.store.GetAwaitingPayment(id)
	require.True(t, ok)
	assert.Equal(t, "ch_1", ap.ChargeID)

	// Resumed settlements flow through confirmation normally.
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), id, testAdminID))
	_, ok = f.store.GetAwaitingWithdrawal(id)
	assert.True(t, ok)
}

func TestStopSettlementRejectsExpiredCreditFacilities(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(-time.Minute))

	_, err := f.svc.StopSettlement(context.Background(), id, testAdminID)
	assert.ErrorIs(t, err, ErrCreditFacilitiesExpired)
	_, ok := f.store.GetAwaitingPayment(id)
	assert.True(t, ok, "record must stay in place when stop is rejected")
}

func TestRefundStoppedSettlement(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	settlementID, err := f.svc.StopSettlement(context.Background(), id, testAdminID)
	require.NoError(t, err)

	require.NoError(t, f.svc.RefundStoppedSettlement(context.Background(), settlementID, testAdminID))

	assert.Equal(t, 0, f.store.LiveRecordCount(id))
	rps := f.store.RefundedPayments()
	require.Len(t, rps, 1)
	assert.Equal(t, "stopped_settlement", rps[0].TransferredFrom)
	assert.Contains(t, f.client.Calls, "refund ch_1")
}

func TestPayWithdrawal(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), id, testAdminID))

	require.NoError(t, f.svc.PayWithdrawal(context.Background(), id, 100))

	assert.Equal(t, 0, f.store.LiveRecordCount(id))
	lws := f.store.LeftAwaitingWithdrawals()
	require.Len(t, lws, 1)
	assert.Equal(t, int64(testAdminID), lws[0].PaymentConfirmedBy)
	assert.Equal(t, int64(100), lws[0].PayoutConfirmedBy)
}

func TestPayWithdrawalRequiresBankAccount(t *testing.T) {
	f := newFixture(t)
	// Consultant 30 never registered a bank account.
	f.store.PutUserAccount(&UserAccount{UserAccountID: 30, EmailAddress: "nobank@example.com"})
	f.client.Put(&platform.Charge{ID: "ch_2", Amount: 5000, ExpiredAt: time.Now().Add(time.Hour)})
	c, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    30,
		FeePerHourInYen: 5000,
		MeetingAt:       time.Now().Add(24 * time.Hour),
		ChargeID:        "ch_2",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), c.ConsultationID, testAdminID))

	err = f.svc.PayWithdrawal(context.Background(), c.ConsultationID, testAdminID)
	assert.ErrorIs(t, err, ErrBankAccountNotFound)
	_, ok := f.store.GetAwaitingWithdrawal(c.ConsultationID)
	assert.True(t, ok, "withdrawal hold must survive a rejected payout")
}

func TestRefundAwaitingWithdrawal(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	require.NoError(t, f.svc.ConfirmPayment(context.Background(), id, testAdminID))

	require.NoError(t, f.svc.RefundAwaitingWithdrawal(context.Background(), id, testAdminID))

	assert.Equal(t, 0, f.store.LiveRecordCount(id))
	rps := f.store.RefundedPayments()
	require.Len(t, rps, 1)
	assert.Equal(t, "awaiting_withdrawal", rps[0].TransferredFrom)
}

func TestConcurrentDecisionsOnSameRecord(t *testing.T) {
	f := newFixture(t)
	id := f.accept(t, "ch_1", time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = f.svc.ConfirmPayment(context.Background(), id, testAdminID)
	}()
	go func() {
		defer wg.Done()
		errs[1] = f.svc.RefundAwaitingPayment(context.Background(), id, testAdminID)
	}()
	wg.Wait()

	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if errors.Is(err, ErrNotFound) {
			failed++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one decision must win")
	assert.Equal(t, 1, failed, "the loser must see a missing record")
	assert.Equal(t, 1, f.store.LiveRecordCount(id))
}

func TestListAwaitingPaymentsOldestFirst(t *testing.T) {
	f := newFixture(t)
	id1 := f.accept(t, "ch_1", time.Now().Add(time.Hour))
	time.Sleep(2 * time.Millisecond)
	id2 := f.accept(t, "ch_2", time.Now().Add(time.Hour))

	items, err := f.svc.ListAwaitingPayments(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, id1, items[0].ConsultationID)
	assert.Equal(t, id2, items[1].ConsultationID)
}

func TestListNeglectCandidates(t *testing.T) {
	f := newFixture(t)

	// Meeting far in the past: well beyond the neglect window.
	f.client.Put(&platform.Charge{ID: "ch_old", Amount: 5000, ExpiredAt: time.Now().Add(time.Hour)})
	old, err := f.svc.AcceptRequest(context.Background(), AcceptRequestInput{
		UserAccountID:   testUserID,
		ConsultantID:    testConsultantID,
		FeePerHourInYen: 5000,
		MeetingAt:       time.Now().Add(-30 * 24 * time.Hour),
		ChargeID:        "ch_old",
	})
	require.NoError(t, err)

	// Recent meeting: inside the window, not a candidate.
	f.accept(t, "ch_new", time.Now().Add(time.Hour))

	items, err := f.svc.ListNeglectCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, old.ConsultationID, items[0].ConsultationID)
}
