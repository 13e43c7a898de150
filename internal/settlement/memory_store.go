package settlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/consultation"
)

// MemoryStore is an in-memory settlement store for demo/development mode and
// unit tests. A single mutex is held for the whole transaction, which gives
// the same observable behavior the row locks give in PostgreSQL: transitions
// on the same consultation serialize, and the loser sees the row already
// gone. Mutations are staged on copies and only published on commit, so a
// failed transaction leaves no trace.
type MemoryStore struct {
	mu sync.Mutex

	nextConsultationID int64
	nextSettlementID   int64

	userAccounts        map[int64]*UserAccount
	bankAccounts        map[int64]*BankAccount
	consultations       map[int64]*consultation.Consultation
	awaitingPayments    map[int64]*AwaitingPayment
	awaitingWithdrawals map[int64]*AwaitingWithdrawal
	stoppedSettlements  map[int64]*StoppedSettlement

	neglectedPayments       []*NeglectedPayment
	refundedPayments        []*RefundedPayment
	leftAwaitingWithdrawals []*LeftAwaitingWithdrawal
}

// NewMemoryStore creates a new in-memory settlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		userAccounts:        make(map[int64]*UserAccount),
		bankAccounts:        make(map[int64]*BankAccount),
		consultations:       make(map[int64]*consultation.Consultation),
		awaitingPayments:    make(map[int64]*AwaitingPayment),
		awaitingWithdrawals: make(map[int64]*AwaitingWithdrawal),
		stoppedSettlements:  make(map[int64]*StoppedSettlement),
	}
}

// PutUserAccount seeds an account.
func (m *MemoryStore) PutUserAccount(u *UserAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.userAccounts[u.UserAccountID] = &cp
}

// DeleteUserAccount removes an account (simulates account deletion).
func (m *MemoryStore) DeleteUserAccount(userAccountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userAccounts, userAccountID)
}

// PutBankAccount seeds a payout destination.
func (m *MemoryStore) PutBankAccount(b *BankAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bankAccounts[b.UserAccountID] = &cp
}

// GetAwaitingPayment reads an awaiting payment without locking (tests).
func (m *MemoryStore) GetAwaitingPayment(consultationID int64) (*AwaitingPayment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.awaitingPayments[consultationID]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// GetAwaitingWithdrawal reads a withdrawal hold without locking (tests).
func (m *MemoryStore) GetAwaitingWithdrawal(consultationID int64) (*AwaitingWithdrawal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.awaitingWithdrawals[consultationID]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// GetStoppedSettlement reads a stopped settlement without locking (tests).
func (m *MemoryStore) GetStoppedSettlement(settlementID int64) (*StoppedSettlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stoppedSettlements[settlementID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// LiveRecordCount counts live rows for one consultation across awaiting
// payments, awaiting withdrawals, and stopped settlements.
func (m *MemoryStore) LiveRecordCount(consultationID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	if _, ok := m.awaitingPayments[consultationID]; ok {
		count++
	}
	if _, ok := m.awaitingWithdrawals[consultationID]; ok {
		count++
	}
	for _, s := range m.stoppedSettlements {
		if s.ConsultationID == consultationID {
			count++
		}
	}
	return count
}

// NeglectedPayments returns the terminal neglect records (tests).
func (m *MemoryStore) NeglectedPayments() []*NeglectedPayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*NeglectedPayment, len(m.neglectedPayments))
	copy(out, m.neglectedPayments)
	return out
}

// RefundedPayments returns the terminal refund records (tests).
func (m *MemoryStore) RefundedPayments() []*RefundedPayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RefundedPayment, len(m.refundedPayments))
	copy(out, m.refundedPayments)
	return out
}

// LeftAwaitingWithdrawals returns the terminal payout records (tests).
func (m *MemoryStore) LeftAwaitingWithdrawals() []*LeftAwaitingWithdrawal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LeftAwaitingWithdrawal, len(m.leftAwaitingWithdrawals))
	copy(out, m.leftAwaitingWithdrawals)
	return out
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		store:               m,
		consultations:       cloneMap(m.consultations),
		awaitingPayments:    cloneMap(m.awaitingPayments),
		awaitingWithdrawals: cloneMap(m.awaitingWithdrawals),
		stoppedSettlements:  cloneMap(m.stoppedSettlements),
		nextConsultationID:  m.nextConsultationID,
		nextSettlementID:    m.nextSettlementID,
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit: publish staged state.
	m.consultations = tx.consultations
	m.awaitingPayments = tx.awaitingPayments
	m.awaitingWithdrawals = tx.awaitingWithdrawals
	m.stoppedSettlements = tx.stoppedSettlements
	m.nextConsultationID = tx.nextConsultationID
	m.nextSettlementID = tx.nextSettlementID
	m.neglectedPayments = append(m.neglectedPayments, tx.neglectedPayments...)
	m.refundedPayments = append(m.refundedPayments, tx.refundedPayments...)
	m.leftAwaitingWithdrawals = append(m.leftAwaitingWithdrawals, tx.leftAwaitingWithdrawals...)
	return nil
}

func cloneMap[K comparable, V any](in map[K]*V) map[K]*V {
	out := make(map[K]*V, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

type memoryTx struct {
	store *MemoryStore

	consultations       map[int64]*consultation.Consultation
	awaitingPayments    map[int64]*AwaitingPayment
	awaitingWithdrawals map[int64]*AwaitingWithdrawal
	stoppedSettlements  map[int64]*StoppedSettlement
	nextConsultationID  int64
	nextSettlementID    int64

	neglectedPayments       []*NeglectedPayment
	refundedPayments        []*RefundedPayment
	leftAwaitingWithdrawals []*LeftAwaitingWithdrawal
}

func (t *memoryTx) AwaitingPaymentForUpdate(ctx context.Context, consultationID int64) (*AwaitingPayment, error) {
	a, ok := t.awaitingPayments[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memoryTx) AwaitingWithdrawalForUpdate(ctx context.Context, consultationID int64) (*AwaitingWithdrawal, error) {
	a, ok := t.awaitingWithdrawals[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memoryTx) StoppedSettlementForUpdate(ctx context.Context, settlementID int64) (*StoppedSettlement, error) {
	s, ok := t.stoppedSettlements[settlementID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *memoryTx) UserAccountForShare(ctx context.Context, userAccountID int64) (*UserAccount, error) {
	u, ok := t.store.userAccounts[userAccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *memoryTx) BankAccountForShare(ctx context.Context, userAccountID int64) (*BankAccount, error) {
	b, ok := t.store.bankAccounts[userAccountID]
	if !ok {
		return nil, ErrBankAccountNotFound
	}
	cp := *b
	return &cp, nil
}

func (t *memoryTx) ConsultationForShare(ctx context.Context, consultationID int64) (*consultation.Consultation, error) {
	c, ok := t.consultations[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *memoryTx) InsertConsultation(ctx context.Context, c *consultation.Consultation) error {
	t.nextConsultationID++
	c.ConsultationID = t.nextConsultationID
	cp := *c
	t.consultations[c.ConsultationID] = &cp
	return nil
}

func (t *memoryTx) InsertAwaitingPayment(ctx context.Context, a *AwaitingPayment) error {
	cp := *a
	t.awaitingPayments[a.ConsultationID] = &cp
	return nil
}

func (t *memoryTx) InsertAwaitingWithdrawal(ctx context.Context, a *AwaitingWithdrawal) error {
	cp := *a
	t.awaitingWithdrawals[a.ConsultationID] = &cp
	return nil
}

func (t *memoryTx) InsertStoppedSettlement(ctx context.Context, s *StoppedSettlement) error {
	t.nextSettlementID++
	s.SettlementID = t.nextSettlementID
	cp := *s
	t.stoppedSettlements[s.SettlementID] = &cp
	return nil
}

func (t *memoryTx) InsertNeglectedPayment(ctx context.Context, n *NeglectedPayment) error {
	cp := *n
	t.neglectedPayments = append(t.neglectedPayments, &cp)
	return nil
}

func (t *memoryTx) InsertRefundedPayment(ctx context.Context, r *RefundedPayment) error {
	cp := *r
	t.refundedPayments = append(t.refundedPayments, &cp)
	return nil
}

func (t *memoryTx) InsertLeftAwaitingWithdrawal(ctx context.Context, l *LeftAwaitingWithdrawal) error {
	cp := *l
	t.leftAwaitingWithdrawals = append(t.leftAwaitingWithdrawals, &cp)
	return nil
}

func (t *memoryTx) DeleteAwaitingPayment(ctx context.Context, consultationID int64) error {
	if _, ok := t.awaitingPayments[consultationID]; !ok {
		return ErrNotFound
	}
	delete(t.awaitingPayments, consultationID)
	return nil
}

func (t *memoryTx) DeleteAwaitingWithdrawal(ctx context.Context, consultationID int64) error {
	if _, ok := t.awaitingWithdrawals[consultationID]; !ok {
		return ErrNotFound
	}
	delete(t.awaitingWithdrawals, consultationID)
	return nil
}

func (t *memoryTx) DeleteStoppedSettlement(ctx context.Context, settlementID int64) error {
	if _, ok := t.stoppedSettlements[settlementID]; !ok {
		return ErrNotFound
	}
	delete(t.stoppedSettlements, settlementID)
	return nil
}

func (m *MemoryStore) ListAwaitingPayments(ctx context.Context, limit, offset int) ([]*AwaitingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*AwaitingPayment, 0, len(m.awaitingPayments))
	for _, a := range m.awaitingPayments {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ConsultationID < all[j].ConsultationID
	})
	return paginate(all, limit, offset), nil
}

func (m *MemoryStore) ListAwaitingWithdrawals(ctx context.Context, limit, offset int) ([]*AwaitingWithdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*AwaitingWithdrawal, 0, len(m.awaitingWithdrawals))
	for _, a := range m.awaitingWithdrawals {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ConsultationID < all[j].ConsultationID
	})
	return paginate(all, limit, offset), nil
}

func (m *MemoryStore) ListNeglectCandidates(ctx context.Context, meetingBefore time.Time, limit int) ([]*AwaitingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*AwaitingPayment
	for id, a := range m.awaitingPayments {
		c, ok := m.consultations[id]
		if !ok || !c.MeetingAt.Before(meetingBefore) {
			continue
		}
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return m.consultations[all[i].ConsultationID].MeetingAt.
			Before(m.consultations[all[j].ConsultationID].MeetingAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// MemoryStore also implements consultation.Store so that in-memory mode
// serves consultations and settlement records from one place, the way the
// PostgreSQL stores share one database.

func (m *MemoryStore) Get(ctx context.Context, consultationID int64) (*consultation.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return nil, consultation.ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) RecordUserEntry(ctx context.Context, consultationID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return consultation.ErrConsultationNotFound
	}
	if c.UserEnteredAt != nil {
		return consultation.ErrAlreadyEntered
	}
	c.UserEnteredAt = &at
	return nil
}

func (m *MemoryStore) RecordConsultantEntry(ctx context.Context, consultationID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return consultation.ErrConsultationNotFound
	}
	if c.ConsultantEnteredAt != nil {
		return consultation.ErrAlreadyEntered
	}
	c.ConsultantEnteredAt = &at
	return nil
}

func (m *MemoryStore) ListByConsultant(ctx context.Context, consultantID int64, limit int) ([]*consultation.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*consultation.Consultation
	for _, c := range m.consultations {
		if c.ConsultantID == consultantID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MeetingAt.Before(result[j].MeetingAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func paginate[T any](all []*T, limit, offset int) []*T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Compile-time assertions.
var (
	_ Store              = (*MemoryStore)(nil)
	_ Tx                 = (*memoryTx)(nil)
	_ consultation.Store = (*MemoryStore)(nil)
)
