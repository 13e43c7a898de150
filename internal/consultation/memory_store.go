package consultation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory consultation store for demo/development mode.
type MemoryStore struct {
	consultations map[int64]*Consultation
	mu            sync.RWMutex
}

// NewMemoryStore creates a new in-memory consultation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consultations: make(map[int64]*Consultation),
	}
}

// Put seeds a consultation (tests and demo mode).
func (m *MemoryStore) Put(c *Consultation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.consultations[c.ConsultationID] = &cp
}

func (m *MemoryStore) Get(ctx context.Context, consultationID int64) (*Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) RecordUserEntry(ctx context.Context, consultationID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return ErrConsultationNotFound
	}
	if c.UserEnteredAt != nil {
		return ErrAlreadyEntered
	}
	c.UserEnteredAt = &at
	return nil
}

func (m *MemoryStore) RecordConsultantEntry(ctx context.Context, consultationID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[consultationID]
	if !ok {
		return ErrConsultationNotFound
	}
	if c.ConsultantEnteredAt != nil {
		return ErrAlreadyEntered
	}
	c.ConsultantEnteredAt = &at
	return nil
}

func (m *MemoryStore) ListByConsultant(ctx context.Context, consultantID int64, limit int) ([]*Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Consultation
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

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
