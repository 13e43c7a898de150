package platform

import (
	"context"
	"sync"
	"time"
)

// MockClient is an in-memory Client for tests. Charges are seeded with Put;
// FailWith forces every subsequent call to return the given error, which is
// how tests simulate platform outages mid-transaction.
type MockClient struct {
	mu      sync.Mutex
	charges map[string]*Charge
	err     error

	// Calls records the operations performed, in order ("get ch_x" etc).
	Calls []string
}

// NewMockClient creates an empty mock payment platform.
func NewMockClient() *MockClient {
	return &MockClient{charges: make(map[string]*Charge)}
}

// Put seeds a charge.
func (m *MockClient) Put(c *Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.charges[c.ID] = &cp
}

// FailWith makes every subsequent call fail with err. Pass nil to recover.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockClient) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "get "+chargeID)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.charges[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockClient) CaptureCharge(ctx context.Context, chargeID string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "capture "+chargeID)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.charges[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	if time.Now().After(c.ExpiredAt) {
		return nil, &Error{Status: 400, Code: "expired_charge", Message: "credit facilities for this charge expired"}
	}
	now := time.Now()
	c.Captured = true
	c.CapturedAt = &now
	cp := *c
	return &cp, nil
}

func (m *MockClient) RefundCharge(ctx context.Context, chargeID, reason string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "refund "+chargeID)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.charges[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	c.Refunded = true
	c.AmountRefunded = c.Amount
	c.RefundReason = reason
	cp := *c
	return &cp, nil
}

// Compile-time assertion that MockClient implements Client.
var _ Client = (*MockClient)(nil)
