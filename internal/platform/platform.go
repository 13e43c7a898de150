// Package platform provides the client for the external payment platform.
//
// The platform is authoritative for whether money actually moved: a charge is
// authorized when a consultation request is accepted, captured when the fee is
// confirmed received, and refunded when an admin reverses a settlement. All
// calls are synchronous HTTP with basic auth; the platform returns either a
// charge payload or a structured error (code, message, HTTP status).
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrChargeNotFound is returned when the platform does not know the charge ID.
var ErrChargeNotFound = errors.New("charge not found")

// Charge is the platform's view of a consultation fee charge.
type Charge struct {
	ID             string     `json:"id"`
	Amount         int64      `json:"amount"` // yen
	Currency       string     `json:"currency"`
	Captured       bool       `json:"captured"`
	CapturedAt     *time.Time `json:"capturedAt,omitempty"`
	ExpiredAt      time.Time  `json:"expiredAt"` // credit facilities expiry
	Refunded       bool       `json:"refunded"`
	AmountRefunded int64      `json:"amountRefunded"`
	RefundReason   string     `json:"refundReason,omitempty"`
}

// Error is a structured failure reported by the payment platform.
// Status carries the platform's HTTP status code, Code its machine-readable
// error code, Message a human-readable description.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment platform error (status %d, code %s): %s", e.Status, e.Code, e.Message)
}

// Client performs charge operations against the payment platform.
// A production HTTPClient and an in-memory MockClient both satisfy it.
type Client interface {
	// GetCharge fetches the current state of a charge.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	// CaptureCharge captures a previously authorized charge. The platform
	// rejects captures after the charge's credit facilities expired.
	CaptureCharge(ctx context.Context, chargeID string) (*Charge, error)
	// RefundCharge refunds a charge (captured or merely authorized).
	RefundCharge(ctx context.Context, chargeID, reason string) (*Charge, error)
}
