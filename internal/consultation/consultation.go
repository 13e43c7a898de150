// Package consultation holds consultation records and meeting-room access.
//
// A consultation is created when a consultant accepts a request. It is
// immutable once created except for the entry timestamps, which record when
// each party first joined the meeting room.
package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/idgen"
)

var (
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrAlreadyEntered       = errors.New("entry already recorded for this party")
)

// Consultation is a scheduled meeting between a user and a consultant.
type Consultation struct {
	ConsultationID      int64      `json:"consultationId"`
	UserAccountID       int64      `json:"userAccountId"`
	ConsultantID        int64      `json:"consultantId"`
	MeetingAt           time.Time  `json:"meetingAt"`
	RoomName            string     `json:"roomName"`
	UserEnteredAt       *time.Time `json:"userEnteredAt,omitempty"`
	ConsultantEnteredAt *time.Time `json:"consultantEnteredAt,omitempty"`
}

// NewRoomName generates an unguessable meeting room identifier.
func NewRoomName() string {
	return idgen.WithPrefix("room_")
}

// Store persists consultation records.
type Store interface {
	Get(ctx context.Context, consultationID int64) (*Consultation, error)
	// RecordUserEntry sets the user's entry timestamp if not already set.
	RecordUserEntry(ctx context.Context, consultationID int64, at time.Time) error
	// RecordConsultantEntry sets the consultant's entry timestamp if not already set.
	RecordConsultantEntry(ctx context.Context, consultationID int64, at time.Time) error
	// ListByConsultant returns a consultant's consultations, soonest meeting first.
	ListByConsultant(ctx context.Context, consultantID int64, limit int) ([]*Consultation, error)
}

// Service implements consultation business logic.
type Service struct {
	store Store
}

// NewService creates a new consultation service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a consultation by ID.
func (s *Service) Get(ctx context.Context, consultationID int64) (*Consultation, error) {
	return s.store.Get(ctx, consultationID)
}

// RecordEntry records one party's first entry into the meeting room.
func (s *Service) RecordEntry(ctx context.Context, consultationID int64, asConsultant bool) error {
	now := time.Now()
	if asConsultant {
		return s.store.RecordConsultantEntry(ctx, consultationID, now)
	}
	return s.store.RecordUserEntry(ctx, consultationID, now)
}

// ListByConsultant returns a consultant's consultations.
func (s *Service) ListByConsultant(ctx context.Context, consultantID int64, limit int) ([]*Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByConsultant(ctx, consultantID, limit)
}
