package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// SessionStore persists sessions and reservations with per-entity optimistic versioning.
// Update methods write only when the stored version equals the expected one and then
// advance the record's Version in place.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.LiveSession, reservation *domain.SessionReservation) error
	GetSession(ctx context.Context, id string) (*domain.LiveSession, error)
	GetReservation(ctx context.Context, id string) (*domain.SessionReservation, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]domain.LiveSession, error)
	UpdateSession(ctx context.Context, session *domain.LiveSession, expectedVersion int64) error
	UpdateReservation(ctx context.Context, reservation *domain.SessionReservation, expectedVersion int64) error
	// UpdatePayment writes both records in one atomic step; either version mismatch aborts both.
	UpdatePayment(ctx context.Context, session *domain.LiveSession, sessionVersion int64, reservation *domain.SessionReservation, reservationVersion int64) error
	Ping(ctx context.Context) error
}

type SessionFilter struct {
	InstructorID  string
	StudentID     string
	Statuses      []domain.SessionStatus
	PayoutStatus  []domain.PayoutStatus
	UpdatedBefore time.Time
	Limit         int
}

const defaultListLimit = 100

func (f SessionFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultListLimit
	}
	return f.Limit
}
