package domain

import "time"

type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "SCHEDULED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusInProgress, SessionStatusCompleted, SessionStatusCancelled:
		return true
	}
	return false
}

type PayoutStatus string

const (
	PayoutStatusNone     PayoutStatus = "NONE"
	PayoutStatusPending  PayoutStatus = "PENDING"
	PayoutStatusCaptured PayoutStatus = "CAPTURED"
	PayoutStatusFailed   PayoutStatus = "FAILED"
	PayoutStatusReleased PayoutStatus = "RELEASED"
)

type LiveSession struct {
	ID                 string
	Status             SessionStatus
	InstructorID       string
	ScheduledStart     time.Time
	ScheduledEnd       time.Time
	ActualStart        *time.Time
	ActualEnd          *time.Time
	ActualDuration     *int
	Summary            *string
	InstructorNotes    *string
	SessionArtifacts   []string
	CancellationReason *string
	ReservationID      *string
	PayoutStatus       PayoutStatus
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *LiveSession) HasReservation() bool {
	return s.ReservationID != nil && *s.ReservationID != ""
}

// Clone returns a deep copy so callers can stage updates without touching the loaded record.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	c := *s
	c.ActualStart = clonePtr(s.ActualStart)
	c.ActualEnd = clonePtr(s.ActualEnd)
	c.ActualDuration = clonePtr(s.ActualDuration)
	c.Summary = clonePtr(s.Summary)
	c.InstructorNotes = clonePtr(s.InstructorNotes)
	c.CancellationReason = clonePtr(s.CancellationReason)
	c.ReservationID = clonePtr(s.ReservationID)
	if s.SessionArtifacts != nil {
		c.SessionArtifacts = append([]string(nil), s.SessionArtifacts...)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
