// Package events defines the session event envelope and the fan-out publisher
// used by the services.
package events

import (
	"context"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Type string

const (
	SessionBooked          Type = "session_booked"
	SessionStarted         Type = "session_started"
	SessionCompleted       Type = "session_completed"
	SessionCancelled       Type = "session_cancelled"
	PaymentCaptured        Type = "payment_captured"
	PaymentCaptureFailed   Type = "payment_capture_failed"
	PaymentReleased        Type = "payment_released"
	PaymentReleaseFailed   Type = "payment_release_failed"
	AuthorizationConfirmed Type = "authorization_confirmed"
	PaymentReconciled      Type = "payment_reconciled"
)

// Failure reports whether the event must reach an operator.
func (t Type) Failure() bool {
	return t == PaymentCaptureFailed || t == PaymentReleaseFailed
}

type SessionEvent struct {
	ID                  string    `json:"id"`
	Type                Type      `json:"type"`
	SessionID           string    `json:"session_id"`
	ReservationID       string    `json:"reservation_id,omitempty"`
	InstructorID        string    `json:"instructor_id,omitempty"`
	StudentID           string    `json:"student_id,omitempty"`
	Status              string    `json:"status,omitempty"`
	PayoutStatus        string    `json:"payout_status,omitempty"`
	AuthorizationStatus string    `json:"authorization_status,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

func NewSessionEvent(t Type, s *domain.LiveSession, r *domain.SessionReservation, reason string) SessionEvent {
	ev := SessionEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if s != nil {
		ev.SessionID = s.ID
		ev.InstructorID = s.InstructorID
		ev.Status = string(s.Status)
		ev.PayoutStatus = string(s.PayoutStatus)
	}
	if r != nil {
		ev.ReservationID = r.ID
		ev.StudentID = r.StudentID
		ev.AuthorizationStatus = string(r.AuthorizationStatus)
		if ev.SessionID == "" {
			ev.SessionID = r.SessionID
		}
	}
	return ev
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Publisher sends every event to the sessions topic and, when configured, to the
// notifications topic. Delivery failures are logged and never fail the caller.
type Publisher struct {
	producer           Producer
	sessionsTopic      string
	notificationsTopic string
	logger             zerolog.Logger
}

type PublisherOption func(*Publisher)

func WithNotificationsTopic(topic string) PublisherOption {
	return func(p *Publisher) {
		p.notificationsTopic = topic
	}
}

func WithLogger(logger zerolog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(producer Producer, sessionsTopic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{producer: producer, sessionsTopic: sessionsTopic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit is nil-safe so services can run without a bus.
func (p *Publisher) Emit(ctx context.Context, ev SessionEvent) {
	if p == nil || p.producer == nil {
		return
	}
	for _, topic := range []string{p.sessionsTopic, p.notificationsTopic} {
		if topic == "" {
			continue
		}
		if err := p.producer.Publish(ctx, topic, ev.SessionID, ev); err != nil {
			p.logger.Warn().Err(err).
				Str("topic", topic).
				Str("event", string(ev.Type)).
				Str("session_id", ev.SessionID).
				Msg("failed to publish session event")
		}
	}
}

// EventID lets buses that support deduplication use the event id as message id.
func (e SessionEvent) EventID() string {
	return e.ID
}
