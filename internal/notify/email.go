// Package notify turns session events into participant emails and operator alerts.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Domenick1991/livesession/internal/events"
	"github.com/rs/zerolog"
)

// Message is a rendered participant notification.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// EmailSender renders messages and hands them to the mail log. Recipients are actor
// ids; address lookup belongs to the directory service that owns them.
type EmailSender struct {
	from   string
	logger zerolog.Logger
}

func NewEmailSender(from string, logger zerolog.Logger) *EmailSender {
	return &EmailSender{from: from, logger: logger}
}

func (s *EmailSender) Send(ctx context.Context, event events.SessionEvent) error {
	msg, ok := s.Render(event)
	if !ok {
		return nil
	}
	s.logger.Info().
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("event_id", event.ID).
		Msg("send email")
	return nil
}

// Render builds the message for event; ok is false for events nobody is told about.
func (s *EmailSender) Render(event events.SessionEvent) (Message, bool) {
	var subject, body string
	switch event.Type {
	case events.SessionBooked:
		subject = "Session booked"
		body = "A new session was booked. Complete the payment step to confirm it."
	case events.SessionStarted:
		subject = "Session started"
		body = "Your live session has started."
	case events.SessionCompleted:
		subject = "Session completed"
		body = "Your live session is complete."
	case events.SessionCancelled:
		subject = "Session cancelled"
		body = "Your live session was cancelled."
		if event.Reason != "" {
			body += " Reason: " + event.Reason
		}
	case events.PaymentCaptured:
		subject = "Payment received"
		body = "The payment for your session was captured."
	case events.PaymentReleased:
		subject = "Payment hold released"
		body = "The hold on your payment method was released."
	case events.PaymentCaptureFailed, events.PaymentReleaseFailed:
		subject = "Payment issue"
		body = "We could not settle the payment for your session. Our team has been notified."
	default:
		return Message{}, false
	}

	to := make([]string, 0, 2)
	for _, id := range []string{event.InstructorID, event.StudentID} {
		if id != "" {
			to = append(to, id)
		}
	}
	if len(to) == 0 {
		return Message{}, false
	}
	return Message{
		From:    s.from,
		To:      to,
		Subject: fmt.Sprintf("%s (%s)", subject, shortID(event.SessionID)),
		Body:    body,
	}, true
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
