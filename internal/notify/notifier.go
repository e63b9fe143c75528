package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Domenick1991/livesession/internal/events"
	"github.com/rs/zerolog"
)

type Mailer interface {
	Send(ctx context.Context, event events.SessionEvent) error
}

type Alerter interface {
	Alert(ctx context.Context, event events.SessionEvent) error
}

// Notifier fans a session event out to participants and, for payment failures, to operators.
type Notifier struct {
	mailer  Mailer
	alerter Alerter
	logger  zerolog.Logger
}

func NewNotifier(mailer Mailer, alerter Alerter, logger zerolog.Logger) *Notifier {
	return &Notifier{mailer: mailer, alerter: alerter, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, event events.SessionEvent) error {
	var errs []error
	if n.mailer != nil {
		if err := n.mailer.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if event.Type.Failure() && n.alerter != nil {
		if err := n.alerter.Alert(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessage decodes a bus payload. Undecodable messages are dropped so a poison
// message cannot stall the consumer.
func (n *Notifier) HandleMessage(ctx context.Context, payload []byte) error {
	var event events.SessionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		n.logger.Warn().Err(err).Msg("drop undecodable session event")
		return nil
	}
	return n.Notify(ctx, event)
}
