package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/livesession/internal/events"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Alert is the operator webhook body.
type Alert struct {
	EventID             string    `json:"event_id"`
	Type                string    `json:"type"`
	SessionID           string    `json:"session_id"`
	ReservationID       string    `json:"reservation_id,omitempty"`
	PayoutStatus        string    `json:"payout_status,omitempty"`
	AuthorizationStatus string    `json:"authorization_status,omitempty"`
	Reason              string    `json:"reason,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

type OperatorWebhook struct {
	webhookURL string
	client     *http.Client
}

func NewOperatorWebhook(webhookURL string) *OperatorWebhook {
	return &OperatorWebhook{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Alert posts event to the operator webhook. An empty URL disables alerts.
func (s *OperatorWebhook) Alert(ctx context.Context, event events.SessionEvent) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(Alert{
		EventID:             event.ID,
		Type:                string(event.Type),
		SessionID:           event.SessionID,
		ReservationID:       event.ReservationID,
		PayoutStatus:        event.PayoutStatus,
		AuthorizationStatus: event.AuthorizationStatus,
		Reason:              event.Reason,
		OccurredAt:          event.OccurredAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("operator webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
