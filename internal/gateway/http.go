package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPGateway talks to the processor's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type authorizeBody struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CaptureMethod string `json:"capture_method"`
}

type authorizationBody struct {
	Handle         string `json:"id"`
	Status         string `json:"status"`
	ClientSecret   string `json:"client_secret,omitempty"`
	AmountCaptured string `json:"amount_captured,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	body := authorizeBody{
		Amount:        req.Amount.StringFixed(2),
		Currency:      strings.ToLower(req.Currency),
		CaptureMethod: string(req.CaptureMethod),
	}
	var out authorizationBody
	if err := g.do(ctx, "authorize", http.MethodPost, "/v1/authorizations", req.Reference, body, &out); err != nil {
		return nil, err
	}
	status, err := ParseProcessorStatus(out.Status)
	if err != nil {
		return nil, &Error{Op: "authorize", Err: err}
	}
	return &Authorization{Handle: out.Handle, ClientSecret: out.ClientSecret, Status: status}, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, handle string) (*CaptureResult, error) {
	var out authorizationBody
	path := "/v1/authorizations/" + url.PathEscape(handle) + "/capture"
	if err := g.do(ctx, "capture", http.MethodPost, path, "capture-"+handle, nil, &out); err != nil {
		return nil, err
	}
	status, err := ParseProcessorStatus(out.Status)
	if err != nil {
		return nil, &Error{Op: "capture", Err: err}
	}
	if status != domain.AuthorizationCaptured {
		return nil, &Error{Op: "capture", Code: out.Status, Message: "processor did not capture the authorization", Err: ErrNotCapturable}
	}
	amount := decimal.Zero
	if out.AmountCaptured != "" {
		if amount, err = decimal.NewFromString(out.AmountCaptured); err != nil {
			return nil, &Error{Op: "capture", Err: err}
		}
	}
	return &CaptureResult{Handle: out.Handle, CapturedAmount: amount, Status: status}, nil
}

func (g *HTTPGateway) CancelAuthorization(ctx context.Context, handle string) error {
	path := "/v1/authorizations/" + url.PathEscape(handle) + "/cancel"
	return g.do(ctx, "cancel", http.MethodPost, path, "cancel-"+handle, nil, nil)
}

func (g *HTTPGateway) GetStatus(ctx context.Context, handle string) (domain.AuthorizationStatus, error) {
	var out authorizationBody
	if err := g.do(ctx, "get_status", http.MethodGet, "/v1/authorizations/"+url.PathEscape(handle), "", nil, &out); err != nil {
		return "", err
	}
	status, err := ParseProcessorStatus(out.Status)
	if err != nil {
		return "", &Error{Op: "get_status", Err: err}
	}
	return status, nil
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Op: op, Message: "request failed", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: ErrUnknownHandle}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := eb.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("processor returned status %d", resp.StatusCode)
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Code: eb.Error.Code, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Message: "decode response", Err: err}
	}
	return nil
}

// ParseProcessorStatus maps the processor's intent status onto the local mirror.
func ParseProcessorStatus(s string) (domain.AuthorizationStatus, error) {
	switch strings.ToLower(s) {
	case "requires_payment_method":
		return domain.AuthorizationPendingMethod, nil
	case "requires_confirmation", "requires_action", "processing":
		return domain.AuthorizationPendingConfirmation, nil
	case "requires_capture":
		return domain.AuthorizationAuthorized, nil
	case "succeeded":
		return domain.AuthorizationCaptured, nil
	case "canceled", "cancelled":
		return domain.AuthorizationReleased, nil
	case "failed", "expired":
		return domain.AuthorizationFailed, nil
	}
	return "", fmt.Errorf("unknown processor status %q", s)
}

var _ PaymentGateway = (*HTTPGateway)(nil)
