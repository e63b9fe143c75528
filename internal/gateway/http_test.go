package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGateway_Authorize(t *testing.T) {
	var got authorizeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/authorizations", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "res-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(authorizationBody{Handle: "pi_1", Status: "requires_payment_method", ClientSecret: "pi_1_secret"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL+"/", "sk_test", time.Second)
	auth, err := g.Authorize(context.Background(), AuthorizeRequest{
		Amount:        decimal.RequireFromString("25"),
		Currency:      "EUR",
		CaptureMethod: CaptureManual,
		Reference:     "res-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_1", auth.Handle)
	assert.Equal(t, "pi_1_secret", auth.ClientSecret)
	assert.Equal(t, domain.AuthorizationPendingMethod, auth.Status)
	assert.Equal(t, "25.00", got.Amount)
	assert.Equal(t, "eur", got.Currency)
	assert.Equal(t, "manual", got.CaptureMethod)
}

func TestHTTPGateway_Capture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authorizations/pi_1/capture", r.URL.Path)
		assert.Equal(t, "capture-pi_1", r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(authorizationBody{Handle: "pi_1", Status: "succeeded", AmountCaptured: "25.00"})
	}))
	defer srv.Close()

	res, err := NewHTTPGateway(srv.URL, "k", time.Second).Capture(context.Background(), "pi_1")

	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationCaptured, res.Status)
	assert.True(t, res.CapturedAmount.Equal(decimal.RequireFromString("25")))
}

func TestHTTPGateway_CaptureRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"charge_expired_for_capture","message":"authorization expired"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, "k", time.Second).Capture(context.Background(), "pi_1")

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "charge_expired_for_capture", gwErr.Code)
	assert.Contains(t, err.Error(), "authorization expired")
}

func TestHTTPGateway_GetStatusUnknownHandle(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, "k", time.Second).GetStatus(context.Background(), "pi_x")

	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestHTTPGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPGateway(srv.URL, "k", time.Second).Capture(ctx, "pi_1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseProcessorStatus(t *testing.T) {
	tests := map[string]domain.AuthorizationStatus{
		"requires_payment_method": domain.AuthorizationPendingMethod,
		"requires_confirmation":   domain.AuthorizationPendingConfirmation,
		"requires_capture":        domain.AuthorizationAuthorized,
		"succeeded":               domain.AuthorizationCaptured,
		"canceled":                domain.AuthorizationReleased,
		"failed":                  domain.AuthorizationFailed,
	}
	for in, want := range tests {
		got, err := ParseProcessorStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProcessorStatus("mystery")
	assert.Error(t, err)
}
