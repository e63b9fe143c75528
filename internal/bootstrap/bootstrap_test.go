package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/auth"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth:    config.AuthConfig{JWTSecret: "test-secret", Issuer: "livesession", TokenTTL: time.Hour},
		Store:   config.StoreConfig{Driver: config.StoreDriverMemory},
		Events:  config.EventsConfig{Driver: config.EventsDriverNone},
		Gateway: config.GatewayConfig{Driver: config.GatewayDriverSandbox, Timeout: time.Second, SandboxAutoApprove: true},
		Payment: config.PaymentConfig{LockTTL: time.Second},
		Worker:  config.WorkerConfig{StaleAfter: time.Minute},
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "test")

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "chatty", "test")

	logger.Debug().Msg("debug")
	logger.Info().Msg("info")

	assert.NotContains(t, buf.String(), `"message":"debug"`)
	assert.Contains(t, buf.String(), `"message":"info"`)
}

func TestClosers_ReverseOrder(t *testing.T) {
	var order []int
	c := &Closers{}
	c.Add(func() error { order = append(order, 1); return nil })
	c.Add(func() error { order = append(order, 2); return errors.New("boom") })

	err := c.Close()

	assert.EqualError(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, c.Close())
}

func TestAdminRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	storeUp, brokerUp := true, true
	check := func(up *bool, msg string) PingFunc {
		return func(context.Context) error {
			if *up {
				return nil
			}
			return errors.New(msg)
		}
	}
	router := NewAdminRouter(reg,
		ReadinessCheck{Name: "store", Pinger: check(&storeUp, "connection refused")},
		ReadinessCheck{Name: "kafka", Pinger: check(&brokerUp, "no route to broker")},
	)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	assert.Equal(t, http.StatusOK, get("/metrics").Code)

	brokerUp = false
	w := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "kafka unavailable: no route to broker")

	storeUp = false
	w = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "store unavailable: connection refused")
	assert.Equal(t, http.StatusOK, get("/healthz").Code)
}

func TestReadinessChecks(t *testing.T) {
	names := func(checks []ReadinessCheck) []string {
		out := make([]string, 0, len(checks))
		for _, c := range checks {
			out = append(out, c.Name)
		}
		return out
	}

	t.Run("store only", func(t *testing.T) {
		injector := NewInjector(testConfig(), zerolog.Nop())
		t.Cleanup(func() { _ = Shutdown(injector) })
		store, err := do.Invoke[repository.SessionStore](injector)
		require.NoError(t, err)

		checks, err := readinessChecks(injector, store)

		require.NoError(t, err)
		assert.Equal(t, []string{"store"}, names(checks))
	})

	t.Run("redis and kafka when configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.Redis.Addr = "127.0.0.1:1"
		cfg.Events.Driver = config.EventsDriverKafka
		cfg.Events.Kafka.Brokers = []string{"127.0.0.1:1"}
		injector := NewInjector(cfg, zerolog.Nop())
		t.Cleanup(func() { _ = Shutdown(injector) })
		store, err := do.Invoke[repository.SessionStore](injector)
		require.NoError(t, err)

		checks, err := readinessChecks(injector, store)
		require.NoError(t, err)
		assert.Equal(t, []string{"store", "redis", "kafka"}, names(checks))

		w := httptest.NewRecorder()
		NewAdminRouter(prometheus.NewRegistry(), checks...).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "redis unavailable")
	})
}

func TestAPIHandler_CORSExposesDeprecationHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := apiHandler(config.HTTPConfig{AllowedOrigins: []string{"http://localhost:3000"}, RateLimit: 100}, next)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Deprecation")
}

// TestInjector_PaidSessionFlow drives booking, confirmation and completion through
// the fully wired router on the in-memory store and sandbox processor.
func TestInjector_PaidSessionFlow(t *testing.T) {
	injector := NewInjector(testConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = Shutdown(injector) })

	engine := do.MustInvoke[*gin.Engine](injector)
	authn := do.MustInvoke[*auth.Authenticator](injector)

	studentToken, err := authn.Issue(domain.Actor{ID: "student-1", Role: domain.RoleStudent}, time.Hour)
	require.NoError(t, err)
	instructorToken, err := authn.Issue(domain.Actor{ID: "instructor-1", Role: domain.RoleInstructor}, time.Hour)
	require.NoError(t, err)

	call := func(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	w, booked := call(http.MethodPost, "/sessions", studentToken, map[string]any{
		"instructorId":   "instructor-1",
		"scheduledStart": start,
		"scheduledEnd":   start.Add(time.Hour),
		"agreedAmount":   "75.00",
		"currency":       "usd",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID := booked["session"].(map[string]any)["id"].(string)
	reservationID := booked["reservation"].(map[string]any)["id"].(string)
	handle := booked["payment"].(map[string]any)["handle"].(string)

	// Completing before the student confirms the payment is refused.
	w, _ = call(http.MethodPatch, "/sessions/"+sessionID+"/end", instructorToken, map[string]any{"summary": "Intro", "actualDuration": 50})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, confirmed := call(http.MethodPost, "/reservations/"+reservationID+"/confirm", studentToken, map[string]string{"handle": handle})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AUTHORIZED", confirmed["authorizationStatus"])

	// The student cannot end the instructor's session on either route.
	w, _ = call(http.MethodPatch, "/legacy/sessions/"+sessionID+"/complete", studentToken, map[string]any{"summary": "Intro", "actualDuration": 50})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, ended := call(http.MethodPatch, "/legacy/sessions/"+sessionID+"/complete", instructorToken, map[string]any{"summary": "Intro", "actualDuration": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("Deprecation"))
	assert.Equal(t, true, ended["paymentCaptured"])
	assert.Equal(t, "CAPTURED", ended["session"].(map[string]any)["payoutStatus"])

	w, again := call(http.MethodPatch, "/sessions/"+sessionID+"/end", instructorToken, map[string]any{"summary": "Intro", "actualDuration": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, again["paymentCaptured"])
	assert.Equal(t, true, again["repeated"])
	assert.Equal(t, "already_captured", again["reason"])

	w, cancelled := call(http.MethodPatch, "/sessions/"+sessionID+"/cancel", instructorToken, map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", cancelled["code"])
}
