package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/cache"
	"github.com/Domenick1991/livesession/internal/kafka"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

type Servers struct {
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	adminServer *http.Server
	logger      zerolog.Logger
}

// Run starts the API, gRPC health and admin servers and blocks until ctx is
// cancelled or one of them fails.
func Run(ctx context.Context, injector do.Injector) error {
	s, err := newServers(injector)
	if err != nil {
		return err
	}
	cfg := do.MustInvoke[*config.Config](injector)

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}

	errCh := make(chan error, 3)
	go func() { errCh <- s.grpcServer.Serve(lis) }()
	go func() { errCh <- listenAndServe(s.httpServer) }()
	go func() { errCh <- listenAndServe(s.adminServer) }()

	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info().
		Str("http", cfg.HTTP.Address).
		Str("grpc", cfg.GRPC.Address).
		Str("admin", cfg.Admin.Address).
		Msg("servers started")

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func newServers(injector do.Injector) (*Servers, error) {
	cfg := do.MustInvoke[*config.Config](injector)
	logger := do.MustInvoke[zerolog.Logger](injector)

	engine, err := do.Invoke[*gin.Engine](injector)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	store, err := do.Invoke[repository.SessionStore](injector)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	checks, err := readinessChecks(injector, store)
	if err != nil {
		return nil, err
	}
	registry := do.MustInvoke[*prometheus.Registry](injector)

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcSrv, healthSrv)

	return &Servers{
		grpcServer: grpcSrv,
		health:     healthSrv,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           apiHandler(cfg.HTTP, engine),
			ReadHeaderTimeout: 10 * time.Second,
		},
		adminServer: &http.Server{
			Addr:              cfg.Admin.Address,
			Handler:           NewAdminRouter(registry, checks...),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// readinessChecks lists the dependencies /readyz waits for: the store always, plus
// redis and kafka when they are configured.
func readinessChecks(injector do.Injector, store repository.SessionStore) ([]ReadinessCheck, error) {
	checks := []ReadinessCheck{{Name: "store", Pinger: store}}

	rc, err := do.Invoke[*cache.RedisCache](injector)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		checks = append(checks, ReadinessCheck{Name: "redis", Pinger: rc})
	}

	kp, err := do.Invoke[*kafka.Producer](injector)
	if err != nil {
		return nil, fmt.Errorf("build kafka producer: %w", err)
	}
	if kp != nil {
		checks = append(checks, ReadinessCheck{Name: "kafka", Pinger: PingFunc(kp.CheckConnection)})
	}
	return checks, nil
}

// apiHandler wraps the gin engine with tracing, per-IP rate limiting and CORS.
func apiHandler(cfg config.HTTPConfig, engine http.Handler) http.Handler {
	var h http.Handler = otelhttp.NewHandler(engine, "livesession.api")
	if cfg.RateLimit > 0 {
		h = httprate.LimitByIP(cfg.RateLimit, time.Minute)(h)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Deprecation", "Link"},
		AllowCredentials: false,
		MaxAge:           300,
	})(h)
}

func listenAndServe(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Servers) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.health.Shutdown()
	s.grpcServer.GracefulStop()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := s.adminServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown admin server: %w", err))
	}
	s.logger.Info().Msg("servers stopped")
	return errors.Join(errs...)
}
