package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Domenick1991/livesession/api"
	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/auth"
	"github.com/Domenick1991/livesession/internal/cache"
	"github.com/Domenick1991/livesession/internal/events"
	"github.com/Domenick1991/livesession/internal/gateway"
	"github.com/Domenick1991/livesession/internal/kafka"
	"github.com/Domenick1991/livesession/internal/metrics"
	"github.com/Domenick1991/livesession/internal/natsbus"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/booking"
	"github.com/Domenick1991/livesession/internal/service/guard"
	"github.com/Domenick1991/livesession/internal/service/lifecycle"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/Domenick1991/livesession/internal/service/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
)

const storeInitTimeout = 15 * time.Second

// Closers collects resource cleanups registered by providers. Close runs them in
// reverse registration order.
type Closers struct {
	mu  sync.Mutex
	fns []func() error
}

func (c *Closers) Add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *Closers) Close() error {
	c.mu.Lock()
	fns := slices.Clone(c.fns)
	c.fns = nil
	c.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewInjector registers every component lazily; nothing connects until first invoked.
func NewInjector(cfg *config.Config, logger zerolog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.ProvideValue(injector, &Closers{})

	registerInfrastructure(injector)
	registerServices(injector)
	registerAPI(injector)

	return injector
}

// Shutdown releases everything the providers opened.
func Shutdown(injector do.Injector) error {
	closers, err := do.Invoke[*Closers](injector)
	if err != nil {
		return err
	}
	return closers.Close()
}

func registerInfrastructure(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.SessionStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		closers := do.MustInvoke[*Closers](i)

		switch cfg.Store.Driver {
		case config.StoreDriverPostgres:
			ctx, cancel := context.WithTimeout(context.Background(), storeInitTimeout)
			defer cancel()
			pool, err := repository.OpenPostgres(ctx, cfg.Store.Database.DSN())
			if err != nil {
				return nil, err
			}
			closers.Add(func() error { pool.Close(); return nil })
			return repository.NewSessionStore(pool), nil
		case config.StoreDriverSQLite:
			store, err := repository.OpenSQLite(cfg.Store.SQLitePath)
			if err != nil {
				return nil, err
			}
			closers.Add(store.Close)
			return store, nil
		case config.StoreDriverMemory:
			return repository.NewMemoryStore(), nil
		}
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	})

	do.Provide(injector, func(i do.Injector) (gateway.PaymentGateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Gateway.Driver == config.GatewayDriverSandbox {
			return gateway.NewSandbox(cfg.Gateway.SandboxAutoApprove), nil
		}
		return gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout), nil
	})

	// Without a redis address the payment lock is skipped and the version guard alone applies.
	do.Provide(injector, func(i do.Injector) (*cache.RedisCache, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Redis.Addr == "" {
			return nil, nil
		}
		rc := cache.NewRedisCache(cfg.Redis)
		do.MustInvoke[*Closers](i).Add(rc.Close)
		return rc, nil
	})

	do.Provide(injector, func(i do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})

	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(do.MustInvoke[*prometheus.Registry](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*natsbus.Bus, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)
		bus, err := natsbus.New(cfg.Events.NATS.URL,
			nats.Name(cfg.Telemetry.ServiceName),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn().Err(err).Msg("nats disconnected")
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		if err := bus.EnsureStream(cfg.Events.NATS.Stream, cfg.Events.SessionsTopic, cfg.Events.NotificationsTopic); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("ensure nats stream: %w", err)
		}
		do.MustInvoke[*Closers](i).Add(bus.Close)
		return bus, nil
	})

	do.Provide(injector, func(i do.Injector) (*kafka.Producer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.Events.Driver != config.EventsDriverKafka {
			return nil, nil
		}
		kp := kafka.NewProducer(cfg.Events.Kafka.Brokers, do.MustInvoke[zerolog.Logger](i))
		do.MustInvoke[*Closers](i).Add(kp.Close)
		return kp, nil
	})

	do.Provide(injector, func(i do.Injector) (*events.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)

		var producer events.Producer
		switch cfg.Events.Driver {
		case config.EventsDriverKafka:
			kp, err := do.Invoke[*kafka.Producer](i)
			if err != nil {
				return nil, err
			}
			producer = kp
		case config.EventsDriverNATS:
			bus, err := do.Invoke[*natsbus.Bus](i)
			if err != nil {
				return nil, err
			}
			producer = bus
		default:
			return nil, nil
		}
		return events.NewPublisher(producer, cfg.Events.SessionsTopic,
			events.WithNotificationsTopic(cfg.Events.NotificationsTopic),
			events.WithLogger(logger),
		), nil
	})
}

func registerServices(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*guard.Guard, error) {
		return guard.New(), nil
	})

	do.Provide(injector, func(i do.Injector) (*payment.Protocol, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := do.Invoke[repository.SessionStore](i)
		if err != nil {
			return nil, err
		}
		publisher, err := do.Invoke[*events.Publisher](i)
		if err != nil {
			return nil, err
		}

		opts := []payment.Option{
			payment.WithPublisher(publisher),
			payment.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
			payment.WithLogger(do.MustInvoke[zerolog.Logger](i)),
			payment.WithGatewayTimeout(cfg.Gateway.Timeout),
			payment.WithLockTTL(cfg.Payment.LockTTL),
			payment.WithStaleAfter(cfg.Worker.StaleAfter),
		}
		if rc := do.MustInvoke[*cache.RedisCache](i); rc != nil {
			opts = append(opts, payment.WithLocker(rc))
		}
		return payment.NewProtocol(store, do.MustInvoke[gateway.PaymentGateway](i), do.MustInvoke[*guard.Guard](i), opts...), nil
	})

	do.Provide(injector, func(i do.Injector) (*lifecycle.Service, error) {
		store, err := do.Invoke[repository.SessionStore](i)
		if err != nil {
			return nil, err
		}
		protocol, err := do.Invoke[*payment.Protocol](i)
		if err != nil {
			return nil, err
		}
		return lifecycle.NewService(store, do.MustInvoke[*guard.Guard](i), protocol,
			lifecycle.WithPublisher(do.MustInvoke[*events.Publisher](i)),
			lifecycle.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
			lifecycle.WithLogger(do.MustInvoke[zerolog.Logger](i)),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*booking.BookingService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := do.Invoke[repository.SessionStore](i)
		if err != nil {
			return nil, err
		}
		publisher, err := do.Invoke[*events.Publisher](i)
		if err != nil {
			return nil, err
		}
		return booking.NewBookingService(store, do.MustInvoke[gateway.PaymentGateway](i),
			booking.WithPublisher(publisher),
			booking.WithLogger(do.MustInvoke[zerolog.Logger](i)),
			booking.WithGatewayTimeout(cfg.Gateway.Timeout),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*sessions.SessionService, error) {
		store, err := do.Invoke[repository.SessionStore](i)
		if err != nil {
			return nil, err
		}
		return sessions.NewSessionService(store, do.MustInvoke[*guard.Guard](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*auth.Authenticator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL), nil
	})
}

func registerAPI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*gin.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		lc, err := do.Invoke[*lifecycle.Service](i)
		if err != nil {
			return nil, err
		}
		bs, err := do.Invoke[*booking.BookingService](i)
		if err != nil {
			return nil, err
		}
		protocol, err := do.Invoke[*payment.Protocol](i)
		if err != nil {
			return nil, err
		}

		gin.SetMode(gin.ReleaseMode)
		return api.NewRouter(api.RouterDeps{
			Sessions:      api.NewSessionHandler(lc, do.MustInvoke[*sessions.SessionService](i), bs),
			Reservations:  api.NewReservationHandler(protocol, do.MustInvoke[*guard.Guard](i)),
			Auth:          do.MustInvoke[*auth.Authenticator](i),
			Logger:        do.MustInvoke[zerolog.Logger](i),
			EnableSwagger: cfg.HTTP.EnableSwagger,
		}), nil
	})
}
