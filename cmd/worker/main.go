package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/bootstrap"
	"github.com/Domenick1991/livesession/internal/kafka"
	"github.com/Domenick1991/livesession/internal/natsbus"
	"github.com/Domenick1991/livesession/internal/notify"
	"github.com/Domenick1991/livesession/internal/repository"
	"github.com/Domenick1991/livesession/internal/service/payment"
	"github.com/Domenick1991/livesession/internal/telemetry"
	"github.com/Domenick1991/livesession/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	os.Exit(start(cfgPath, run))
}

type runFunc func(ctx context.Context, cfg *config.Config, injector do.Injector, logger zerolog.Logger) error

// start returns the process exit code once every deferred cleanup has run.
func start(cfgPath string, body runFunc) int {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}
	logger := bootstrap.NewLogger(cfg.Log, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, "worker")
	if err != nil {
		logger.Error().Err(err).Msg("setup tracing")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	injector := bootstrap.NewInjector(cfg, logger)
	defer func() {
		if err := bootstrap.Shutdown(injector); err != nil {
			logger.Warn().Err(err).Msg("release resources")
		}
	}()

	if err := body(ctx, cfg, injector, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped")
		return 1
	}
	logger.Info().Msg("worker shut down")
	return 0
}

func run(ctx context.Context, cfg *config.Config, injector do.Injector, logger zerolog.Logger) error {
	store, err := do.Invoke[repository.SessionStore](injector)
	if err != nil {
		return err
	}
	protocol, err := do.Invoke[*payment.Protocol](injector)
	if err != nil {
		return err
	}

	notifier := notify.NewNotifier(
		notify.NewEmailSender(cfg.Notify.EmailFrom, logger),
		notify.NewOperatorWebhook(cfg.Notify.OperatorWebhookURL),
		logger,
	)
	handler := worker.Tolerant(notifier.HandleMessage, logger)
	sweeper := worker.NewSweeper(store, protocol, cfg.Worker.StaleAfter, cfg.Worker.BatchSize, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	go func() { errCh <- sweeper.Run(ctx, cfg.Worker.ReconcileInterval) }()

	switch cfg.Events.Driver {
	case config.EventsDriverKafka:
		consumer := kafka.NewConsumer(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.GroupID, cfg.Events.NotificationsTopic)
		defer consumer.Close()
		go func() { errCh <- worker.ConsumeStream(ctx, consumer, handler) }()
	case config.EventsDriverNATS:
		bus, err := do.Invoke[*natsbus.Bus](injector)
		if err != nil {
			return err
		}
		go func() {
			errCh <- worker.ConsumeSubscription(ctx, bus, cfg.Events.NotificationsTopic, cfg.Events.NATS.Durable, handler)
		}()
	default:
		logger.Warn().Msg("events driver is none, notifications are not consumed")
	}

	logger.Info().
		Str("events", cfg.Events.Driver).
		Dur("reconcile_interval", cfg.Worker.ReconcileInterval).
		Msg("worker started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
