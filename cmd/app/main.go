package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/livesession/config"
	"github.com/Domenick1991/livesession/internal/bootstrap"
	"github.com/Domenick1991/livesession/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
)

// @title                      Live Session API
// @version                    1.0
// @description                Paid live sessions: booking, lifecycle transitions and payment capture.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	os.Exit(serve(cfgPath, bootstrap.Run))
}

// serve returns the process exit code once every deferred cleanup has run.
func serve(cfgPath string, run func(context.Context, do.Injector) error) int {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}
	logger := bootstrap.NewLogger(cfg.Log, "app")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, "app")
	if err != nil {
		logger.Error().Err(err).Msg("setup tracing")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	injector := bootstrap.NewInjector(cfg, logger)
	defer func() {
		if err := bootstrap.Shutdown(injector); err != nil {
			logger.Warn().Err(err).Msg("release resources")
		}
	}()

	if err := run(ctx, injector); err != nil {
		logger.Error().Err(err).Msg("server error")
		return 1
	}
	return 0
}
