package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/agrimon/internal/advisory"
	"codeberg.org/mutker/agrimon/internal/api"
	"codeberg.org/mutker/agrimon/internal/config"
	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
	"codeberg.org/mutker/agrimon/internal/metrics"
	"codeberg.org/mutker/agrimon/internal/pid"
	"codeberg.org/mutker/agrimon/internal/reader"
	"codeberg.org/mutker/agrimon/internal/source"
	"codeberg.org/mutker/agrimon/internal/supervisor"
	"codeberg.org/mutker/agrimon/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 10 * time.Second
	startMaxBackoff = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Options{
		Level:     cfg.LogLevel.String(),
		JSON:      cfg.LogFormat == config.LogFormatJSON,
		IsService: logger.IsService(),
	})
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("Failed to write PID file")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	code := 0
	if err := run(ctx, cfg); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		code = 1
	}
	cancel()

	cleanup(cfg)
	os.Exit(code)
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder, err := metrics.NewService(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "agrimon",
	}, registry)
	if err != nil {
		return err
	}

	sup := newSupervisor(cfg, recorder)

	advisor, err := advisory.New(advisory.Config{
		Host:    cfg.Advisory.Host,
		Model:   cfg.Advisory.Model,
		Timeout: cfg.Advisory.Timeout,
	}, advisory.WithMetrics(recorder))
	if err != nil {
		return err
	}

	if cfg.LogLevel != config.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	opts := []api.Option{api.WithMetrics(recorder)}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithGatherer(registry))
	}
	handler := api.NewHandler(sup, advisor, sup, opts...)
	server := api.NewServer(cfg.HTTP.Addr, handler.Router(), logger.New("http"))

	// Storage may come up after the API; queries degrade until it does
	started := make(chan struct{})
	go func() {
		defer close(started)

		b := backoff.NewExponentialBackOff()
		b.MaxInterval = startMaxBackoff
		b.MaxElapsedTime = 0

		if err := sup.StartWithRetry(ctx, b); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Failed to start ingestion")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down HTTP server")
	}

	// StartWithRetry returns once ctx is done or ingestion started
	<-started

	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop ingestion")
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}

func newSupervisor(cfg *config.Config, recorder metrics.Recorder) *supervisor.Supervisor {
	storeCfg := telemetry.Config{DBPath: cfg.Storage.Path}
	openStore := func() (telemetry.Store, error) {
		return telemetry.NewRepository(storeCfg, logger.New("telemetry"))
	}

	serialCfg := source.SerialConfig{
		Port:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}
	readerCfg := reader.Config{
		Enabled:           cfg.Serial.Enabled,
		ReadBackoff:       cfg.Reader.Backoff,
		SimulatedInterval: cfg.Reader.Interval,
		ReopenInterval:    cfg.Serial.ReopenInterval,
	}
	newRunner := func(store reader.Store) (supervisor.Runner, error) {
		return reader.New(readerCfg, store,
			source.SerialOpener(serialCfg),
			source.NewSimulated(cfg.Reader.Seed),
			reader.WithMetrics(recorder))
	}

	return supervisor.New(openStore, newRunner)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(cfg *config.Config) {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
