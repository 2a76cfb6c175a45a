package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"signal-workshop/internal/cache"
	"signal-workshop/internal/handler"
	"signal-workshop/internal/job"
	"signal-workshop/internal/metrics"
	"signal-workshop/internal/repository"
	"signal-workshop/internal/scenario"
	"signal-workshop/internal/service"
	"signal-workshop/internal/tracker"
	"signal-workshop/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// cmdRun is the live loop: scheduled ticks over every configured symbol plus
// the HTTP API. It returns when SIGINT or SIGTERM arrives.
func cmdRun(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("run")
	if _, err := parseInterleaved(fs, args); err != nil {
		return exitFailure
	}
	cfg := a.cfg

	tun, err := loadTunablesFunc(cfg.TunablesPath)
	if err != nil {
		log.Error().Err(err).Msg("invalid tunables")
		return exitFailure
	}
	holder, err := scenario.NewHolder(cfg.CatalogPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.CatalogPath).Msg("refusing to run with an unusable catalog")
		printCatalogError(err)
		return exitFailure
	}

	h, err := openStore(ctx, a, cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("cannot open signal store")
		return exitFailure
	}
	defer h.close()
	if added, err := h.store.RunMigrations(ctx); err != nil {
		log.Error().Err(err).Msg("signal store migration failed")
		return exitFailure
	} else if len(added) > 0 {
		log.Info().Strs("columns", added).Msg("signal store upgraded")
	}

	var source job.CandleSource
	switch {
	case h.pgPool != nil:
		repo := repository.NewCandleRepository(h.pgPool, a.tracer)
		if err := repo.RunMigrations(ctx); err != nil {
			log.Error().Err(err).Msg("candle migration failed")
			return exitFailure
		}
		source = repo
	case cfg.CandlesDir != "":
		source = job.CSVDirSource{Dir: cfg.CandlesDir}
	default:
		log.Error().Msg("no candle feed: set DATABASE_URL or CANDLES_DIR")
		return exitFailure
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	var (
		publisher service.TelemetryPublisher
		reader    handler.TelemetryReader
	)
	client, err := connectRedisFunc(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, telemetry disabled")
	} else if client != nil {
		defer client.Close()
		telemetry := cache.NewTelemetryPublisher(client, 0)
		publisher, reader = telemetry, telemetry
	}

	store := repository.NewRetryingStore(h.store, tun.Store.MaxRetries)
	tr := tracker.New(store, tun.TrackerConfig(), a.tracer)
	svc := newPipeline(a, tun, store, tr, holder).WithObservers(recorder, publisher)

	runner := job.NewRunner(a.tracer, job.Config{
		Symbols:  cfg.Symbols,
		Interval: cfg.BaseInterval,
		Schedule: cfg.RunSchedule,
		Workers:  cfg.Workers,
		Lookback: cfg.CandleLookback,
	}, source, svc, holder)

	api := handler.New(a.tracer, svc, reader, registry)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(tracing.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := shutdownSignals(ctx)
	defer stop()

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Start(runCtx) }()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		runErr = <-runnerDone
	case runErr = <-runnerDone:
		stop()
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("runner failed")
		return exitFailure
	}
	return exitOK
}
