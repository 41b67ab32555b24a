// Package main provides the entrypoint for the Block Brief pre-warm worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/api/response"
	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/config"
	"github.com/blockbrief/blockbrief/internal/modules"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/telemetry"
	"github.com/blockbrief/blockbrief/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "blockbrief-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Block Brief worker")

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	datasetMetrics, err := telemetry.NewDatasetMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dataset metrics")
	}

	clock := clockwork.NewRealClock()
	registry := resilience.NewRegistryWithClock(clock)

	// Pre-warming only pays off when the response cache is shared with the API.
	if cfg.Cache.ResponseCache != config.ResponseCacheRedis {
		log.Warn().
			Str("backend", cfg.Cache.ResponseCache).
			Msg("response cache is not shared; pre-warmed responses stay in this process")
	}
	responseCache, closeCache, err := cfg.OpenResponseCache(ctx, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open response cache")
	}
	defer func() {
		if closeErr := closeCache(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close response cache")
		}
	}()

	socrataHTTP := resilience.DefaultClientConfig(soda.ProviderName)
	socrataHTTP.Timeout = cfg.Socrata.Timeout
	socrataHTTP.MaxRetries = cfg.Socrata.MaxRetries
	socrataHTTP.RetryStep = cfg.Socrata.RetryStep
	socrataHTTP.Registry = registry
	querier := soda.NewClient(soda.ClientConfig{
		BaseURL:        cfg.Socrata.BaseURL,
		AppToken:       cfg.Socrata.AppToken,
		MaxConcurrency: cfg.Socrata.MaxConcurrency,
		HTTPClient:     resilience.NewClient(socrataHTTP),
		Cache:          responseCache,
		Metrics:        datasetMetrics,
		Logger:         log,
	})

	aggregator := brief.NewAggregator(brief.AggregatorConfig{
		Builders: modules.All(modules.Deps{
			Querier: querier,
			Cache:   cache.New(cache.WithClock(clock), cache.WithRecorder(datasetMetrics)),
			Logger:  log,
		}),
		Clock:  clock,
		Logger: log,
	})

	prewarmCfg := worker.DefaultPrewarmConfig()
	prewarmCfg.Concurrency = cfg.Worker.Concurrency
	if len(cfg.Worker.BlockIDs) > 0 {
		targets, targetErr := worker.TargetsFromBlockIDs(cfg.Worker.BlockIDs)
		if targetErr != nil {
			log.Warn().Err(targetErr).Msg("ignoring malformed PREWARM_BLOCK_IDS entries")
		}
		if len(targets) > 0 {
			prewarmCfg.Targets = targets
		}
	}
	job := worker.NewPrewarmJob(worker.PrewarmJobConfig{
		Config:  prewarmCfg,
		Builder: aggregator,
		Clock:   clock,
		Logger:  log,
	})

	// Worker also exposes a health endpoint for Cloud Run
	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"version": Version,
			"prewarm": job.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	var wg sync.WaitGroup

	if cfg.Worker.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().
				Dur("interval", cfg.Worker.Interval).
				Int("targets", len(job.Targets())).
				Msg("scheduled pre-warm started")
			job.Schedule(ctx, cfg.Worker.Interval)
		}()
	}

	if cfg.Worker.ProjectID != "" && cfg.Worker.Subscription != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.Worker.ProjectID,
			SubscriptionName: cfg.Worker.Subscription,
			PrewarmJob:       job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if closeErr := handler.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close pubsub client")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Info().Msg("pubsub not configured; running on schedule only")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}
	wg.Wait()

	log.Info().Msg("worker stopped")
}
