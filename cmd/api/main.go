// Package main provides the entrypoint for the Block Brief API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/api"
	"github.com/blockbrief/blockbrief/internal/api/middleware"
	"github.com/blockbrief/blockbrief/internal/brief"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/config"
	"github.com/blockbrief/blockbrief/internal/geocode"
	"github.com/blockbrief/blockbrief/internal/modules"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
	"github.com/blockbrief/blockbrief/internal/ratelimit"
	"github.com/blockbrief/blockbrief/internal/soda"
	"github.com/blockbrief/blockbrief/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "blockbrief-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Block Brief API")

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	datasetMetrics, err := telemetry.NewDatasetMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize dataset metrics")
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	registry := resilience.NewRegistryWithClock(clock)

	responseCache, closeCache, err := cfg.OpenResponseCache(ctx, clock)
	if err != nil {
		log.Error().Err(err).Msg("failed to open response cache")
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeCache(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close response cache")
		}
	}()
	log.Info().
		Str("backend", cfg.Cache.ResponseCache).
		Msg("response cache ready")

	// Dataset client behind a registered circuit breaker
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

	geoHTTP := resilience.DefaultClientConfig("geosearch")
	geoHTTP.Registry = registry
	resolver := geocode.NewGeoSearch(geocode.GeoSearchConfig{
		BaseURL:    cfg.GeoSearch.BaseURL,
		HTTPClient: resilience.NewClient(geoHTTP),
		Logger:     log,
	})

	results := cache.New(cache.WithClock(clock), cache.WithRecorder(datasetMetrics))
	aggregator := brief.NewAggregator(brief.AggregatorConfig{
		Builders: modules.All(modules.Deps{
			Querier: querier,
			Cache:   results,
			Logger:  log,
		}),
		Clock:  clock,
		Logger: log,
	})

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		ServiceName: serviceName,
		Logger:      log,
		Metrics:     metrics,
		RequireTLS:  cfg.App.RequireTLS,
		Builder:     aggregator,
		Resolver:    resolver,
		Querier:     querier,
		Registry:    registry,
		Cache:       results,
		BriefTTL:    cfg.Cache.BriefTTL,
		Limiter:     ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window, clock),
		Clock:       clock,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
