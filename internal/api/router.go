// Package api provides the HTTP API for Block Brief.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/blockbrief/blockbrief/internal/api/handler"
	"github.com/blockbrief/blockbrief/internal/api/middleware"
	"github.com/blockbrief/blockbrief/internal/cache"
	"github.com/blockbrief/blockbrief/internal/geocode"
	"github.com/blockbrief/blockbrief/internal/provider/resilience"
	"github.com/blockbrief/blockbrief/internal/ratelimit"
	"github.com/blockbrief/blockbrief/internal/soda"
)

// Rate limiter purposes. Each keys its own {purpose}:{client} window.
const (
	PurposeBrief    = "brief"
	Purpose311Calls = "311-calls"
	PurposeWidget   = "widget"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Builder  handler.BriefBuilder
	Resolver geocode.Resolver
	Querier  soda.Querier
	Registry *resilience.Registry

	// Cache holds built briefs and 311 listings. Default: a new cache.
	Cache    *cache.Cache
	BriefTTL time.Duration

	// Limiter guards the brief, widget and 311 routes. Default:
	// ratelimit.DefaultLimit requests per ratelimit.DefaultWindow.
	Limiter *ratelimit.Limiter
	Clock   clockwork.Clock
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "blockbrief-api"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.WithClock(cfg.Clock))
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow, cfg.Clock)
	}

	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		ServiceName: cfg.ServiceName,
		Version:     cfg.Version,
		BuildTime:   cfg.BuildTime,
		Registry:    cfg.Registry,
		Clock:       cfg.Clock,
	})
	briefHandler := handler.NewBriefHandler(handler.BriefHandlerConfig{
		Builder:  cfg.Builder,
		Resolver: cfg.Resolver,
		Cache:    cfg.Cache,
		TTL:      cfg.BriefTTL,
		Logger:   cfg.Logger,
	})
	callsHandler := handler.NewCallsHandler(handler.CallsHandlerConfig{
		Querier: cfg.Querier,
		Cache:   cfg.Cache,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	})
	metadataHandler := handler.NewMetadataHandler()

	limit := func(purpose string) func(next http.Handler) http.Handler {
		return middleware.FixedWindow(cfg.Limiter, purpose, cfg.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/metadata", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.StandardRateLimit))
			r.Get("/datasets", metadataHandler.ListDatasets)
		})

		r.Route("/brief", func(r chi.Router) {
			r.With(limit(PurposeBrief)).Get("/", briefHandler.GetBrief)
			r.Route("/by-block/{blockId}", func(r chi.Router) {
				r.With(limit(PurposeBrief)).Get("/", briefHandler.GetBriefByBlock)
				r.With(limit(PurposeBrief)).Get("/insights", briefHandler.GetInsights)
				r.With(limit(Purpose311Calls)).Get("/311-calls", callsHandler.ListCalls)
			})
		})

		r.With(limit(PurposeWidget)).Get("/widget/{blockId}", briefHandler.GetWidget)
	})

	return r
}
