// Package config loads service configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/blockbrief/blockbrief/internal/database"
	"github.com/blockbrief/blockbrief/internal/soda"
)

// Response cache backends.
const (
	ResponseCacheMemory   = "memory"
	ResponseCacheRedis    = "redis"
	ResponseCachePostgres = "postgres"
	ResponseCacheOff      = "off"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	App       AppConfig
	Socrata   SocrataConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  database.Config
	GeoSearch GeoSearchConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
	Worker    WorkerConfig
}

// AppConfig holds HTTP server settings.
type AppConfig struct {
	Port       string
	Env        string
	RequireTLS bool
}

// SocrataConfig holds dataset client settings.
type SocrataConfig struct {
	BaseURL        string
	AppToken       string
	MaxConcurrency int64
	Timeout        time.Duration
	MaxRetries     uint64
	RetryStep      time.Duration
}

// CacheConfig selects the transport response cache and the brief TTL.
type CacheConfig struct {
	// ResponseCache is one of memory, redis, postgres or off.
	ResponseCache string
	BriefTTL      time.Duration
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GeoSearchConfig holds geocoder settings.
type GeoSearchConfig struct {
	BaseURL string
}

// RateLimitConfig holds the fixed-window limiter settings.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// WorkerConfig holds pre-warm worker settings.
type WorkerConfig struct {
	ProjectID    string
	Subscription string
	BlockIDs     []string
	Interval     time.Duration
	Concurrency  int
}

// LoadDotEnv loads variables from the given files, or .env when none are
// given. Missing files are ignored and existing variables are not replaced.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv reads the configuration from environment variables.
func FromEnv() (Config, error) {
	var errs []error
	e := &envReader{errs: &errs}

	cfg := Config{
		App: AppConfig{
			Port:       getEnvOrDefault("APP_PORT", "8080"),
			Env:        getEnvOrDefault("APP_ENV", "development"),
			RequireTLS: e.bool("REQUIRE_TLS", false),
		},
		Socrata: SocrataConfig{
			BaseURL:        getEnvOrDefault("SOCRATA_BASE_URL", soda.DefaultBaseURL),
			AppToken:       os.Getenv("SOCRATA_APP_TOKEN"),
			MaxConcurrency: int64(e.int("SOCRATA_MAX_CONCURRENCY", soda.DefaultMaxConcurrency)),
			Timeout:        e.duration("SOCRATA_TIMEOUT", 20*time.Second),
			MaxRetries:     uint64(e.int("SOCRATA_MAX_RETRIES", 1)),
			RetryStep:      e.duration("SOCRATA_RETRY_STEP", 250*time.Millisecond),
		},
		Cache: CacheConfig{
			ResponseCache: strings.ToLower(getEnvOrDefault("RESPONSE_CACHE", ResponseCacheMemory)),
			BriefTTL:      e.duration("BRIEF_CACHE_TTL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       e.int("REDIS_DB", 0),
		},
		Database: database.Config{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            e.int("DB_PORT", 5432),
			User:            getEnvOrDefault("DB_USER", "blockbrief"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnvOrDefault("DB_NAME", "blockbrief"),
			SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:        e.int("DB_MAX_CONNS", 10),
			MinConns:        e.int("DB_MIN_CONNS", 0),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		GeoSearch: GeoSearchConfig{
			BaseURL: getEnvOrDefault("GEOSEARCH_BASE_URL", "https://geosearch.planninglabs.nyc"),
		},
		RateLimit: RateLimitConfig{
			Requests: e.int("RATE_LIMIT_REQUESTS", 30),
			Window:   e.duration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      e.bool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Worker: WorkerConfig{
			ProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
			Subscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
			BlockIDs:     splitList(os.Getenv("PREWARM_BLOCK_IDS")),
			Interval:     e.duration("PREWARM_INTERVAL", 15*time.Minute),
			Concurrency:  e.int("PREWARM_CONCURRENCY", 2),
		},
	}

	switch cfg.Cache.ResponseCache {
	case ResponseCacheMemory, ResponseCacheOff, ResponseCachePostgres:
	case ResponseCacheRedis:
		if cfg.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: REDIS_ADDR is required when RESPONSE_CACHE=redis", ErrInvalid))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: RESPONSE_CACHE must be memory, redis, postgres or off, got %q", ErrInvalid, cfg.Cache.ResponseCache))
	}
	if cfg.RateLimit.Requests <= 0 {
		errs = append(errs, fmt.Errorf("%w: RATE_LIMIT_REQUESTS must be positive", ErrInvalid))
	}
	if cfg.Socrata.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("%w: SOCRATA_MAX_CONCURRENCY must be positive", ErrInvalid))
	}
	if cfg.Cache.ResponseCache == ResponseCachePostgres && cfg.Database.Password == "" {
		errs = append(errs, fmt.Errorf("%w: DB_PASSWORD is required when RESPONSE_CACHE=postgres", ErrInvalid))
	}
	if cfg.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("%w: PREWARM_CONCURRENCY must be positive", ErrInvalid))
	}

	return cfg, errors.Join(errs...)
}

// OpenResponseCache builds the configured transport response cache. The
// returned close function is never nil. RESPONSE_CACHE=off yields a nil cache.
func (c Config) OpenResponseCache(ctx context.Context, clock clockwork.Clock) (soda.ResponseCache, func() error, error) {
	noop := func() error { return nil }

	switch c.Cache.ResponseCache {
	case ResponseCacheOff:
		return nil, noop, nil
	case ResponseCacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connecting to redis at %s: %w", c.Redis.Addr, err)
		}
		return soda.NewRedisResponseCache(client, "blockbrief:soda:"), client.Close, nil
	case ResponseCachePostgres:
		pool, err := database.Connect(ctx, c.Database)
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to postgres at %s: %w", c.Database.Host, err)
		}
		pgCache := database.NewResponseCache(pool, clock)
		if err := pgCache.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		if _, err := pgCache.Purge(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return pgCache, func() error { pool.Close(); return nil }, nil
	default:
		return soda.NewMemoryResponseCache(clock), noop, nil
	}
}

type envReader struct {
	errs *[]error
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v))
		return def
	}
	return d
}

func (r *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v))
		return def
	}
	return b
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
