package soda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/blockbrief/blockbrief/internal/provider/resilience"
	"github.com/blockbrief/blockbrief/internal/telemetry"
)

const (
	// DefaultBaseURL is the resource endpoint of the NYC open-data portal.
	DefaultBaseURL = "https://data.cityofnewyork.us/resource"

	// DefaultMaxConcurrency caps in-flight upstream requests process-wide.
	DefaultMaxConcurrency = 4

	// ProviderName identifies the client in the provider registry.
	ProviderName = "socrata"

	snippetLimit = 240
	maxBodyBytes = 32 << 20
)

var (
	// ErrTimeout is wrapped into errors for queries that ran out of time.
	ErrTimeout = errors.New("query timed out")

	// ErrDecode is wrapped into errors for responses that are not a JSON array.
	ErrDecode = errors.New("malformed response")
)

// StatusError is a terminal non-2xx response from the portal.
type StatusError struct {
	DatasetID  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("SODA %s failed (%d): %s", e.DatasetID, e.StatusCode, e.Body)
}

// HTTPDoer is the subset of an HTTP client the query client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Querier runs a dataset query. Module builders depend on this interface.
type Querier interface {
	Query(ctx context.Context, datasetID string, q Query, opts ...QueryOption) ([]Row, error)
}

// ClientConfig holds configuration for the dataset client.
type ClientConfig struct {
	// BaseURL is the resource endpoint. Default: DefaultBaseURL
	BaseURL string

	// AppToken is sent as X-App-Token when set.
	AppToken string

	// MaxConcurrency caps in-flight requests. Default: 4
	MaxConcurrency int64

	// HTTPClient executes requests. Default: a resilience.Client with one
	// retry, linear backoff and a 20s attempt timeout.
	HTTPClient HTTPDoer

	// Cache is the optional transport-level response cache.
	Cache ResponseCache

	// Metrics is optional.
	Metrics *telemetry.DatasetMetrics

	Logger zerolog.Logger
}

// Client queries Socrata datasets.
type Client struct {
	baseURL    string
	appToken   string
	httpClient HTTPDoer
	sem        *semaphore.Weighted
	cache      ResponseCache
	metrics    *telemetry.DatasetMetrics
	tracer     trace.Tracer
	logger     zerolog.Logger
}

var _ Querier = (*Client)(nil)

// NewClient creates a dataset client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appToken:   cfg.AppToken,
		httpClient: cfg.HTTPClient,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		cache:      cfg.Cache,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("github.com/blockbrief/blockbrief/internal/soda"),
		logger:     cfg.Logger.With().Str("component", "soda").Logger(),
	}
}

type queryOptions struct {
	cacheTTL time.Duration
}

// QueryOption tunes a single query.
type QueryOption func(*queryOptions)

// CacheFor sets the transport cache lifetime for this query.
func CacheFor(ttl time.Duration) QueryOption {
	return func(o *queryOptions) { o.cacheTTL = ttl }
}

// Query runs q against datasetID and returns the decoded rows.
func (c *Client) Query(ctx context.Context, datasetID string, q Query, opts ...QueryOption) ([]Row, error) {
	o := queryOptions{cacheTTL: DefaultResponseTTL}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := c.baseURL + "/" + datasetID + ".json?" + q.Values().Encode()

	if body, ok := c.cached(ctx, endpoint); ok {
		rows, err := decodeRows(datasetID, body)
		if err == nil {
			return rows, nil
		}
		c.logger.Debug().Err(err).Str("dataset", datasetID).Msg("discarding undecodable cached response")
	}

	ctx, span := c.tracer.Start(ctx, "soda.query", trace.WithAttributes(
		attribute.String("soda.dataset", datasetID),
		attribute.Int("soda.limit", q.limit()),
	))
	defer span.End()

	start := time.Now()
	body, err := c.fetch(ctx, datasetID, endpoint)
	outcome := telemetry.OutcomeOK
	if err != nil {
		outcome = telemetry.OutcomeError
		if errors.Is(err, ErrTimeout) {
			outcome = telemetry.OutcomeTimeout
		}
	}
	c.metrics.RecordQuery(ctx, datasetID, outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("dataset", datasetID).Msg("dataset query failed")
		return nil, err
	}

	rows, err := decodeRows(datasetID, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("soda.rows", len(rows)))

	if c.cache != nil && o.cacheTTL > 0 {
		if err := c.cache.Set(ctx, endpoint, body, o.cacheTTL); err != nil {
			c.logger.Debug().Err(err).Str("dataset", datasetID).Msg("response cache write failed")
		}
	}
	return rows, nil
}

func (c *Client) cached(ctx context.Context, endpoint string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	body, ok, err := c.cache.Get(ctx, endpoint)
	if err != nil {
		c.logger.Debug().Err(err).Msg("response cache read failed")
		return nil, false
	}
	if ok {
		c.metrics.RecordCacheHit(ctx, "response")
	} else {
		c.metrics.RecordCacheMiss(ctx, "response")
	}
	return body, ok
}

// fetch performs the HTTP round trip while holding one concurrency slot.
// Waiters are admitted in FIFO order.
func (c *Client) fetch(ctx context.Context, datasetID, endpoint string) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("SODA %s: waiting for slot: %w", datasetID, err)
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("SODA %s: build request: %w", datasetID, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if resilience.IsTimeout(err) {
			return nil, fmt.Errorf("SODA %s: %w: %v", datasetID, ErrTimeout, err)
		}
		return nil, fmt.Errorf("SODA %s: %w", datasetID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if resilience.IsTimeout(err) {
			return nil, fmt.Errorf("SODA %s: %w: %v", datasetID, ErrTimeout, err)
		}
		return nil, fmt.Errorf("SODA %s: read body: %w", datasetID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			DatasetID:  datasetID,
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
		}
	}
	return body, nil
}

func decodeRows(datasetID string, body []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("SODA %s: %w: %v", datasetID, ErrDecode, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) <= snippetLimit {
		return s
	}
	return strings.ToValidUTF8(s[:snippetLimit], "")
}
