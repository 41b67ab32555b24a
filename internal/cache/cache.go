// Package cache is the in-process result cache that sits in front of dataset
// loaders. Entries expire lazily on read; there is no size bound.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Loader produces the value for a missing or expired key.
type Loader func(ctx context.Context) (any, error)

// Recorder receives hit/miss events. *telemetry.DatasetMetrics satisfies it.
type Recorder interface {
	RecordCacheHit(ctx context.Context, layer string)
	RecordCacheMiss(ctx context.Context, layer string)
}

// Layer is the layer attribute reported to the Recorder.
const Layer = "result"

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache maps keys to values with a per-entry TTL.
//
// Concurrent misses on the same key each run the loader; the last writer
// wins. Once stored, a value is served to every caller until it expires.
type Cache struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	entries  map[string]entry
	recorder Recorder
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithRecorder reports hits and misses.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.recorder = r }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value under key. Expired entries are evicted.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrCompute returns the cached value for key, or runs load and stores its
// result for ttl. Loader errors are returned and never cached. The lock is not
// held while load runs.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, load Loader) (any, error) {
	if v, ok := c.Get(key); ok {
		c.hit(ctx)
		return v, nil
	}
	c.miss(ctx)

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

func (c *Cache) hit(ctx context.Context) {
	if c.recorder != nil {
		c.recorder.RecordCacheHit(ctx, Layer)
	}
}

func (c *Cache) miss(ctx context.Context) {
	if c.recorder != nil {
		c.recorder.RecordCacheMiss(ctx, Layer)
	}
}

// GetOrLoad is the typed form of GetOrCompute.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: value under %q has type %T", key, v)
	}
	return typed, nil
}

// Key joins the parts of a result-cache key with ':'.
// Keys take the form {datasetId}:{purpose}:{blockKey}:{window}.
func Key(datasetID, purpose, blockKey, window string) string {
	return datasetID + ":" + purpose + ":" + blockKey + ":" + window
}
