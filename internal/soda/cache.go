package soda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// DefaultResponseTTL is the transport cache lifetime when a query gives no hint.
const DefaultResponseTTL = 300 * time.Second

// ResponseCache stores raw response bodies keyed by request URL. It sits below
// the result cache and can be shared between processes.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// MemoryResponseCache is a process-local ResponseCache with lazy expiry.
type MemoryResponseCache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// NewMemoryResponseCache creates an empty in-memory response cache.
func NewMemoryResponseCache(clock clockwork.Clock) *MemoryResponseCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryResponseCache{
		clock:   clock,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the body stored under key if it has not expired.
func (c *MemoryResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.body, true, nil
}

// Set stores body under key for ttl.
func (c *MemoryResponseCache) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{body: body, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

// RedisResponseCache shares response bodies through Redis so the API and the
// pre-warm worker see the same upstream results.
type RedisResponseCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisResponseCache wraps a Redis client. Keys are namespaced by prefix.
func NewRedisResponseCache(client redis.UniversalClient, prefix string) *RedisResponseCache {
	if prefix == "" {
		prefix = "soda:"
	}
	return &RedisResponseCache{client: client, prefix: prefix}
}

// Get returns the body stored under key.
func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return body, true, nil
}

// Set stores body under key for ttl.
func (c *RedisResponseCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
