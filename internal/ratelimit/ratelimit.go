// Package ratelimit implements the fixed-window request limiter used by the
// brief endpoints.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for the brief endpoints.
const (
	DefaultLimit  = 30
	DefaultWindow = 60 * time.Second
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool

	// Remaining is how many more requests fit in the current window.
	Remaining int

	// RetryAfter is the time until the window resets. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key in fixed windows. A key's window starts
// with its first request and is replaced lazily once it has passed.
type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	limit   int
	window  time.Duration
	buckets map[string]*window
}

// New creates a limiter allowing limit requests per window per key.
func New(limit int, windowLen time.Duration, clock clockwork.Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if windowLen <= 0 {
		windowLen = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		clock:   clock,
		limit:   limit,
		window:  windowLen,
		buckets: make(map[string]*window),
	}
}

// Allow records one request for key and reports whether it fits.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &window{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}

	if b.count >= l.limit {
		return Decision{RetryAfter: b.resetAt.Sub(now)}
	}
	b.count++
	return Decision{Allowed: true, Remaining: l.limit - b.count}
}

// Limit returns the per-window cap.
func (l *Limiter) Limit() int {
	return l.limit
}

// Key builds a limiter key of the form {purpose}:{client}.
func Key(purpose, client string) string {
	if client == "" {
		client = "unknown"
	}
	return purpose + ":" + client
}
