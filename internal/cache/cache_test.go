package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/cache"
)

type countingRecorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (r *countingRecorder) RecordCacheHit(context.Context, string) {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordCacheMiss(context.Context, string) {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

func TestGetOrCompute_ServesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rec := &countingRecorder{}
	c := cache.New(cache.WithClock(clock), cache.WithRecorder(rec))

	calls := 0
	load := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	v, err := c.GetOrCompute(ctx, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	v, err = c.GetOrCompute(ctx, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Second)
	v, err = c.GetOrCompute(ctx, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 2, rec.misses)
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.WithClock(clockwork.NewFakeClock()))
	boom := errors.New("boom")

	_, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGetEvictsLazily(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := cache.New(cache.WithClock(clock))

	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)
	c.Set("skip", 3, 0)
	assert.Equal(t, 2, c.Len())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("b")
	assert.Equal(t, 0, c.Len())
}

func TestGetOrLoad_Typed(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.WithClock(clockwork.NewFakeClock()))

	rows, err := cache.GetOrLoad(ctx, c, "rows", time.Minute, func(context.Context) ([]string, error) {
		return []string{"x", "y"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rows)

	_, err = cache.GetOrLoad(ctx, c, "rows", time.Minute, func(context.Context) (int, error) {
		return 0, nil
	})
	assert.Error(t, err)
}

func TestGetOrCompute_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := cache.New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "shared", time.Minute, func(context.Context) (any, error) {
				return "value", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "value", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "h9gi-nx95:rows:bbl:1008350041:2026-01-01", cache.Key("h9gi-nx95", "rows", "bbl:1008350041", "2026-01-01"))
}
