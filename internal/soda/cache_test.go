package soda_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/soda"
)

func TestMemoryResponseCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	cache := soda.NewMemoryResponseCache(clock)

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", []byte("[]"), 10*time.Second))
	body, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("[]"), body)

	clock.Advance(10 * time.Second)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Runs against a real server when BLOCKBRIEF_TEST_REDIS_ADDR is set.
func TestRedisResponseCache(t *testing.T) {
	addr := os.Getenv("BLOCKBRIEF_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BLOCKBRIEF_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	cache := soda.NewRedisResponseCache(client, "blockbrief-test:")
	key := "resource/erm2-nwe9.json?$limit=1"
	defer client.Del(ctx, "blockbrief-test:"+key)

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, key, []byte(`[{"a":"1"}]`), time.Minute))
	body, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"a":"1"}]`, string(body))
}
