package soda_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/provider/resilience"
	"github.com/blockbrief/blockbrief/internal/soda"
)

func testHTTPClient(retries uint64) *resilience.Client {
	cb := resilience.DefaultCircuitBreakerConfig("socrata-test")
	cb.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	return resilience.NewClient(resilience.ClientConfig{
		Name:           "socrata-test",
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		RetryStep:      time.Millisecond,
		CircuitBreaker: &cb,
	})
}

func newTestClient(url string, cache soda.ResponseCache, concurrency int64) *soda.Client {
	return soda.NewClient(soda.ClientConfig{
		BaseURL:        url,
		AppToken:       "token-123",
		MaxConcurrency: concurrency,
		HTTPClient:     testHTTPClient(1),
		Cache:          cache,
		Logger:         zerolog.New(io.Discard),
	})
}

func TestClient_QuerySendsSoQL(t *testing.T) {
	var gotPath, gotToken, gotAccept, gotWhere, gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-App-Token")
		gotAccept = r.Header.Get("Accept")
		gotWhere = r.URL.Query().Get("$where")
		gotLimit = r.URL.Query().Get("$limit")
		_, _ = w.Write([]byte(`[{"complaint_type":"Noise","count":"12"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 2)
	rows, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{
		Where: soda.And(soda.WithinCircle("location", 40.7, -73.9, 400), soda.NotNull("complaint_type")),
		Limit: 8,
	})
	require.NoError(t, err)

	assert.Equal(t, "/"+soda.ServiceRequests+".json", gotPath)
	assert.Equal(t, "token-123", gotToken)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "within_circle(location, 40.7, -73.9, 400) AND complaint_type is not null", gotWhere)
	assert.Equal(t, "8", gotLimit)
	require.Len(t, rows, 1)
	assert.Equal(t, "Noise", rows[0].Text("complaint_type"))
	assert.Equal(t, 12, rows[0].Int("count"))
}

func TestClient_StatusErrorIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	body := strings.Repeat("x", 500)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 1)
	_, err := client.Query(context.Background(), soda.Collisions, soda.Query{})
	require.Error(t, err)

	var statusErr *soda.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, soda.Collisions, statusErr.DatasetID)
	assert.Len(t, statusErr.Body, 240)
	assert.Contains(t, err.Error(), "SODA "+soda.Collisions+" failed (400)")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_RetriesServerErrorOnce(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 1)
	rows, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_PersistentServerErrorSurfacesStatus(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 1)
	_, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})

	var statusErr *soda.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "upstream down", statusErr.Body)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_MalformedBody(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"error":true}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 1)
	_, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, soda.ErrDecode)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := soda.NewClient(soda.ClientConfig{
		BaseURL: server.URL,
		HTTPClient: resilience.NewClient(resilience.ClientConfig{
			Name:    "socrata-timeout",
			Timeout: 50 * time.Millisecond,
		}),
		Logger: zerolog.New(io.Discard),
	})

	_, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, soda.ErrTimeout)
}

func TestClient_ResponseCache(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`[{"eventid":"1"}]`))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := newTestClient(server.URL, soda.NewMemoryResponseCache(clock), 1)
	q := soda.Query{Where: "borough = 'Manhattan'"}

	for i := 0; i < 3; i++ {
		rows, err := client.Query(context.Background(), soda.FilmPermits, q, soda.CacheFor(time.Minute))
		require.NoError(t, err)
		require.Len(t, rows, 1)
	}
	assert.Equal(t, int32(1), attempts.Load())

	clock.Advance(2 * time.Minute)
	_, err := client.Query(context.Background(), soda.FilmPermits, q, soda.CacheFor(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_FailuresAreNotCached(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, soda.NewMemoryResponseCache(clockwork.NewFakeClock()), 1)
	for i := 0; i < 2; i++ {
		_, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestClient_CanceledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, nil, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = client.Query(context.Background(), soda.ServiceRequests, soda.Query{})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Query(ctx, soda.ServiceRequests, soda.Query{Limit: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}
