package resilience_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/provider/resilience"
)

func TestRegistry_RegisterAndGetHealth(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("socrata")
	cfg.Registry = registry

	client := resilience.NewClient(cfg)

	assert.Equal(t, 1, registry.ProviderCount())
	assert.Equal(t, "socrata", client.Name())

	health := registry.GetHealth("socrata")
	require.NotNil(t, health)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Equal(t, "healthy", health.Status())
}

func TestRegistry_ClientRecordsOutcomes(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	registry := resilience.NewRegistryWithClock(fake)

	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	cfg := resilience.DefaultClientConfig("socrata")
	cfg.Registry = registry
	cfg.MaxRetries = 0
	client := resilience.NewClient(cfg)

	resp, err := client.Do(newRequest(t, server.URL))
	require.NoError(t, err)
	resp.Body.Close()

	health := registry.GetHealth("socrata")
	require.NotNil(t, health.LastSuccessAt)
	assert.Equal(t, fake.Now(), *health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	fake.Advance(time.Minute)
	status.Store(http.StatusBadGateway)
	resp, err = client.Do(newRequest(t, server.URL))
	require.NoError(t, err)
	resp.Body.Close()

	health = registry.GetHealth("socrata")
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, fake.Now(), *health.LastFailureAt)
	assert.Contains(t, health.LastError, "Bad Gateway")
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("geosearch")
	cfg.Registry = registry
	_ = resilience.NewClient(cfg)

	registry.Unregister("geosearch")

	assert.Equal(t, 0, registry.ProviderCount())
	assert.Nil(t, registry.GetHealth("geosearch"))
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"socrata", "geosearch", "redis"} {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		_ = resilience.NewClient(cfg)
	}

	healthList := registry.GetAllHealth()
	require.Len(t, healthList, 3)
	assert.Equal(t, "geosearch", healthList[0].Name)
	assert.Equal(t, "redis", healthList[1].Name)
	assert.Equal(t, "socrata", healthList[2].Name)
	assert.Equal(t, []string{"geosearch", "redis", "socrata"}, registry.GetProviderNames())
}

func TestRegistry_UnknownProviderIsIgnored(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("nonexistent")
	registry.RecordFailure("nonexistent", assert.AnError)

	assert.Nil(t, registry.GetHealth("nonexistent"))
}

func TestProviderHealth_States(t *testing.T) {
	tests := []struct {
		state  gobreaker.State
		status string
	}{
		{gobreaker.StateClosed, "healthy"},
		{gobreaker.StateHalfOpen, "degraded"},
		{gobreaker.StateOpen, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.ProviderHealth{CircuitState: tt.state}
			assert.Equal(t, tt.status, h.Status())
		})
	}
}
