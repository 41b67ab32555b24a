package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockbrief/blockbrief/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "blockbrief-api",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(ctx))
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestDatasetMetrics_RecordsWithoutPanicking(t *testing.T) {
	metrics, err := telemetry.NewDatasetMetrics()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() {
		metrics.RecordQuery(ctx, "h9gi-nx95", telemetry.OutcomeOK, 120*time.Millisecond)
		metrics.RecordCacheHit(ctx, "result")
		metrics.RecordCacheMiss(ctx, "response")
	})
}

func TestDatasetMetrics_NilReceiver(t *testing.T) {
	var metrics *telemetry.DatasetMetrics

	assert.NotPanics(t, func() {
		metrics.RecordQuery(context.Background(), "erm2-nwe9", telemetry.OutcomeError, time.Second)
		metrics.RecordCacheHit(context.Background(), "result")
		metrics.RecordCacheMiss(context.Background(), "result")
	})
}
