package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/blockbrief/blockbrief/internal/api/middleware"
)

func setupTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			return sum.DataPoints
		}
	}
	return nil
}

func TestMetrics_RecordsByRoute(t *testing.T) {
	reader := setupTestMeter(t)
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/widget/{blockId}", okHandler)

	for _, id := range []string{"v1_a", "v1_b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/widget/"+id, http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	points := collectSum(t, reader, "http.server.request.total")
	require.Len(t, points, 1)
	assert.Equal(t, int64(2), points[0].Value)

	route, ok := points[0].Attributes.Value(attribute.Key("http.route"))
	require.True(t, ok)
	assert.Equal(t, "/v1/widget/{blockId}", route.AsString())

	errAttr, ok := points[0].Attributes.Value(attribute.Key("error"))
	require.True(t, ok)
	assert.False(t, errAttr.AsBool())
}

func TestMetrics_RecordRateLimited(t *testing.T) {
	reader := setupTestMeter(t)
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/brief", http.NoBody)
	metrics.RecordRateLimited(req, "brief")

	points := collectSum(t, reader, "http.server.rate_limited")
	require.Len(t, points, 1)
	assert.Equal(t, int64(1), points[0].Value)

	var nilMetrics *middleware.Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordRateLimited(req, "brief") })
}
