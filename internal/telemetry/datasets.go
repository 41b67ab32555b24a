package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const datasetMeterName = "github.com/blockbrief/blockbrief/internal/soda"

// Query outcomes recorded on soda.query.* instruments.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// DatasetMetrics records upstream dataset queries and cache effectiveness.
type DatasetMetrics struct {
	queryDuration metric.Float64Histogram
	queryTotal    metric.Int64Counter
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
}

// NewDatasetMetrics creates the dataset instruments on the global meter.
func NewDatasetMetrics() (*DatasetMetrics, error) {
	meter := otel.Meter(datasetMeterName)

	queryDuration, err := meter.Float64Histogram(
		"soda.query.duration",
		metric.WithDescription("Duration of upstream dataset queries in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queryTotal, err := meter.Int64Counter(
		"soda.query.total",
		metric.WithDescription("Total number of upstream dataset queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"brief.cache.hit",
		metric.WithDescription("Number of cache hits by layer"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"brief.cache.miss",
		metric.WithDescription("Number of cache misses by layer"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatasetMetrics{
		queryDuration: queryDuration,
		queryTotal:    queryTotal,
		cacheHits:     cacheHits,
		cacheMisses:   cacheMisses,
	}, nil
}

// RecordQuery records one upstream query. A nil receiver is a no-op.
func (m *DatasetMetrics) RecordQuery(ctx context.Context, datasetID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("soda.dataset", datasetID),
		attribute.String("soda.outcome", outcome),
	)
	ctx = context.WithoutCancel(ctx)
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
	m.queryTotal.Add(ctx, 1, attrs)
}

// RecordCacheHit records a hit on the named cache layer.
func (m *DatasetMetrics) RecordCacheHit(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("cache.layer", layer)))
}

// RecordCacheMiss records a miss on the named cache layer.
func (m *DatasetMetrics) RecordCacheMiss(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("cache.layer", layer)))
}
