package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/workspaced/internal/embeddings"

// Metrics holds all embedding-related metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	latency     metric.Float64Histogram
	batchSize   metric.Int64Histogram
	errors      metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for embeddings.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.latency, err = m.meter.Float64Histogram(
		"workspaced.embedding.latency_ms",
		metric.WithDescription("Latency of embedding generation in milliseconds, labeled by model and operation (embed_query, embed_documents)"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		m.logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"workspaced.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"workspaced.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.cacheHits, err = m.meter.Int64Counter(
		"workspaced.embedding.cache_hits_total",
		metric.WithDescription("Embedding cache hits by model"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache hits counter", zap.Error(err))
	}

	m.cacheMisses, err = m.meter.Int64Counter(
		"workspaced.embedding.cache_misses_total",
		metric.WithDescription("Embedding cache misses by model"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache misses counter", zap.Error(err))
	}
}

// RecordGeneration records embedding generation metrics.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", operation),
	}

	if m.latency != nil {
		m.latency.Record(ctx, duration.Seconds()*1000, metric.WithAttributes(attrs...))
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordCacheHits records embedding cache hits.
func (m *Metrics) RecordCacheHits(ctx context.Context, model string, hits int) {
	if hits > 0 && m.cacheHits != nil {
		m.cacheHits.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordCacheMisses records embedding cache misses.
func (m *Metrics) RecordCacheMisses(ctx context.Context, model string, misses int) {
	if misses > 0 && m.cacheMisses != nil {
		m.cacheMisses.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("model", model)))
	}
}
