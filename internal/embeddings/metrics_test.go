package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMetricsRecordingDoesNotPanic(t *testing.T) {
	m := NewMetrics(nil)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	ctx := context.Background()
	m.RecordGeneration(ctx, "test-model", "embed_query", 10*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "test-model", "embed_documents", time.Second, 32, errors.New("boom"))
	m.RecordGeneration(ctx, "test-model", "embed_documents", 0, 0, nil)
	m.RecordCacheHits(ctx, "test-model", 5)
	m.RecordCacheHits(ctx, "test-model", 0)
	m.RecordCacheMisses(ctx, "test-model", 3)
	m.RecordCacheMisses(ctx, "test-model", 0)
}
