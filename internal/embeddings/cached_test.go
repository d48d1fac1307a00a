package embeddings

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// stubVector derives a deterministic vector from text. Values stay small so
// they are exactly representable in bfloat16.
func stubVector(text string) []float32 {
	if text == "" {
		return []float32{0, 0, 0, 0}
	}
	return []float32{float32(len(text)), float32(text[0]), 1, 0}
}

type stubClient struct {
	mu          sync.Mutex
	queryCalls  int
	batchCalls  int
	lastBatch   []string
	failQueries bool
	model       string
	closed      bool
}

func newStubClient() *stubClient {
	return &stubClient{model: "stub-model"}
}

func (s *stubClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	if s.failQueries {
		return nil, assert.AnError
	}
	return stubVector(text), nil
}

func (s *stubClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	s.lastBatch = append([]string(nil), texts...)
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = stubVector(text)
	}
	return out, nil
}

func (s *stubClient) Dimension() int { return 4 }

func (s *stubClient) ModelID() string { return s.model }

func (s *stubClient) Health(context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy}
}

func (s *stubClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestCachedEmbedQueryCaches(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{Entries: 16}, nil)
	ctx := context.Background()

	first, err := cached.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	second, err := cached.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.queryCalls)
}

func TestCachedEmbedDocumentsPartialFill(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{Entries: 16}, nil)
	ctx := context.Background()

	_, err := cached.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	results, err := cached.EmbedDocuments(ctx, []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Only the miss went to the inner client.
	assert.Equal(t, 2, stub.batchCalls)
	assert.Equal(t, []string{"gamma"}, stub.lastBatch)

	assert.Equal(t, stubVector("beta"), results[0])
	assert.Equal(t, stubVector("gamma"), results[1])
	assert.Equal(t, stubVector("alpha"), results[2])
}

func TestCachedEmbedDocumentsAllHits(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{Entries: 16}, nil)
	ctx := context.Background()

	_, err := cached.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	_, err = cached.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.batchCalls)
}

func TestCachedCompressedRoundTrip(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{Entries: 16, Compress: true}, nil)
	ctx := context.Background()

	first, err := cached.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	second, err := cached.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.queryCalls)
}

func TestCachedErrorsNotCached(t *testing.T) {
	stub := newStubClient()
	stub.failQueries = true
	cached := NewCached(stub, CachedConfig{Entries: 16}, nil)
	ctx := context.Background()

	_, err := cached.EmbedQuery(ctx, "alpha")
	require.ErrorIs(t, err, assert.AnError)

	stub.mu.Lock()
	stub.failQueries = false
	stub.mu.Unlock()

	vec, err := cached.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, stubVector("alpha"), vec)
	assert.Equal(t, 2, stub.queryCalls)
}

func TestCachedKeyIncludesModel(t *testing.T) {
	a := NewCached(&stubClient{model: "model-a"}, CachedConfig{Entries: 4}, nil)
	b := NewCached(&stubClient{model: "model-b"}, CachedConfig{Entries: 4}, nil)

	assert.NotEqual(t, a.cacheKey("alpha"), b.cacheKey("alpha"))
	assert.Equal(t, a.cacheKey("alpha"), a.cacheKey("alpha"))
	assert.NotEqual(t, a.cacheKey("alpha"), a.cacheKey("beta"))
}

func TestCachedEmptyBatchDelegates(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{}, nil)

	_, err := cached.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCachedPassthroughs(t *testing.T) {
	stub := newStubClient()
	cached := NewCached(stub, CachedConfig{}, nil)

	assert.Equal(t, 4, cached.Dimension())
	assert.Equal(t, "stub-model", cached.ModelID())
	assert.Equal(t, vectorstore.HealthHealthy, cached.Health(context.Background()).State)

	require.NoError(t, cached.Close())
	assert.True(t, stub.closed)
}
