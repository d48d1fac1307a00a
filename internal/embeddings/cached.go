package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// DefaultCacheEntries is the default number of vectors kept in the
// embedding cache.
const DefaultCacheEntries = 4096

// CachedConfig tunes the embedding cache decorator.
type CachedConfig struct {
	// Entries bounds the number of cached vectors.
	Entries int

	// Compress stores vectors bfloat16-packed, halving memory at the cost
	// of 7-bit mantissa precision on hits.
	Compress bool
}

// cachedVector holds one cached embedding in either representation.
type cachedVector struct {
	full   []float32
	packed []uint16
}

func (v cachedVector) vector() []float32 {
	if v.packed != nil {
		return DecodeBFloat16(v.packed)
	}
	return v.full
}

// Cached decorates a Client with an LRU keyed by (model id, text hash).
// Repeated inputs skip the network entirely.
type Cached struct {
	inner    Client
	modelID  string
	cache    *lru.Cache[string, cachedVector]
	compress bool
	metrics  *Metrics
}

// NewCached creates a caching decorator around inner.
func NewCached(inner Client, cfg CachedConfig, log *zap.Logger) *Cached {
	if cfg.Entries <= 0 {
		cfg.Entries = DefaultCacheEntries
	}
	cache, _ := lru.New[string, cachedVector](cfg.Entries)
	return &Cached{
		inner:    inner,
		modelID:  inner.ModelID(),
		cache:    cache,
		compress: cfg.Compress,
		metrics:  NewMetrics(log),
	}
}

// cacheKey derives the cache key from the model id and input text.
func (c *Cached) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.modelID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) store(key string, vec []float32) {
	if c.compress {
		c.cache.Add(key, cachedVector{packed: EncodeBFloat16(vec)})
		return
	}
	c.cache.Add(key, cachedVector{full: vec})
}

// EmbedQuery returns the cached embedding when available, otherwise
// computes and caches it.
func (c *Cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheHits(ctx, c.modelID, 1)
		return cached.vector(), nil
	}
	c.metrics.RecordCacheMisses(ctx, c.modelID, 1)

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	return vec, nil
}

// EmbedDocuments embeds a batch, filling cached entries locally and sending
// only the misses to the inner client.
func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return c.inner.EmbedDocuments(ctx, texts)
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if cached, ok := c.cache.Get(keys[i]); ok {
			results[i] = cached.vector()
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	c.metrics.RecordCacheHits(ctx, c.modelID, len(texts)-len(missTexts))
	if len(missTexts) == 0 {
		return results, nil
	}
	c.metrics.RecordCacheMisses(ctx, c.modelID, len(missTexts))

	fresh, err := c.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(fresh), len(missTexts))
	}

	for j, idx := range missIndices {
		results[idx] = fresh[j]
		c.store(keys[idx], fresh[j])
	}
	return results, nil
}

// Dimension returns the inner client's dimension.
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// ModelID returns the inner client's model identifier.
func (c *Cached) ModelID() string {
	return c.modelID
}

// Health reports the inner client's health.
func (c *Cached) Health(ctx context.Context) vectorstore.HealthStatus {
	return c.inner.Health(ctx)
}

// Close closes the inner client.
func (c *Cached) Close() error {
	return c.inner.Close()
}
