package embeddings

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

var tracer = otel.Tracer("workspaced.embeddings")

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a malformed or rejected embedding response.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrEmbeddingUnavailable indicates the embedding service could not be
	// reached after retries. Callers decide whether to degrade to
	// keyword-only scoring.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// Client generates embeddings for queries and document batches. All vectors
// produced by one client have the same dimension.
type Client interface {
	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension produced by the model.
	Dimension() int

	// ModelID returns the configured model identifier.
	ModelID() string

	// Health reports provider reachability.
	Health(ctx context.Context) vectorstore.HealthStatus

	// Close releases provider resources.
	Close() error
}

// modelDimensionOverrides covers models whose names defeat the size
// heuristics below.
var modelDimensionOverrides = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}

// DefaultDimension returns the embedding dimension for a model name.
// Falls back to 384 if the model is unknown.
func DefaultDimension(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	if dim, ok := modelDimensionOverrides[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 384
	}
}
