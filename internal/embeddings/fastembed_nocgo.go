//go:build !cgo

package embeddings

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// ErrFastEmbedUnavailable is returned when FastEmbed is not available
// (binary built without CGO support, use the TEI provider instead).
var ErrFastEmbedUnavailable = errors.New("fastembed: not available (binary built without CGO support, use TEI provider instead)")

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedClient generates embeddings using local ONNX models.
// This is a stub for non-CGO builds.
type FastEmbedClient struct{}

// NewFastEmbedClient returns an error when CGO is not available.
func NewFastEmbedClient(_ FastEmbedConfig, _ *zap.Logger) (*FastEmbedClient, error) {
	return nil, ErrFastEmbedUnavailable
}

// EmbedDocuments returns an error when CGO is not available.
func (p *FastEmbedClient) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// EmbedQuery returns an error when CGO is not available.
func (p *FastEmbedClient) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// Dimension returns 0 when CGO is not available.
func (p *FastEmbedClient) Dimension() int {
	return 0
}

// ModelID returns an empty model id when CGO is not available.
func (p *FastEmbedClient) ModelID() string {
	return ""
}

// Health reports unreachable when CGO is not available.
func (p *FastEmbedClient) Health(_ context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{State: vectorstore.HealthUnreachable, Detail: "built without CGO"}
}

// Close is a no-op when CGO is not available.
func (p *FastEmbedClient) Close() error {
	return nil
}

// fastEmbedModelDimension returns dimensions for known FastEmbed models.
// String-keyed fallback for non-CGO builds.
func fastEmbedModelDimension(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"BAAI/bge-small-zh-v1.5":                 512,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
		"fast-bge-small-en-v1.5":                 384,
		"fast-bge-small-en":                      384,
		"fast-bge-base-en-v1.5":                  768,
		"fast-bge-base-en":                       768,
		"fast-bge-small-zh-v1.5":                 512,
		"fast-all-MiniLM-L6-v2":                  384,
	}
	dim, ok := dims[model]
	return dim, ok
}
