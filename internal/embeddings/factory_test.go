package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
)

func TestNewDefaultsToTEI(t *testing.T) {
	client, err := New(config.EmbeddingConfig{BaseURL: "http://localhost:8080"}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, ok := client.(*TEIClient)
	assert.True(t, ok, "expected *TEIClient, got %T", client)
	assert.Equal(t, 384, client.Dimension())
}

func TestNewWrapsWithCache(t *testing.T) {
	client, err := New(config.EmbeddingConfig{
		Provider:     "tei",
		BaseURL:      "http://localhost:8080",
		Model:        "BAAI/bge-base-en-v1.5",
		CacheEntries: 128,
	}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	cached, ok := client.(*Cached)
	require.True(t, ok, "expected *Cached, got %T", client)
	assert.Equal(t, "BAAI/bge-base-en-v1.5", cached.ModelID())
	assert.Equal(t, 768, cached.Dimension())
}

func TestNewOpenAIProvider(t *testing.T) {
	client, err := New(config.EmbeddingConfig{
		Provider: "openai",
		BaseURL:  "https://api.openai.com/v1",
	}, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "text-embedding-3-small", client.ModelID())
	assert.Equal(t, 1536, client.Dimension())
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "bedrock"}, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "bedrock")
}
