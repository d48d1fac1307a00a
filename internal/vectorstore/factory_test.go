package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
)

func TestNewDefaultsToChromem(t *testing.T) {
	cfg := config.VectorStoreConfig{
		Chromem: config.ChromemConfig{Path: t.TempDir()},
	}

	store, err := New(cfg, 384, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*ChromemStore)
	assert.True(t, ok)

	st := store.Health(context.Background())
	assert.Equal(t, HealthHealthy, st.State)
}

func TestNewExplicitChromem(t *testing.T) {
	cfg := config.VectorStoreConfig{
		Provider: "chromem",
		Chromem:  config.ChromemConfig{Path: t.TempDir(), Compress: true},
	}

	store, err := New(cfg, 8, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureCollection(context.Background(), "project_api_vectors", 8))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Provider: "weaviate"}, 384, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "weaviate")
}
