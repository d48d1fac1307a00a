package collections

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

func newTestRegistry(t *testing.T, dim int) (*Registry, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: dim,
	}, zap.NewNop())
	require.NoError(t, err)

	reg, err := NewRegistry(store, dim, filepath.Join(t.TempDir(), "collections.json"), zap.NewNop())
	require.NoError(t, err)
	return reg, store
}

func upsertPoints(t *testing.T, store vectorstore.Store, collection string, n int) {
	t.Helper()
	items := make([]vectorstore.Item, n)
	for i := range items {
		items[i] = vectorstore.Item{
			ID:     collection + "_" + string(rune('a'+i)),
			Vector: []float32{1, 0, 0, float32(i)},
			Payload: vectorstore.Payload{
				ProjectID: "backend",
				FilePath:  "main.go",
			},
		}
	}
	require.NoError(t, store.Upsert(context.Background(), collection, items))
}

func TestRegistryEnsure(t *testing.T) {
	reg, store := newTestRegistry(t, 4)
	ctx := context.Background()

	name, err := reg.Ensure(ctx, "Backend")
	require.NoError(t, err)
	assert.Equal(t, "project_backend_vectors", name)

	exists, err := store.CollectionExists(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	created, ok := reg.CreatedAt("Backend")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), created, 5*time.Second)

	// Idempotent: second ensure keeps the original timestamp.
	again, err := reg.Ensure(ctx, "Backend")
	require.NoError(t, err)
	assert.Equal(t, name, again)
	created2, ok := reg.CreatedAt("Backend")
	require.True(t, ok)
	assert.True(t, created.Equal(created2))
}

func TestRegistryEnsureInvalidProject(t *testing.T) {
	reg, _ := newTestRegistry(t, 4)

	_, err := reg.Ensure(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidProjectID, faults.CodeOf(err))
	assert.Equal(t, faults.CategoryValidation, faults.CategoryOf(err))
}

func TestRegistryEnsureDimensionMismatch(t *testing.T) {
	reg, store := newTestRegistry(t, 4)
	ctx := context.Background()

	// Collection already exists with another dimension.
	require.NoError(t, store.EnsureCollection(ctx, "project_backend_vectors", 8))

	_, err := reg.Ensure(ctx, "backend")
	require.Error(t, err)
	assert.Equal(t, faults.CodeDimensionMismatch, faults.CodeOf(err))
	assert.Equal(t, faults.CategoryValidation, faults.CategoryOf(err))
}

func TestRegistryDrop(t *testing.T) {
	reg, store := newTestRegistry(t, 4)
	ctx := context.Background()

	name, err := reg.Ensure(ctx, "backend")
	require.NoError(t, err)
	upsertPoints(t, store, name, 2)

	require.NoError(t, reg.Drop(ctx, "backend"))

	exists, err := store.CollectionExists(ctx, name)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok := reg.CreatedAt("backend")
	assert.False(t, ok)

	// Dropping a project with no collections is fine.
	assert.NoError(t, reg.Drop(ctx, "ghost"))
}

func TestRegistryStatus(t *testing.T) {
	reg, store := newTestRegistry(t, 4)
	ctx := context.Background()

	name, err := reg.Ensure(ctx, "backend")
	require.NoError(t, err)
	upsertPoints(t, store, name, 3)

	statuses, err := reg.Status(ctx, []string{"backend", "frontend"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	backend := statuses[0]
	assert.Equal(t, "backend", backend.ProjectID)
	require.Len(t, backend.Collections, 4)
	vectors := backend.Collections[0]
	assert.Equal(t, KindVectors, vectors.Kind)
	assert.True(t, vectors.Exists)
	assert.Equal(t, uint64(3), vectors.Points)
	assert.False(t, vectors.CreatedAt.IsZero())
	for _, cs := range backend.Collections[1:] {
		assert.False(t, cs.Exists, string(cs.Kind))
		assert.Zero(t, cs.Points)
	}

	frontend := statuses[1]
	for _, cs := range frontend.Collections {
		assert.False(t, cs.Exists)
	}
}

func TestRegistryStatePersistence(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "collections.json")
	ctx := context.Background()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       filepath.Join(dir, "store"),
		VectorSize: 4,
	}, zap.NewNop())
	require.NoError(t, err)

	reg, err := NewRegistry(store, 4, statePath, zap.NewNop())
	require.NoError(t, err)
	_, err = reg.Ensure(ctx, "backend")
	require.NoError(t, err)
	created, ok := reg.CreatedAt("backend")
	require.True(t, ok)

	reopened, err := NewRegistry(store, 4, statePath, zap.NewNop())
	require.NoError(t, err)
	persisted, ok := reopened.CreatedAt("backend")
	require.True(t, ok)
	assert.True(t, created.Equal(persisted))
}

func TestRegistryCorruptState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "collections.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 4,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = NewRegistry(store, 4, statePath, zap.NewNop())
	assert.ErrorIs(t, err, ErrStateCorrupted)
}

func TestNewRegistryValidation(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 4,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = NewRegistry(nil, 4, "", zap.NewNop())
	assert.ErrorContains(t, err, "store is required")

	_, err = NewRegistry(store, 0, "", zap.NewNop())
	assert.ErrorContains(t, err, "dimension must be positive")
}
