package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCollectsRegisteredViews(t *testing.T) {
	RegisterSnapshot("test_component", func() any {
		return map[string]int{"hits": 3}
	})
	t.Cleanup(func() { UnregisterSnapshot("test_component") })

	snap := Snapshot()
	require.Contains(t, snap, "test_component")
	assert.Equal(t, map[string]int{"hits": 3}, snap["test_component"])
}

func TestRegisterSnapshotReplaces(t *testing.T) {
	RegisterSnapshot("replaceme", func() any { return 1 })
	RegisterSnapshot("replaceme", func() any { return 2 })
	t.Cleanup(func() { UnregisterSnapshot("replaceme") })

	assert.Equal(t, 2, Snapshot()["replaceme"])
}

func TestUnregisterSnapshot(t *testing.T) {
	RegisterSnapshot("gone", func() any { return 1 })
	UnregisterSnapshot("gone")
	assert.NotContains(t, Snapshot(), "gone")
}
