package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"critical", PriorityCritical, false},
		{"HIGH", PriorityHigh, false},
		{"normal", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"", PriorityNormal, false},
		{"urgent", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestPriorityMultiplier(t *testing.T) {
	assert.Equal(t, 1.5, PriorityCritical.Multiplier())
	assert.Equal(t, 1.2, PriorityHigh.Multiplier())
	assert.Equal(t, 1.0, PriorityNormal.Multiplier())
	assert.Equal(t, 0.7, PriorityLow.Multiplier())
}

func TestPriorityQueueWeight(t *testing.T) {
	assert.Equal(t, 8, PriorityCritical.QueueWeight())
	assert.Equal(t, 4, PriorityHigh.QueueWeight())
	assert.Equal(t, 2, PriorityNormal.QueueWeight())
	assert.Equal(t, 1, PriorityLow.QueueWeight())
}

func TestRelationshipKindValid(t *testing.T) {
	for _, k := range []RelationshipKind{
		KindImports, KindAPIClient, KindSharedDatabase,
		KindEventDriven, KindSemanticSimilarity, KindDependency,
	} {
		assert.True(t, k.Valid(), "kind %s", k)
	}
	assert.False(t, RelationshipKind("telepathy").Valid())
}

func TestPathFilter(t *testing.T) {
	f, err := NewPathFilter([]string{"node_modules/**", "*.min.js", "dist/*"})
	require.NoError(t, err)

	assert.True(t, f.Excluded("node_modules/react/index.js"))
	assert.True(t, f.Excluded("app.min.js"))
	assert.True(t, f.Excluded("static/vendor/app.min.js"))
	assert.True(t, f.Excluded("dist/bundle.js"))

	// Single star does not cross directory boundaries.
	assert.False(t, f.Excluded("dist/sub/bundle.js"))
	assert.False(t, f.Excluded("src/main.go"))

	assert.Equal(t, []string{"node_modules/**", "*.min.js", "dist/*"}, f.Patterns())
}

func TestPathFilter_Empty(t *testing.T) {
	f, err := NewPathFilter(nil)
	require.NoError(t, err)
	assert.False(t, f.Excluded("anything/at/all.go"))

	var nilFilter *PathFilter
	assert.False(t, nilFilter.Excluded("anything.go"))
}

func TestPathFilter_BadPattern(t *testing.T) {
	_, err := NewPathFilter([]string{"[oops"})
	assert.Error(t, err)
}

func TestWorkspaceProjectLookup(t *testing.T) {
	w := testWorkspace(t, testProject(t, "a"), testProject(t, "b"))
	require.NotNil(t, w.Project("a"))
	assert.Equal(t, "b", w.Project("b").ID)
	assert.Nil(t, w.Project("ghost"))
}
