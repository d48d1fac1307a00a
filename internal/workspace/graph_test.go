package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w := testWorkspace(t,
		testProject(t, "a", "b", "c"),
		testProject(t, "b", "d"),
		testProject(t, "c", "d"),
		testProject(t, "d"),
	)
	require.NoError(t, Validate(w, ValidateOptions{}))
	return w
}

func TestGraph_Dependencies(t *testing.T) {
	g := NewGraph(graphWorkspace(t))

	assert.Equal(t, []string{"b", "c"}, g.DirectDependencies("a"))
	assert.Equal(t, []string{"d"}, g.DirectDependencies("b"))
	assert.Nil(t, g.DirectDependencies("d"))
	assert.Nil(t, g.DirectDependencies("ghost"))
}

func TestGraph_TransitiveTopological(t *testing.T) {
	g := NewGraph(graphWorkspace(t))

	// Diamond: every project before its own dependencies, siblings in
	// declaration order, shared dependency listed once.
	assert.Equal(t, []string{"b", "c", "d"}, g.TransitiveDependencies("a"))
	assert.Equal(t, []string{"d"}, g.TransitiveDependencies("b"))
	assert.Nil(t, g.TransitiveDependencies("d"))
}

func TestGraph_TransitiveChain(t *testing.T) {
	w := testWorkspace(t,
		testProject(t, "top", "mid"),
		testProject(t, "mid", "leaf"),
		testProject(t, "leaf"),
	)
	g := NewGraph(w)

	assert.Equal(t, []string{"mid", "leaf"}, g.TransitiveDependencies("top"))
}

func TestGraph_ReverseDependencies(t *testing.T) {
	g := NewGraph(graphWorkspace(t))

	assert.Equal(t, []string{"b", "c"}, g.ReverseDependencies("d"))
	assert.Equal(t, []string{"a"}, g.ReverseDependencies("b"))
	assert.Nil(t, g.ReverseDependencies("a"))
}

func TestGraph_RelatedThreshold(t *testing.T) {
	w := testWorkspace(t,
		testProject(t, "frontend"),
		testProject(t, "backend"),
		testProject(t, "docs"),
	)
	w.Relationships = []Relationship{
		{From: "frontend", To: "backend", Kind: KindSemanticSimilarity, Weight: 0.8},
		{From: "frontend", To: "docs", Kind: KindSemanticSimilarity, Weight: 0.6},
		{From: "frontend", To: "docs", Kind: KindAPIClient, Weight: 0.9},
	}
	g := NewGraph(w)

	assert.Equal(t, []string{"backend"}, g.Related("frontend", 0.7))
	assert.Equal(t, []string{"backend", "docs"}, g.Related("frontend", 0.5))
	assert.Nil(t, g.Related("frontend", 0.9))
	assert.Nil(t, g.Related("backend", 0.0))
}

func TestGraph_ImpliedImportsEdge(t *testing.T) {
	w := testWorkspace(t,
		testProject(t, "a", "b"),
		testProject(t, "b"),
	)
	g := NewGraph(w)

	edges := g.EdgesFrom("a")
	require.Len(t, edges, 1)
	assert.Equal(t, KindImports, edges[0].Kind)
	assert.Equal(t, "b", edges[0].To)

	// An explicit imports edge is not duplicated by the implied one.
	w.Relationships = []Relationship{{From: "a", To: "b", Kind: KindImports}}
	g = NewGraph(w)
	assert.Len(t, g.EdgesFrom("a"), 1)
	assert.Len(t, g.EdgesTo("b"), 1)
}

func TestGraph_EdgeWeightAndDependencyLookup(t *testing.T) {
	w := testWorkspace(t,
		testProject(t, "a", "b"),
		testProject(t, "b"),
		testProject(t, "c"),
	)
	w.Relationships = []Relationship{
		{From: "a", To: "c", Kind: KindSemanticSimilarity, Weight: 0.4},
		{From: "a", To: "c", Kind: KindEventDriven, Weight: 0.7},
	}
	g := NewGraph(w)

	assert.True(t, g.HasDirectDependency("a", "b"))
	assert.False(t, g.HasDirectDependency("b", "a"))
	assert.False(t, g.HasDirectDependency("a", "c"))

	assert.Equal(t, 0.7, g.MaxEdgeWeight("a", "c"))
	assert.Equal(t, 0.0, g.MaxEdgeWeight("c", "a"))
	assert.True(t, g.Contains("a"))
	assert.False(t, g.Contains("ghost"))
}
