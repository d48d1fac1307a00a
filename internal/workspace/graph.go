package workspace

// Graph is the directed labeled relationship view over the workspace's
// projects, plus the acyclic dependencies subgraph. Both are views over
// the same node set: edges live in one arena slice and adjacency lists
// hold indices into it, never pointers.
//
// A Graph is built once per workspace load and never mutated, so reads
// need no locking. Transitive dependency lists are computed at build time
// and returned in topological order (a project before the projects it
// depends on).
type Graph struct {
	ids   []string
	index map[string]int32

	edges []edge
	out   [][]int32
	in    [][]int32

	deps      [][]int32
	revDeps   [][]int32
	transDeps [][]int32
}

type edge struct {
	from   int32
	to     int32
	kind   RelationshipKind
	weight float64
}

type edgeKey struct {
	from int32
	to   int32
	kind RelationshipKind
}

// NewGraph builds the graph for a validated workspace. Explicit
// relationship edges keep document order; every dependency adds an implied
// imports edge unless the document already declares one.
func NewGraph(w *Workspace) *Graph {
	n := len(w.Projects)
	g := &Graph{
		ids:     make([]string, n),
		index:   make(map[string]int32, n),
		out:     make([][]int32, n),
		in:      make([][]int32, n),
		deps:    make([][]int32, n),
		revDeps: make([][]int32, n),
	}

	for i, p := range w.Projects {
		g.ids[i] = p.ID
		g.index[p.ID] = int32(i)
	}

	for i, p := range w.Projects {
		for _, dep := range p.Dependencies {
			if di, ok := g.index[dep]; ok {
				g.deps[i] = append(g.deps[i], di)
				g.revDeps[di] = append(g.revDeps[di], int32(i))
			}
		}
	}

	seen := make(map[edgeKey]bool, len(w.Relationships))
	addEdge := func(from, to int32, kind RelationshipKind, weight float64) {
		key := edgeKey{from: from, to: to, kind: kind}
		if seen[key] {
			return
		}
		seen[key] = true
		ei := int32(len(g.edges))
		g.edges = append(g.edges, edge{from: from, to: to, kind: kind, weight: weight})
		g.out[from] = append(g.out[from], ei)
		g.in[to] = append(g.in[to], ei)
	}

	for _, r := range w.Relationships {
		fi, fok := g.index[r.From]
		ti, tok := g.index[r.To]
		if !fok || !tok {
			continue
		}
		addEdge(fi, ti, r.Kind, r.Weight)
	}
	for i := range w.Projects {
		for _, di := range g.deps[i] {
			addEdge(int32(i), di, KindImports, 0)
		}
	}

	g.computeTransitive()
	return g
}

// computeTransitive fills transDeps for every node: depth-first over the
// dependencies subgraph, siblings in declaration order, result topological.
func (g *Graph) computeTransitive() {
	g.transDeps = make([][]int32, len(g.ids))
	for i := range g.ids {
		visited := make([]bool, len(g.ids))
		var order []int32

		var visit func(n int32)
		visit = func(n int32) {
			visited[n] = true
			dl := g.deps[n]
			for j := len(dl) - 1; j >= 0; j-- {
				if d := dl[j]; !visited[d] {
					visit(d)
				}
			}
			order = append(order, n)
		}

		visited[i] = true
		dl := g.deps[i]
		for j := len(dl) - 1; j >= 0; j-- {
			if d := dl[j]; !visited[d] {
				visit(d)
			}
		}

		for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
			order[l], order[r] = order[r], order[l]
		}
		g.transDeps[i] = order
	}
}

// Contains reports whether the graph knows the project id.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// DirectDependencies returns the ids the project depends on directly, in
// declaration order.
func (g *Graph) DirectDependencies(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.deps[n])
}

// TransitiveDependencies returns every project reachable through the
// dependencies subgraph, excluding id itself, in topological order.
func (g *Graph) TransitiveDependencies(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.transDeps[n])
}

// ReverseDependencies returns the ids of projects that depend on id
// directly, in document order.
func (g *Graph) ReverseDependencies(id string) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.revDeps[n])
}

// Related returns projects connected from id by a semantic_similarity edge
// with weight >= threshold, in edge declaration order.
func (g *Graph) Related(id string, threshold float64) []string {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	var out []string
	emitted := make(map[int32]bool)
	for _, ei := range g.out[n] {
		e := &g.edges[ei]
		if e.kind != KindSemanticSimilarity || e.weight < threshold {
			continue
		}
		if emitted[e.to] {
			continue
		}
		emitted[e.to] = true
		out = append(out, g.ids[e.to])
	}
	return out
}

// HasDirectDependency reports whether from lists to in its dependencies.
func (g *Graph) HasDirectDependency(from, to string) bool {
	fi, fok := g.index[from]
	ti, tok := g.index[to]
	if !fok || !tok {
		return false
	}
	for _, d := range g.deps[fi] {
		if d == ti {
			return true
		}
	}
	return false
}

// MaxEdgeWeight returns the largest weight among edges from -> to of any
// kind, or 0 when no edge connects them in that direction.
func (g *Graph) MaxEdgeWeight(from, to string) float64 {
	fi, fok := g.index[from]
	ti, tok := g.index[to]
	if !fok || !tok {
		return 0
	}
	var max float64
	for _, ei := range g.out[fi] {
		if e := &g.edges[ei]; e.to == ti && e.weight > max {
			max = e.weight
		}
	}
	return max
}

// EdgesFrom returns the outgoing relationship edges of a project in arena
// order, implied imports edges included.
func (g *Graph) EdgesFrom(id string) []Relationship {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.materialize(g.out[n])
}

// EdgesTo returns the incoming relationship edges of a project in arena
// order.
func (g *Graph) EdgesTo(id string) []Relationship {
	n, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.materialize(g.in[n])
}

func (g *Graph) materialize(edgeIdx []int32) []Relationship {
	if len(edgeIdx) == 0 {
		return nil
	}
	out := make([]Relationship, 0, len(edgeIdx))
	for _, ei := range edgeIdx {
		e := &g.edges[ei]
		out = append(out, Relationship{
			From:   g.ids[e.from],
			To:     g.ids[e.to],
			Kind:   e.kind,
			Weight: e.weight,
		})
	}
	return out
}

func (g *Graph) idsOf(nodes []int32) []string {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, g.ids[n])
	}
	return out
}
