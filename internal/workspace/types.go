package workspace

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Priority is a project's indexing priority. Higher priorities are indexed
// first and score higher in ranking.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// ParsePriority parses a priority string. Empty input defaults to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(s)) {
	case "":
		return PriorityNormal, nil
	case PriorityCritical:
		return PriorityCritical, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want critical, high, normal, or low)", s)
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Multiplier returns the ranking score multiplier for this priority.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityCritical:
		return 1.5
	case PriorityHigh:
		return 1.2
	case PriorityLow:
		return 0.7
	default:
		return 1.0
	}
}

// QueueWeight returns the weighted-fair-queue share for this priority.
// Critical work drains eight slots for every one a low project gets.
func (p Priority) QueueWeight() int {
	switch p {
	case PriorityCritical:
		return 8
	case PriorityHigh:
		return 4
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// RelationshipKind labels a directed edge between two projects.
type RelationshipKind string

const (
	KindImports            RelationshipKind = "imports"
	KindAPIClient          RelationshipKind = "api_client"
	KindSharedDatabase     RelationshipKind = "shared_database"
	KindEventDriven        RelationshipKind = "event_driven"
	KindSemanticSimilarity RelationshipKind = "semantic_similarity"
	KindDependency         RelationshipKind = "dependency"
)

// Valid reports whether k is one of the known relationship kinds.
func (k RelationshipKind) Valid() bool {
	switch k {
	case KindImports, KindAPIClient, KindSharedDatabase, KindEventDriven,
		KindSemanticSimilarity, KindDependency:
		return true
	}
	return false
}

// IndexingPolicy controls whether and how a project is indexed.
type IndexingPolicy struct {
	Enabled      bool
	Priority     Priority
	ExcludeGlobs []string
}

// Project is one indexed code base within the workspace.
type Project struct {
	ID           string
	Name         string
	Path         string
	Type         string
	Languages    []string
	Dependencies []string
	Indexing     IndexingPolicy
	Metadata     map[string]string
}

// Relationship is a typed directed edge between two projects. Weight is
// meaningful for semantic_similarity edges and zero otherwise unless the
// document sets one.
type Relationship struct {
	From        string
	To          string
	Kind        RelationshipKind
	Description string
	Weight      float64
}

// SearchDefaults are workspace-level defaults applied to search requests
// that leave the corresponding field unset.
type SearchDefaults struct {
	Limit               int
	IncludeDependencies bool
	SimilarityThreshold float64
}

// Workspace is the validated in-memory model of a workspace document.
//
// SchemaVersion gates parser behavior and never reaches query fingerprints;
// Version identifies the workspace content and does.
type Workspace struct {
	SchemaVersion  int
	Version        string
	Name           string
	Projects       []*Project
	Relationships  []Relationship
	SearchDefaults SearchDefaults
}

// Project returns the project with the given id, or nil.
func (w *Workspace) Project(id string) *Project {
	for _, p := range w.Projects {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PathFilter matches paths against a project's exclude globs. Patterns are
// matched against the slash-separated path relative to the project root;
// patterns without a separator also match the bare file name, so "*.min.js"
// excludes minified files anywhere in the tree.
type PathFilter struct {
	patterns []string
	globs    []glob.Glob
	baseOnly []bool
}

// NewPathFilter compiles exclude glob patterns. Returns an error on the
// first pattern that does not compile.
func NewPathFilter(patterns []string) (*PathFilter, error) {
	f := &PathFilter{
		patterns: patterns,
		globs:    make([]glob.Glob, 0, len(patterns)),
		baseOnly: make([]bool, 0, len(patterns)),
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude glob %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
		f.baseOnly = append(f.baseOnly, !strings.Contains(p, "/"))
	}
	return f, nil
}

// Excluded reports whether the relative path matches any exclude pattern.
func (f *PathFilter) Excluded(rel string) bool {
	if f == nil || len(f.globs) == 0 {
		return false
	}
	rel = strings.TrimPrefix(rel, "/")
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	for i, g := range f.globs {
		if g.Match(rel) {
			return true
		}
		if f.baseOnly[i] && g.Match(base) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns the filter was compiled from.
func (f *PathFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	return f.patterns
}
