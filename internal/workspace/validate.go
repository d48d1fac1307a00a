package workspace

import (
	"os"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
)

var (
	versionPattern   = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:-[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*)?(?:\+[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*)?$`)
	projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ValidateOptions control optional validation behavior.
type ValidateOptions struct {
	// SkipPathCheck skips the project-path existence check, for dry-run
	// validation of documents that describe not-yet-materialized trees.
	SkipPathCheck bool
}

// Validate checks the workspace invariants. Checks run as ordered passes
// over the whole workspace and the first violated pass determines the
// error kind: version, duplicate ids, id syntax, paths, dependencies,
// cycles, then relationships. Within a pass, projects and relationships
// are scanned in document order, so validation is deterministic.
func Validate(w *Workspace, opts ValidateOptions) error {
	if !versionPattern.MatchString(w.Version) {
		return faults.Validation(faults.CodeInvalidWorkspaceVersion,
			"workspace version %q is not a semantic version", w.Version)
	}

	seen := make(map[string]bool, len(w.Projects))
	for _, p := range w.Projects {
		if seen[p.ID] {
			return faults.Validation(faults.CodeDuplicateProjectID,
				"duplicate project id %q", p.ID)
		}
		seen[p.ID] = true
	}

	for _, p := range w.Projects {
		if !projectIDPattern.MatchString(p.ID) {
			return faults.Validation(faults.CodeInvalidProjectID,
				"project id %q must match [A-Za-z0-9_]+", p.ID)
		}
	}

	for _, p := range w.Projects {
		if p.Path == "" {
			return faults.Validation(faults.CodeEmptyPath,
				"project %q has no path", p.ID)
		}
	}

	if !opts.SkipPathCheck {
		for _, p := range w.Projects {
			info, err := os.Stat(p.Path)
			if err != nil {
				return faults.Validation(faults.CodePathNotFound,
					"project %q path %s not found", p.ID, p.Path)
			}
			if !info.IsDir() {
				return faults.Validation(faults.CodePathNotFound,
					"project %q path %s is not a directory", p.ID, p.Path)
			}
		}
	}

	for _, p := range w.Projects {
		for _, dep := range p.Dependencies {
			if !seen[dep] {
				return faults.Validation(faults.CodeUnknownDependency,
					"project %q depends on unknown project %q", p.ID, dep)
			}
		}
	}

	for _, p := range w.Projects {
		for _, dep := range p.Dependencies {
			if dep == p.ID {
				return faults.Validation(faults.CodeSelfDependency,
					"project %q depends on itself", p.ID)
			}
		}
	}

	if cycle := findDependencyCycle(w); cycle != nil {
		return faults.Validation(faults.CodeCyclicDependency,
			"cyclic dependency: %s", strings.Join(cycle, " -> "))
	}

	for _, r := range w.Relationships {
		if !seen[r.From] {
			return faults.Validation(faults.CodeUnknownRelationshipEndpoint,
				"relationship references unknown project %q", r.From)
		}
		if !seen[r.To] {
			return faults.Validation(faults.CodeUnknownRelationshipEndpoint,
				"relationship references unknown project %q", r.To)
		}
	}

	for _, r := range w.Relationships {
		if r.From == r.To {
			return faults.Validation(faults.CodeSelfRelationship,
				"relationship from %q to itself", r.From)
		}
	}

	for _, r := range w.Relationships {
		if !r.Kind.Valid() {
			return faults.Validation(faults.CodeUnknownRelationshipKind,
				"relationship %s -> %s has unknown kind %q", r.From, r.To, r.Kind)
		}
	}

	return nil
}

// findDependencyCycle runs a depth-first search over the dependencies
// subgraph and returns the first cycle as a closed path (first id repeated
// at the end), or nil when the subgraph is acyclic.
func findDependencyCycle(w *Workspace) []string {
	deps := make(map[string][]string, len(w.Projects))
	for _, p := range w.Projects {
		deps[p.ID] = p.Dependencies
	}

	const (
		white = iota
		gray
		black
	)
	state := make(map[string]int, len(w.Projects))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch state[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = black
		return false
	}

	for _, p := range w.Projects {
		if state[p.ID] == white && visit(p.ID) {
			return cycle
		}
	}
	return nil
}
