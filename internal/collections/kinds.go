package collections

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// Kind identifies the type of data stored in a per-project collection.
type Kind string

const (
	// KindVectors stores chunk embeddings. The search core reads and
	// writes this kind; the others are parallel collections.
	KindVectors Kind = "vectors"

	// KindSymbols stores extracted symbol embeddings.
	KindSymbols Kind = "symbols"

	// KindClasses stores extracted class/type embeddings.
	KindClasses Kind = "classes"

	// KindImports stores import-graph embeddings.
	KindImports Kind = "imports"
)

// Kinds returns all collection kinds in drop order.
func Kinds() []Kind {
	return []Kind{KindVectors, KindSymbols, KindClasses, KindImports}
}

// Name returns the collection name for a project and kind.
// Format: project_<project_id>_<kind>, with the project id lowered.
//
// Examples:
//   - "project_backend_vectors"
//   - "project_authlib_symbols"
func Name(projectID string, kind Kind) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project id cannot be empty")
	}
	if kind == "" {
		return "", fmt.Errorf("collection kind cannot be empty")
	}

	name := fmt.Sprintf("project_%s_%s", strings.ToLower(projectID), kind)
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}

// AllNames returns every collection name for a project, one per kind.
func AllNames(projectID string) ([]string, error) {
	kinds := Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		name, err := Name(projectID, k)
		if err != nil {
			return nil, fmt.Errorf("deriving name for kind %s: %w", k, err)
		}
		names = append(names, name)
	}
	return names, nil
}
