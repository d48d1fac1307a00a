package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStable(t *testing.T) {
	k := Key{
		Query:               "find the token refresh",
		Scope:               "PROJECT",
		ProjectID:           "api",
		Filters:             map[string]string{"language": "go", "file_type": "source"},
		WorkspaceVersion:    "1.2.0",
		WorkspaceGeneration: 3,
	}
	assert.Equal(t, Fingerprint(k, 8), Fingerprint(k, 8))
	assert.Len(t, Fingerprint(k, 8), 64)
}

func TestFingerprintNormalizesQuery(t *testing.T) {
	a := Key{Query: "Find   THE token\n", Scope: "WORKSPACE"}
	b := Key{Query: "find the token", Scope: "WORKSPACE"}
	assert.Equal(t, Fingerprint(a, 8), Fingerprint(b, 8))
}

func TestFingerprintFilterOrderIrrelevant(t *testing.T) {
	a := Key{Query: "q", Filters: map[string]string{"a": "1", "b": "2"}}
	b := Key{Query: "q", Filters: map[string]string{"b": "2", "a": "1"}}
	assert.Equal(t, Fingerprint(a, 8), Fingerprint(b, 8))
}

func TestFingerprintDistinguishes(t *testing.T) {
	base := Key{Query: "q", Scope: "PROJECT", ProjectID: "api", WorkspaceVersion: "1.0.0", WorkspaceGeneration: 1}

	diff := base
	diff.ProjectID = "shared"
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.Scope = "WORKSPACE"
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.WorkspaceGeneration = 2
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.WorkspaceVersion = "1.0.1"
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.Limit = 50
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.IncludeDependencies = true
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))

	diff = base
	diff.SimilarityThreshold = 0.7
	assert.NotEqual(t, Fingerprint(base, 8), Fingerprint(diff, 8))
}

func TestFingerprintRecentFilesPrefix(t *testing.T) {
	base := Key{Query: "q"}

	sorted := base
	sorted.RecentFiles = []string{"a.go", "b.go"}
	unsorted := base
	unsorted.RecentFiles = []string{"b.go", "a.go"}
	assert.Equal(t, Fingerprint(sorted, 8), Fingerprint(unsorted, 8))

	// files beyond the prefix do not change the fingerprint
	extended := base
	extended.RecentFiles = []string{"a.go", "b.go", "c.go"}
	assert.Equal(t, Fingerprint(sorted, 2), Fingerprint(extended, 2))

	// within the prefix they do
	assert.NotEqual(t, Fingerprint(sorted, 8), Fingerprint(extended, 8))

	// prefix 0 ignores the context entirely
	assert.Equal(t, Fingerprint(base, 0), Fingerprint(extended, 0))
}
