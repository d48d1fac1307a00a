package workspace

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
)

const fullDoc = `version: 1.2.0
name: shop
projects:
  - id: frontend
    name: Frontend
    path: frontend
    type: service
    language: [typescript, css]
    dependencies: [backend]
    indexing:
      enabled: true
      priority: high
      exclude: ["node_modules/**", "*.min.js"]
    metadata:
      team: web
  - id: backend
    name: Backend
    path: backend
relationships:
  - from: frontend
    to: backend
    type: api_client
    description: REST calls
  - from: frontend
    to: backend
    type: semantic_similarity
    weight: 0.8
search:
  limit: 20
  include_dependencies: true
  similarity_threshold: 0.6
`

func TestParse_Full(t *testing.T) {
	base := t.TempDir()

	w, unknown, err := Parse([]byte(fullDoc), base)
	require.NoError(t, err)
	assert.Empty(t, unknown)

	assert.Equal(t, SupportedSchemaVersion, w.SchemaVersion)
	assert.Equal(t, "1.2.0", w.Version)
	assert.Equal(t, "shop", w.Name)
	require.Len(t, w.Projects, 2)

	fe := w.Projects[0]
	assert.Equal(t, "frontend", fe.ID)
	assert.Equal(t, filepath.Join(base, "frontend"), fe.Path)
	assert.Equal(t, []string{"typescript", "css"}, fe.Languages)
	assert.Equal(t, []string{"backend"}, fe.Dependencies)
	assert.True(t, fe.Indexing.Enabled)
	assert.Equal(t, PriorityHigh, fe.Indexing.Priority)
	assert.Equal(t, []string{"node_modules/**", "*.min.js"}, fe.Indexing.ExcludeGlobs)
	assert.Equal(t, map[string]string{"team": "web"}, fe.Metadata)

	// Projects without an indexing section get the defaults.
	be := w.Projects[1]
	assert.True(t, be.Indexing.Enabled)
	assert.Equal(t, PriorityNormal, be.Indexing.Priority)
	assert.Nil(t, be.Indexing.ExcludeGlobs)

	require.Len(t, w.Relationships, 2)
	assert.Equal(t, KindAPIClient, w.Relationships[0].Kind)
	assert.Equal(t, "REST calls", w.Relationships[0].Description)
	assert.Equal(t, 0.8, w.Relationships[1].Weight)

	assert.Equal(t, 20, w.SearchDefaults.Limit)
	assert.True(t, w.SearchDefaults.IncludeDependencies)
	assert.Equal(t, 0.6, w.SearchDefaults.SimilarityThreshold)
}

func TestParse_Defaults(t *testing.T) {
	doc := `version: 1.0.0
name: minimal
projects:
  - id: app
    name: App
    path: /srv/app
`
	w, _, err := Parse([]byte(doc), "")
	require.NoError(t, err)

	assert.Equal(t, defaultSearchLimit, w.SearchDefaults.Limit)
	assert.False(t, w.SearchDefaults.IncludeDependencies)
	assert.Equal(t, defaultSimilarityThreshold, w.SearchDefaults.SimilarityThreshold)
}

func TestParse_ZeroProjects(t *testing.T) {
	w, _, err := Parse([]byte("version: 1.0.0\nname: empty\n"), "")
	require.NoError(t, err)
	assert.Empty(t, w.Projects)
	require.NoError(t, Validate(w, ValidateOptions{}))
}

func TestParse_UnknownFieldsWarn(t *testing.T) {
	doc := `version: 1.0.0
name: ws
color: blue
projects:
  - id: app
    name: App
    path: /srv/app
    flavor: vanilla
    indexing:
      enabled: true
      turbo: true
`
	w, unknown, err := Parse([]byte(doc), "")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.ElementsMatch(t, []string{
		"color",
		"projects[0].flavor",
		"projects[0].indexing.turbo",
	}, unknown)
}

func TestParse_SchemaVersionGate(t *testing.T) {
	doc := `schema_version: 2
version: 1.0.0
name: future
`
	_, _, err := Parse([]byte(doc), "")
	require.Error(t, err)
	assert.Equal(t, faults.CodeInvalidSchemaVersion, faults.CodeOf(err))
}

func TestParse_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown priority",
			doc: `version: 1.0.0
name: ws
projects:
  - id: app
    name: App
    path: /srv/app
    indexing:
      priority: urgent
`,
		},
		{
			name: "weight out of range",
			doc: `version: 1.0.0
name: ws
projects:
  - id: a
    name: A
    path: /srv/a
  - id: b
    name: B
    path: /srv/b
relationships:
  - from: a
    to: b
    type: semantic_similarity
    weight: 1.5
`,
		},
		{
			name: "bad exclude glob",
			doc: `version: 1.0.0
name: ws
projects:
  - id: app
    name: App
    path: /srv/app
    indexing:
      exclude: ["[oops"]
`,
		},
		{
			name: "zero search limit",
			doc: `version: 1.0.0
name: ws
projects: []
search:
  limit: 0
`,
		},
		{
			name: "threshold out of range",
			doc: `version: 1.0.0
name: ws
projects: []
search:
  similarity_threshold: 2.0
`,
		},
		{
			name: "malformed yaml",
			doc:  "version: [unclosed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.doc), "")
			require.Error(t, err)
			assert.Equal(t, faults.CodeInvalidWorkspaceValue, faults.CodeOf(err))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	base := t.TempDir()

	w, _, err := Parse([]byte(fullDoc), base)
	require.NoError(t, err)

	data, err := Marshal(w)
	require.NoError(t, err)

	w2, unknown, err := Parse(data, base)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, w, w2)
}

func TestSaveFileLoadFile(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "frontend"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "backend"), 0755))

	w, _, err := Parse([]byte(fullDoc), base)
	require.NoError(t, err)

	path := filepath.Join(base, "workspace.yaml")
	require.NoError(t, SaveFile(w, path))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	w2, unknown, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, w, w2)

	require.NoError(t, Validate(w2, ValidateOptions{}))
}
