package collections

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		projectID string
		kind      Kind
		want      string
	}{
		{"backend", KindVectors, "project_backend_vectors"},
		{"AuthLib", KindSymbols, "project_authlib_symbols"},
		{"svc_42", KindClasses, "project_svc_42_classes"},
		{"Frontend", KindImports, "project_frontend_imports"},
	}
	for _, tt := range tests {
		got, err := Name(tt.projectID, tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNameInvalid(t *testing.T) {
	_, err := Name("", KindVectors)
	assert.ErrorContains(t, err, "empty")

	_, err = Name("backend", "")
	assert.ErrorContains(t, err, "empty")

	// Long ids overflow the collection name limit.
	_, err = Name(strings.Repeat("a", 130), KindVectors)
	assert.Error(t, err)
}

func TestAllNames(t *testing.T) {
	names, err := AllNames("API")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"project_api_vectors",
		"project_api_symbols",
		"project_api_classes",
		"project_api_imports",
	}, names)
}
