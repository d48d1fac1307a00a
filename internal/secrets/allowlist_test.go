package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAllowlist(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := writeAllowlist(t, `[allowlist]
regexes = ['''DEMO_API_KEY''', '''test-fixture-\w+''']
`)
		allow, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Equal(t, []string{`DEMO_API_KEY`, `test-fixture-\w+`}, allow.Regexes)
	})

	t.Run("missing file returns empty allowlist", func(t *testing.T) {
		allow, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Empty(t, allow.Regexes)
	})

	t.Run("invalid TOML", func(t *testing.T) {
		path := writeAllowlist(t, "not [ valid toml")
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("invalid regex pattern", func(t *testing.T) {
		path := writeAllowlist(t, `[allowlist]
regexes = ['''[invalid''']
`)
		_, err := LoadAllowlist(path)
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})

	t.Run("empty allowlist section", func(t *testing.T) {
		path := writeAllowlist(t, `[allowlist]
`)
		allow, err := LoadAllowlist(path)
		require.NoError(t, err)
		assert.Empty(t, allow.Regexes)
	})
}
