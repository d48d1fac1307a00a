package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

func testConfig() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		MaxQueryLen:   1024,
		MaxExpansions: 8,
		CacheEntries:  64,
		Enrichment:    config.EnrichmentConfig{Timeout: time.Second, MinConfidence: 0.8},
	}
}

func newAnalyzer(t *testing.T, enricher Enricher) *Analyzer {
	t.Helper()
	a, err := New(testConfig(), enricher, logging.NewNop())
	require.NoError(t, err)
	return a
}

func testSnapshot(t *testing.T, root string) *workspace.Snapshot {
	t.Helper()
	snap, err := workspace.NewSnapshot(&workspace.Workspace{
		Version: "1.0.0",
		Name:    "test",
		Projects: []*workspace.Project{{
			ID:   "app",
			Name: "app",
			Path: root,
		}},
	}, 1)
	require.NoError(t, err)
	return snap
}

func TestAnalyzeValidation(t *testing.T) {
	a := newAnalyzer(t, nil)

	_, err := a.Analyze(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeQueryEmpty})

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'x'
	}
	_, err = a.Analyze(context.Background(), string(long), nil)
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeQueryTooLong})
}

func TestIntentClassification(t *testing.T) {
	a := newAnalyzer(t, nil)

	cases := []struct {
		query string
		want  Intent
	}{
		{"find the retry helper", IntentSearch},
		{"where is the config loaded", IntentSearch},
		{"how does the token refresh flow work", IntentUnderstand},
		{"refactor the session manager into two types", IntentRefactor},
		{"why does login panic with a nil pointer", IntentDebug},
		{"optimize the slow startup path", IntentOptimize},
		{"implement support for streaming results", IntentImplement},
		{"update the readme changelog section", IntentDocument},
		{"what is the purpose of the janitor", IntentExplain},
	}
	for _, tc := range cases {
		parsed, err := a.Analyze(context.Background(), tc.query, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, parsed.Intent, "query: %s", tc.query)
		assert.GreaterOrEqual(t, parsed.Confidence, 0.5)
		assert.LessOrEqual(t, parsed.Confidence, 1.0)
	}
}

func TestDefaultIntent(t *testing.T) {
	a := newAnalyzer(t, nil)

	parsed, err := a.Analyze(context.Background(), "goroutine scheduling fairness", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentExplain, parsed.Intent)
	assert.Equal(t, 0.5, parsed.Confidence)
}

func TestEntityExtraction(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "internal"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "internal", "auth.go"), []byte("package auth\n"), 0o644))
	snap := testSnapshot(t, root)

	a := newAnalyzer(t, nil)
	parsed, err := a.Analyze(context.Background(),
		`why does internal/auth.go throw TokenExpiredError when calling refreshToken with "stale session"`, snap)
	require.NoError(t, err)

	byType := map[EntityType][]Entity{}
	for _, e := range parsed.Entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	require.Len(t, byType[EntityFilePath], 1)
	assert.Equal(t, "internal/auth.go", byType[EntityFilePath][0].Value)
	assert.True(t, byType[EntityFilePath][0].Validated)

	require.NotEmpty(t, byType[EntityError])
	assert.Equal(t, "TokenExpiredError", byType[EntityError][0].Value)

	var idents []string
	for _, e := range byType[EntityIdentifier] {
		idents = append(idents, e.Value)
	}
	assert.Contains(t, idents, "refreshToken")

	require.Len(t, byType[EntityQuoted], 1)
	assert.Equal(t, "stale session", byType[EntityQuoted][0].Value)
}

func TestFilePathNotValidatedWhenMissing(t *testing.T) {
	snap := testSnapshot(t, t.TempDir())
	a := newAnalyzer(t, nil)

	parsed, err := a.Analyze(context.Background(), "find cmd/ghost.go", snap)
	require.NoError(t, err)

	require.NotEmpty(t, parsed.Entities)
	assert.Equal(t, EntityFilePath, parsed.Entities[0].Type)
	assert.False(t, parsed.Entities[0].Validated)
}

func TestKeywordsDropStopwords(t *testing.T) {
	a := newAnalyzer(t, nil)

	parsed, err := a.Analyze(context.Background(), "where is the cache eviction logic", nil)
	require.NoError(t, err)
	assert.NotContains(t, parsed.Keywords, "the")
	assert.NotContains(t, parsed.Keywords, "where")
	assert.Contains(t, parsed.Keywords, "cache")
	assert.Contains(t, parsed.Keywords, "eviction")
}

func TestExpansionCapped(t *testing.T) {
	a := newAnalyzer(t, nil)

	parsed, err := a.Analyze(context.Background(), "explain authentication cache serialization search db", nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(parsed.ExpandedTerms), a.cfg.MaxExpansions)
	assert.NotEmpty(t, parsed.ExpandedTerms)
	// expansions never duplicate the keywords themselves
	for _, kw := range parsed.Keywords {
		assert.NotContains(t, parsed.ExpandedTerms, kw)
	}
}

func TestTokenBudgetScalesWithEntities(t *testing.T) {
	a := newAnalyzer(t, nil)

	plain, err := a.Analyze(context.Background(), "refactor the session handling", nil)
	require.NoError(t, err)

	withEntities, err := a.Analyze(context.Background(),
		"refactor parseToken and validateToken in internal/auth/token.go", nil)
	require.NoError(t, err)

	assert.Equal(t, IntentRefactor, plain.Intent)
	assert.Equal(t, IntentRefactor, withEntities.Intent)
	assert.Greater(t, withEntities.TokenBudget, plain.TokenBudget)
	assert.LessOrEqual(t, withEntities.TokenBudget, maxTokenBudget)
}

// Analyzing the same query twice must yield an identical result: the
// orchestrator fingerprints parsed queries and the cache depends on it.
func TestAnalyzeDeterministic(t *testing.T) {
	snap := testSnapshot(t, t.TempDir())
	a := newAnalyzer(t, nil)

	const q = `debug the TokenExpiredError in internal/auth.go after "session refresh"`
	first, err := a.Analyze(context.Background(), q, snap)
	require.NoError(t, err)

	// second analyzer instance: no memo sharing
	b := newAnalyzer(t, nil)
	second, err := b.Analyze(context.Background(), q, snap)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyzeMemoHit(t *testing.T) {
	a := newAnalyzer(t, nil)

	first, err := a.Analyze(context.Background(), "find the scheduler", nil)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "Find  THE scheduler", nil)
	require.NoError(t, err)

	// normalization makes these the same memo entry
	assert.Same(t, first, second)
}

type stubEnricher struct {
	enr *Enrichment
	err error
}

func (s *stubEnricher) Enrich(context.Context, *ParsedQuery) (*Enrichment, error) {
	return s.enr, s.err
}

func TestEnrichmentOverridesAboveThreshold(t *testing.T) {
	a := newAnalyzer(t, &stubEnricher{enr: &Enrichment{
		Intent:     IntentDebug,
		Confidence: 0.9,
		ExtraTerms: []string{"segfault"},
	}})

	parsed, err := a.Analyze(context.Background(), "look at the crash dumps", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentDebug, parsed.Intent)
	assert.Equal(t, 0.9, parsed.Confidence)
	assert.Contains(t, parsed.ExpandedTerms, "segfault")
}

func TestEnrichmentIgnoredBelowThreshold(t *testing.T) {
	a := newAnalyzer(t, &stubEnricher{enr: &Enrichment{
		Intent:     IntentDocument,
		Confidence: 0.4,
	}})

	parsed, err := a.Analyze(context.Background(), "find the scheduler", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSearch, parsed.Intent)
}

func TestEnrichmentFailureFallsBack(t *testing.T) {
	a := newAnalyzer(t, &stubEnricher{err: errors.New("model offline")})

	parsed, err := a.Analyze(context.Background(), "find the scheduler", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentSearch, parsed.Intent)
}

func TestParseEnrichment(t *testing.T) {
	enr, err := parseEnrichment("Sure, here you go:\n```json\n{\"intent\":\"debug\",\"confidence\":0.85,\"extra_terms\":[\"panic\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, IntentDebug, enr.Intent)
	assert.Equal(t, 0.85, enr.Confidence)
	assert.Equal(t, []string{"panic"}, enr.ExtraTerms)

	_, err = parseEnrichment("no json here")
	assert.Error(t, err)

	_, err = parseEnrichment(`{"intent":"ponder","confidence":0.9}`)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "find the cache", Normalize("  Find   THE\tcache \n"))
	assert.Equal(t, "café", Normalize("café"))
}
