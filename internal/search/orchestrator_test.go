package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/cache"
	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// fakeSearchStore serves canned hits per collection with optional
// per-collection latency and failure injection.
type fakeSearchStore struct {
	mu      sync.Mutex
	hits    map[string][]vectorstore.Hit
	delays  map[string]time.Duration
	failFor map[string]error

	searches        []string
	keywordSearches []string
}

func newFakeSearchStore() *fakeSearchStore {
	return &fakeSearchStore{
		hits:    map[string][]vectorstore.Hit{},
		delays:  map[string]time.Duration{},
		failFor: map[string]error{},
	}
}

func (s *fakeSearchStore) serve(ctx context.Context, collection string) ([]vectorstore.Hit, error) {
	s.mu.Lock()
	delay := s.delays[collection]
	failure := s.failFor[collection]
	hits := s.hits[collection]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	return hits, nil
}

func (s *fakeSearchStore) Search(ctx context.Context, collection string, _ []float32, _ int, _ *vectorstore.Filter) ([]vectorstore.Hit, error) {
	s.mu.Lock()
	s.searches = append(s.searches, collection)
	s.mu.Unlock()
	return s.serve(ctx, collection)
}

func (s *fakeSearchStore) KeywordSearch(ctx context.Context, collection, _ string, _ int, _ *vectorstore.Filter) ([]vectorstore.Hit, error) {
	s.mu.Lock()
	s.keywordSearches = append(s.keywordSearches, collection)
	s.mu.Unlock()
	return s.serve(ctx, collection)
}

func (s *fakeSearchStore) Upsert(context.Context, string, []vectorstore.Item) error { return nil }
func (s *fakeSearchStore) IDsByPath(context.Context, string, string, string) ([]string, error) {
	return nil, nil
}
func (s *fakeSearchStore) DeleteByPath(context.Context, string, string, string) error {
	return nil
}
func (s *fakeSearchStore) EnsureCollection(context.Context, string, int) error { return nil }
func (s *fakeSearchStore) DropCollection(context.Context, string) error        { return nil }
func (s *fakeSearchStore) CollectionExists(context.Context, string) (bool, error) {
	return true, nil
}
func (s *fakeSearchStore) Count(context.Context, string) (uint64, error) { return 0, nil }
func (s *fakeSearchStore) Health(context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy}
}
func (s *fakeSearchStore) Close() error { return nil }

type fakeQueryEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (e *fakeQueryEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail {
		return nil, embeddings.ErrEmbeddingUnavailable
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeQueryEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (e *fakeQueryEmbedder) Dimension() int  { return 3 }
func (e *fakeQueryEmbedder) ModelID() string { return "fake" }
func (e *fakeQueryEmbedder) Health(context.Context) vectorstore.HealthStatus {
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy}
}
func (e *fakeQueryEmbedder) Close() error { return nil }

type fakeSnapshots struct{ snap *workspace.Snapshot }

func (f *fakeSnapshots) Current() *workspace.Snapshot { return f.snap }

func searchSnapshot(t *testing.T) *workspace.Snapshot {
	t.Helper()
	snap, err := workspace.NewSnapshot(&workspace.Workspace{
		Version: "1.0.0",
		Name:    "test",
		Projects: []*workspace.Project{
			{ID: "api", Name: "api", Path: "/ws/api", Dependencies: []string{"shared"},
				Indexing: workspace.IndexingPolicy{Enabled: true, Priority: workspace.PriorityCritical}},
			{ID: "shared", Name: "shared", Path: "/ws/shared", Dependencies: []string{"base"},
				Indexing: workspace.IndexingPolicy{Enabled: true, Priority: workspace.PriorityNormal}},
			{ID: "base", Name: "base", Path: "/ws/base",
				Indexing: workspace.IndexingPolicy{Enabled: true, Priority: workspace.PriorityLow}},
			{ID: "dark", Name: "dark", Path: "/ws/dark",
				Indexing: workspace.IndexingPolicy{Enabled: false}},
		},
		Relationships: []workspace.Relationship{
			{From: "api", To: "base", Kind: workspace.KindSemanticSimilarity, Weight: 0.8},
			{From: "api", To: "shared", Kind: workspace.KindSemanticSimilarity, Weight: 0.3},
		},
	}, 1)
	require.NoError(t, err)
	return snap
}

type harness struct {
	orch  *Orchestrator
	store *fakeSearchStore
	emb   *fakeQueryEmbedder
	snap  *workspace.Snapshot
}

func newHarness(t *testing.T, qc QueryCache) *harness {
	t.Helper()
	store := newFakeSearchStore()
	emb := &fakeQueryEmbedder{}
	snap := searchSnapshot(t)

	analyzer, err := query.New(config.AnalyzerConfig{
		MaxQueryLen:   1024,
		MaxExpansions: 8,
		CacheEntries:  64,
		Enrichment:    config.EnrichmentConfig{Timeout: time.Second},
	}, nil, logging.NewNop())
	require.NoError(t, err)

	ranker := ranking.New(config.RankingConfig{
		Weights:           config.DefaultRankingWeights(),
		RecencyWindowDays: 30,
	})

	orch := New(config.SearchConfig{
		MaxConcurrent:             10,
		FanoutMultiplier:          3,
		EarlyTerminationThreshold: 0.95,
		DefaultLimit:              10,
		MaxLimit:                  100,
		QueryTimeout:              5 * time.Second,
		StreamBatchSize:           5,
	}, config.CacheConfig{RecentFilesPrefix: 8}, Deps{
		Snapshots: &fakeSnapshots{snap: snap},
		Store:     store,
		Embedder:  emb,
		Analyzer:  analyzer,
		Ranker:    ranker,
		Cache:     qc,
		Log:       logging.NewNop(),
	})
	return &harness{orch: orch, store: store, emb: emb, snap: snap}
}

func hit(projectID, path string, lineStart, lineEnd int, score float32, snippet string) vectorstore.Hit {
	return vectorstore.Hit{
		ID:    fmt.Sprintf("%s-%s-%d", projectID, path, lineStart),
		Score: score,
		Payload: vectorstore.Payload{
			ProjectID: projectID,
			FilePath:  path,
			LineStart: lineStart,
			LineEnd:   lineEnd,
			Content:   snippet,
		},
	}
}

func coll(projectID string) string { return "project_" + projectID + "_vectors" }

func TestSearchValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.Search(ctx, Request{Query: "q", Scope: "GALAXY"})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeInvalidScope})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeProject})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeMissingProjectID})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeProject, ProjectID: "ghost"})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeUnknownProject})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeWorkspace, Limit: 1000})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeInvalidLimit})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeWorkspace,
		Filters: Filters{ExcludePatterns: []string{"["}}})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeInvalidFilter})

	_, err = h.orch.Search(ctx, Request{Query: "   ", Scope: ScopeWorkspace})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeQueryEmpty})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeWorkspace,
		Filters: Filters{MinScore: 1.5}})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeInvalidFilter})

	_, err = h.orch.Search(ctx, Request{Query: "q", Scope: ScopeWorkspace,
		Filters: Filters{DateFrom: time.Now(), DateTo: time.Now().Add(-time.Hour)}})
	assert.ErrorIs(t, err, &faults.Fault{Code: faults.CodeInvalidFilter})
}

func TestFingerprintCoversScopeParameters(t *testing.T) {
	h := newHarness(t, nil)

	deps := Request{Query: "token", Scope: ScopeDependencies, ProjectID: "api", Limit: 10}
	transitive := deps
	transitive.IncludeDependencies = true
	assert.NotEqual(t, h.orch.fingerprint(deps, h.snap), h.orch.fingerprint(transitive, h.snap),
		"direct and transitive dependency searches cover different projects")

	related := Request{Query: "token", Scope: ScopeRelated, ProjectID: "api", Limit: 10, SimilarityThreshold: 0.5}
	looser := related
	looser.SimilarityThreshold = 0.2
	assert.NotEqual(t, h.orch.fingerprint(related, h.snap), h.orch.fingerprint(looser, h.snap),
		"the relationship threshold changes the project set")

	narrow := deps
	narrow.Limit = 50
	assert.NotEqual(t, h.orch.fingerprint(deps, h.snap), h.orch.fingerprint(narrow, h.snap),
		"a cached limit-10 response must not serve a limit-50 request")

	scored := deps
	scored.Filters.MinScore = 0.4
	assert.NotEqual(t, h.orch.fingerprint(deps, h.snap), h.orch.fingerprint(scored, h.snap))
}

func TestCacheDistinguishesDependencyVariants(t *testing.T) {
	qc := newFakeQueryCache()
	h := newHarness(t, qc)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}
	h.store.hits[coll("base")] = []vectorstore.Hit{
		hit("base", "deep.go", 1, 10, 0.8, "alpha"),
	}

	direct, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeDependencies, ProjectID: "api",
	})
	require.NoError(t, err)
	require.Len(t, direct.Results, 1)

	transitive, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeDependencies, ProjectID: "api", IncludeDependencies: true,
	})
	require.NoError(t, err)
	assert.False(t, transitive.Metrics.CacheHit, "transitive variant must not reuse the direct entry")
	require.Len(t, transitive.Results, 2)
}

func TestScopeResolution(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name string
		req  Request
		want []string
	}{
		{"project", Request{Scope: ScopeProject, ProjectID: "api"}, []string{"api"}},
		{"direct deps", Request{Scope: ScopeDependencies, ProjectID: "api"}, []string{"api", "shared"}},
		{"transitive deps", Request{Scope: ScopeDependencies, ProjectID: "api", IncludeDependencies: true},
			[]string{"api", "shared", "base"}},
		{"workspace skips disabled", Request{Scope: ScopeWorkspace}, []string{"api", "shared", "base"}},
		{"related above threshold", Request{Scope: ScopeRelated, ProjectID: "api", SimilarityThreshold: 0.5},
			[]string{"api", "base"}},
		{"related lower threshold", Request{Scope: ScopeRelated, ProjectID: "api", SimilarityThreshold: 0.2},
			[]string{"api", "shared", "base"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			projects := h.orch.resolveScope(h.snap, tc.req)
			var ids []string
			for _, p := range projects {
				ids = append(ids, p.ID)
			}
			assert.ElementsMatch(t, tc.want, ids)
		})
	}
}

func TestSearchMergesAndRanks(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "internal/auth.go", 1, 20, 0.9, "token refresh"),
		hit("api", "internal/session.go", 5, 25, 0.6, "session store"),
	}
	h.store.hits[coll("shared")] = []vectorstore.Hit{
		hit("shared", "pkg/token.go", 1, 15, 0.7, "token helpers"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "token refresh", Scope: ScopeDependencies, ProjectID: "api",
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "internal/auth.go", resp.Results[0].FilePath)
	assert.Equal(t, 2, resp.Metrics.ProjectsSearched)
	assert.ElementsMatch(t, []string{"api", "shared"}, resp.Metrics.ProjectsSearchedList)
	assert.Equal(t, 3, resp.Metrics.TotalResultsBeforeMerge)
	assert.Equal(t, 3, resp.Metrics.TotalResultsAfterMerge)
	assert.Equal(t, 1, h.emb.calls, "query embedded exactly once")
	assert.Empty(t, resp.Errors)
	assert.False(t, resp.Metrics.CacheHit)
}

func TestSearchDeduplicatesKeepingBestScore(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.5, "alpha"),
		hit("api", "a.go", 1, 10, 0.8, "alpha"),
		hit("api", "a.go", 11, 20, 0.4, "beta"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Metrics.DeduplicatedCount)
	assert.InDelta(t, 0.8, resp.Results[0].RawScore, 1e-6)
}

func TestSearchExcludePatterns(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "internal/auth.go", 1, 10, 0.9, "auth"),
		hit("api", "vendor/lib/dep.go", 1, 10, 0.95, "dep"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "auth", Scope: ScopeProject, ProjectID: "api",
		Filters: Filters{ExcludePatterns: []string{"vendor/**"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "internal/auth.go", resp.Results[0].FilePath)
}

func TestSearchMinScoreFilter(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "strong.go", 1, 10, 0.9, "alpha"),
		hit("api", "weak.go", 1, 10, 0.3, "alpha"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
		Filters: Filters{MinScore: 0.5},
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "strong.go", resp.Results[0].FilePath)
}

func TestSearchDateRangeFilter(t *testing.T) {
	h := newHarness(t, nil)
	old := hit("api", "old.go", 1, 10, 0.9, "alpha")
	old.Payload.ModifiedTime = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	fresh := hit("api", "fresh.go", 1, 10, 0.8, "alpha")
	fresh.Payload.ModifiedTime = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	h.store.hits[coll("api")] = []vectorstore.Hit{old, fresh}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
		Filters: Filters{DateFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "fresh.go", resp.Results[0].FilePath)
}

func TestSearchDirectoryFilter(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "internal/auth/token.go", 1, 10, 0.9, "alpha"),
		hit("api", "internal/authz/policy.go", 1, 10, 0.8, "alpha"),
		hit("api", "docs/auth.md", 1, 10, 0.7, "alpha"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
		Filters: Filters{Directories: []string{"internal/auth/"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1, "prefix match stops at path segments")
	assert.Equal(t, "internal/auth/token.go", resp.Results[0].FilePath)
}

func TestProjectFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}
	h.store.failFor[coll("shared")] = vectorstore.ErrCollectionNotFound

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeDependencies, ProjectID: "api",
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "shared", resp.Errors[0].ProjectID)
	assert.Equal(t, "collection_not_found", resp.Errors[0].Code)
	assert.Equal(t, 1, resp.Metrics.ProjectsSearched)
}

func TestDegradedKeywordOnlySearch(t *testing.T) {
	h := newHarness(t, nil)
	h.emb.fail = true
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "token refresh handler"),
		hit("api", "b.go", 1, 10, 0.2, "unrelated"),
	}

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "token refresh", Scope: ScopeProject, ProjectID: "api",
	})
	require.NoError(t, err)

	assert.Equal(t, warningEmbeddings, resp.Warning)
	assert.Zero(t, resp.Metrics.EmbeddingTimeMS)
	require.Len(t, resp.Results, 2)
	// exact-match dominates under degraded scoring
	assert.Equal(t, "a.go", resp.Results[0].FilePath)
	assert.NotEmpty(t, h.store.keywordSearches)
	assert.Empty(t, h.store.searches)
}

func TestEarlyTerminationCancelsLowerPriority(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.97, "perfect match"),
	}
	h.store.hits[coll("base")] = []vectorstore.Hit{
		hit("base", "slow.go", 1, 10, 0.5, "slow"),
	}
	h.store.delays[coll("base")] = 300 * time.Millisecond

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "perfect match", Scope: ScopeWorkspace,
	})
	require.NoError(t, err)

	assert.Contains(t, resp.Metrics.CancelledProjects, "base")
	for _, r := range resp.Results {
		assert.NotEqual(t, "base", r.ProjectID)
	}
}

func TestSearchLimitTruncates(t *testing.T) {
	h := newHarness(t, nil)
	var hits []vectorstore.Hit
	for i := 0; i < 20; i++ {
		hits = append(hits, hit("api", fmt.Sprintf("f%02d.go", i), i*10, i*10+5, float32(i)/20, "x"))
	}
	h.store.hits[coll("api")] = hits

	resp, err := h.orch.Search(context.Background(), Request{
		Query: "x", Scope: ScopeProject, ProjectID: "api", Limit: 5,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 5)
}

type fakeQueryCache struct {
	mu          sync.Mutex
	store       map[string][]ranking.Result
	precomputed map[string][]ranking.Result
	sets        int
}

func newFakeQueryCache() *fakeQueryCache {
	return &fakeQueryCache{store: map[string][]ranking.Result{}, precomputed: map[string][]ranking.Result{}}
}

func (c *fakeQueryCache) Get(_ context.Context, fp string) ([]ranking.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results, ok := c.store[fp]
	return results, ok
}

func (c *fakeQueryCache) Set(_ context.Context, fp string, entry *cache.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[fp] = entry.Results
	c.sets++
}

func (c *fakeQueryCache) Precompute(_ context.Context, fp string, results []ranking.Result, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.precomputed[fp] = results
	return nil
}

func TestSearchUsesCache(t *testing.T) {
	qc := newFakeQueryCache()
	h := newHarness(t, qc)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}
	req := Request{Query: "alpha", Scope: ScopeProject, ProjectID: "api"}

	first, err := h.orch.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Metrics.CacheHit)
	assert.Equal(t, 1, qc.sets)

	second, err := h.orch.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, h.emb.calls, "query embedded once across both requests")
	assert.Len(t, h.store.searches, 1, "no second store call")
}

func TestDegradedResponsesAreNotCached(t *testing.T) {
	qc := newFakeQueryCache()
	h := newHarness(t, qc)
	h.emb.fail = true
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}

	_, err := h.orch.Search(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
	})
	require.NoError(t, err)
	assert.Zero(t, qc.sets)
}

func TestPrecomputeWritesLongLivedTier(t *testing.T) {
	qc := newFakeQueryCache()
	h := newHarness(t, qc)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}

	resp, err := h.orch.Precompute(context.Background(), Request{
		Query: "alpha", Scope: ScopeProject, ProjectID: "api",
	}, 48*time.Hour)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Len(t, qc.precomputed, 1)
	assert.Zero(t, qc.sets, "precompute must not write the working tiers")
}

func TestSearchStreamEmitsBatches(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
		hit("api", "b.go", 1, 10, 0.8, "beta"),
	}
	h.store.hits[coll("shared")] = []vectorstore.Hit{
		hit("shared", "c.go", 1, 10, 0.7, "gamma"),
	}

	var mu sync.Mutex
	var batches [][]ranking.Result
	resp, err := h.orch.SearchStream(context.Background(), Request{
		Query: "alpha", Scope: ScopeDependencies, ProjectID: "api",
	}, func(batch []ranking.Result) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)

	assert.NotEmpty(t, batches)
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, total, len(resp.Results))
	assert.Equal(t, 2, resp.Metrics.ProjectsSearched)
}

func TestSearchStreamRisingFloor(t *testing.T) {
	h := newHarness(t, nil)
	// high-priority project answers first with strong scores; the slow
	// low-priority project's weak results arrive later and are suppressed
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "strong"),
	}
	h.store.hits[coll("base")] = []vectorstore.Hit{
		hit("base", "weak.go", 1, 10, 0.05, "weak"),
	}
	h.store.delays[coll("base")] = 100 * time.Millisecond

	var mu sync.Mutex
	var emitted []ranking.Result
	_, err := h.orch.SearchStream(context.Background(), Request{
		Query: "strong", Scope: ScopeWorkspace,
	}, func(batch []ranking.Result) error {
		mu.Lock()
		defer mu.Unlock()
		emitted = append(emitted, batch...)
		return nil
	})
	require.NoError(t, err)

	require.NotEmpty(t, emitted)
	for _, r := range emitted {
		assert.NotEqual(t, "weak.go", r.FilePath, "late weak result must be suppressed by the floor")
	}
}

func TestSearchStreamConsumerStops(t *testing.T) {
	h := newHarness(t, nil)
	h.store.hits[coll("api")] = []vectorstore.Hit{
		hit("api", "a.go", 1, 10, 0.9, "alpha"),
	}
	h.store.hits[coll("shared")] = []vectorstore.Hit{
		hit("shared", "b.go", 1, 10, 0.8, "beta"),
	}
	h.store.delays[coll("shared")] = 100 * time.Millisecond

	calls := 0
	resp, err := h.orch.SearchStream(context.Background(), Request{
		Query: "alpha", Scope: ScopeDependencies, ProjectID: "api",
	}, func([]ranking.Result) error {
		calls++
		return errors.New("consumer gone")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, resp.Results, "nothing recorded after the consumer bailed")
}
