package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

type stubSearcher struct {
	batches [][]ranking.Result
	resp    *search.Response
	err     error
	lastReq search.Request
	lastTTL time.Duration
}

func (s *stubSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &search.Response{}, nil
}

func (s *stubSearcher) SearchStream(_ context.Context, req search.Request, emit func([]ranking.Result) error) (*search.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	for _, batch := range s.batches {
		if err := emit(batch); err != nil {
			break
		}
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &search.Response{}, nil
}

func (s *stubSearcher) Precompute(_ context.Context, req search.Request, ttl time.Duration) (*search.Response, error) {
	s.lastReq = req
	s.lastTTL = ttl
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &search.Response{}, nil
}

type stubAnalyzer struct {
	lastRaw string
}

func (a *stubAnalyzer) Analyze(_ context.Context, raw string, _ *workspace.Snapshot) (*query.ParsedQuery, error) {
	a.lastRaw = raw
	return &query.ParsedQuery{Original: raw, Intent: query.IntentSearch, Confidence: 0.8}, nil
}

type stubIndexing struct {
	lastProject string
	lastPath    string
	lastDir     string
	recursive   bool
	allCalled   bool
	err         error
}

func (i *stubIndexing) IndexFile(_ context.Context, projectID, path string) error {
	i.lastProject, i.lastPath = projectID, path
	return i.err
}

func (i *stubIndexing) IndexDirectory(_ context.Context, projectID, dir string, recursive bool) (indexer.WalkReport, error) {
	i.lastProject, i.lastDir, i.recursive = projectID, dir, recursive
	return indexer.WalkReport{Enqueued: 4, Skipped: 1}, i.err
}

func (i *stubIndexing) IndexAll(context.Context) (indexer.WalkReport, error) {
	i.allCalled = true
	return indexer.WalkReport{Enqueued: 12}, i.err
}

type stubInval struct {
	lastProject string
	lastFile    string
	lastPattern string
	allCalled   bool
}

func (s *stubInval) InvalidateFile(_ context.Context, projectID, path string) int {
	s.lastProject, s.lastFile = projectID, path
	return 3
}

func (s *stubInval) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	s.lastPattern = pattern
	return 5, nil
}

func (s *stubInval) InvalidateProject(_ context.Context, projectID string) int {
	s.lastProject = projectID
	return 7
}

func (s *stubInval) InvalidateAll(context.Context) error {
	s.allCalled = true
	return nil
}

type stubHealth struct{ status vectorstore.HealthStatus }

func (h *stubHealth) Health(context.Context) vectorstore.HealthStatus { return h.status }

func healthy() *stubHealth {
	return &stubHealth{status: vectorstore.HealthStatus{State: vectorstore.HealthHealthy}}
}

func unreachable() *stubHealth {
	return &stubHealth{status: vectorstore.HealthStatus{State: vectorstore.HealthUnreachable, Detail: "connect refused"}}
}

func testDeps() Deps {
	return Deps{
		Searcher:  &stubSearcher{},
		Analyzer:  &stubAnalyzer{},
		Indexing:  &stubIndexing{},
		Inval:     &stubInval{},
		Snapshots: func() *workspace.Snapshot { return nil },
		Store:     healthy(),
		Embedder:  healthy(),
	}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv, err := New(config.ServerConfig{Addr: "localhost:0"}, deps, logging.NewNop())
	require.NoError(t, err)
	return srv
}

func postJSON(t *testing.T, srv *Server, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewValidatesDeps(t *testing.T) {
	deps := testDeps()
	deps.Searcher = nil
	_, err := New(config.ServerConfig{}, deps, logging.NewNop())
	assert.ErrorContains(t, err, "searcher is required")

	deps = testDeps()
	deps.Store = nil
	_, err = New(config.ServerConfig{}, deps, logging.NewNop())
	assert.ErrorContains(t, err, "store is required")

	_, err = New(config.ServerConfig{}, testDeps(), nil)
	assert.ErrorContains(t, err, "logger is required")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testDeps())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestReadyz(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		srv := newTestServer(t, testDeps())

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp readyzResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "healthy", resp.Store.State)
	})

	t.Run("store unreachable fails readiness", func(t *testing.T) {
		deps := testDeps()
		deps.Store = unreachable()
		srv := newTestServer(t, deps)

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp readyzResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unavailable", resp.Status)
	})

	t.Run("embedder unreachable only degrades", func(t *testing.T) {
		deps := testDeps()
		deps.Embedder = unreachable()
		srv := newTestServer(t, deps)

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp readyzResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
	})
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, testDeps())

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
}

func TestSearch(t *testing.T) {
	t.Run("returns the orchestrator response", func(t *testing.T) {
		deps := testDeps()
		searcher := &stubSearcher{resp: &search.Response{
			Results: []ranking.Result{{FilePath: "/w/api/auth.go", FinalScore: 0.91}},
			Metrics: search.Metrics{ProjectsSearched: 1},
		}}
		deps.Searcher = searcher
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/search", `{"query":"token refresh","scope":"DEPENDENCIES","project_id":"api","limit":3}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp search.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "/w/api/auth.go", resp.Results[0].FilePath)

		assert.Equal(t, "token refresh", searcher.lastReq.Query)
		assert.Equal(t, search.ScopeDependencies, searcher.lastReq.Scope)
		assert.Equal(t, 3, searcher.lastReq.Limit)
	})

	t.Run("request fault is a 400 with the code", func(t *testing.T) {
		deps := testDeps()
		deps.Searcher = &stubSearcher{err: faults.Request(faults.CodeUnknownProject, "project %q not in workspace", "ghost")}
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/search", `{"query":"x","project_id":"ghost"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown_project")
	})

	t.Run("external fault is a 502", func(t *testing.T) {
		deps := testDeps()
		deps.Searcher = &stubSearcher{err: faults.New(faults.CategoryExternal, faults.CodeVectorStoreUnavailable, "store down")}
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/search", `{"query":"x"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "vector_store_unavailable")
	})
}

func TestClassify(t *testing.T) {
	deps := testDeps()
	analyzer := &stubAnalyzer{}
	deps.Analyzer = analyzer
	srv := newTestServer(t, deps)

	rec := postJSON(t, srv, "/v1/query/classify", `{"query":"where is the retry loop"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "where is the retry loop", analyzer.lastRaw)
	var parsed query.ParsedQuery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, query.IntentSearch, parsed.Intent)
}

func TestIndex(t *testing.T) {
	t.Run("single file", func(t *testing.T) {
		deps := testDeps()
		indexing := &stubIndexing{}
		deps.Indexing = indexing
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/index", `{"project_id":"api","path":"/w/api/auth.go"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "api", indexing.lastProject)
		assert.Equal(t, "/w/api/auth.go", indexing.lastPath)
	})

	t.Run("directory walk honors recursive flag", func(t *testing.T) {
		deps := testDeps()
		indexing := &stubIndexing{}
		deps.Indexing = indexing
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/index", `{"project_id":"api","dir":"/w/api/internal","recursive":false}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/w/api/internal", indexing.lastDir)
		assert.False(t, indexing.recursive)
		var report indexer.WalkReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 4, report.Enqueued)
	})

	t.Run("all walks the workspace", func(t *testing.T) {
		deps := testDeps()
		indexing := &stubIndexing{}
		deps.Indexing = indexing
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/index", `{"all":true}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, indexing.allCalled)
	})

	t.Run("missing project id is a 400", func(t *testing.T) {
		srv := newTestServer(t, testDeps())

		rec := postJSON(t, srv, "/v1/index", `{"path":"/w/api/auth.go"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing_project_id")
	})
}

func TestCacheInvalidate(t *testing.T) {
	t.Run("by file", func(t *testing.T) {
		deps := testDeps()
		inval := &stubInval{}
		deps.Inval = inval
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{"project_id":"api","file":"/w/api/auth.go"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"invalidated":3`)
		assert.Equal(t, "/w/api/auth.go", inval.lastFile)
	})

	t.Run("by pattern", func(t *testing.T) {
		deps := testDeps()
		inval := &stubInval{}
		deps.Inval = inval
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{"pattern":"api:*.go"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"invalidated":5`)
	})

	t.Run("by project", func(t *testing.T) {
		deps := testDeps()
		inval := &stubInval{}
		deps.Inval = inval
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{"project_id":"api"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"invalidated":7`)
	})

	t.Run("everything", func(t *testing.T) {
		deps := testDeps()
		inval := &stubInval{}
		deps.Inval = inval
		srv := newTestServer(t, deps)

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{"all":true}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, inval.allCalled)
	})

	t.Run("file without project id is a 400", func(t *testing.T) {
		srv := newTestServer(t, testDeps())

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{"file":"/w/api/auth.go"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no selector is a 400", func(t *testing.T) {
		srv := newTestServer(t, testDeps())

		rec := postJSON(t, srv, "/v1/cache/invalidate", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_filter")
	})
}

func TestCachePrecompute(t *testing.T) {
	deps := testDeps()
	searcher := &stubSearcher{resp: &search.Response{
		Results: []ranking.Result{{FilePath: "a.go"}, {FilePath: "b.go"}},
	}}
	deps.Searcher = searcher
	srv := newTestServer(t, deps)

	rec := postJSON(t, srv, "/v1/cache/precompute", `{"query":"auth middleware","project_id":"api","ttl_hours":48}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":2`)
	assert.Equal(t, 48*time.Hour, searcher.lastTTL)
	assert.Equal(t, "auth middleware", searcher.lastReq.Query)
}

func TestSearchStream(t *testing.T) {
	t.Run("emits result batches and a done event", func(t *testing.T) {
		deps := testDeps()
		searcher := &stubSearcher{
			batches: [][]ranking.Result{
				{{FilePath: "a.go", FinalScore: 0.9}},
				{{FilePath: "b.go", FinalScore: 0.7}},
			},
			resp: &search.Response{
				Metrics: search.Metrics{ProjectsSearched: 2},
			},
		}
		deps.Searcher = searcher
		srv := newTestServer(t, deps)

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/v1/search/stream?query=auth+token&scope=project&project_id=api&limit=5&explain=true", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Equal(t, 2, strings.Count(body, "event: results"))
		assert.Contains(t, body, "a.go")
		assert.Contains(t, body, "b.go")
		assert.Contains(t, body, "event: done")
		assert.Contains(t, body, `"projects_searched":2`)

		assert.Equal(t, "auth token", searcher.lastReq.Query)
		assert.Equal(t, search.ScopeProject, searcher.lastReq.Scope)
		assert.Equal(t, "api", searcher.lastReq.ProjectID)
		assert.Equal(t, 5, searcher.lastReq.Limit)
		assert.True(t, searcher.lastReq.Explain)
	})

	t.Run("orchestrator rejection becomes an error event", func(t *testing.T) {
		deps := testDeps()
		deps.Searcher = &stubSearcher{
			err: faults.Request(faults.CodeUnknownProject, "project %q not in workspace", "ghost"),
		}
		srv := newTestServer(t, deps)

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/v1/search/stream?query=x&scope=project&project_id=ghost", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "event: error")
		assert.Contains(t, body, "unknown_project")
	})

	t.Run("bad limit is a 400", func(t *testing.T) {
		srv := newTestServer(t, testDeps())

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/v1/search/stream?query=x&limit=nope", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("filters parsed from comma lists", func(t *testing.T) {
		deps := testDeps()
		searcher := &stubSearcher{}
		deps.Searcher = searcher
		srv := newTestServer(t, deps)

		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/v1/search/stream?query=x&scope=workspace&languages=go,python&exclude=vendor/**", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"go", "python"}, searcher.lastReq.Filters.Languages)
		assert.Equal(t, []string{"vendor/**"}, searcher.lastReq.Filters.ExcludePatterns)
	})
}
