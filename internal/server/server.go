// Package server is the ops HTTP surface: liveness and readiness probes,
// prometheus metrics, the stats snapshot, the SSE streaming search
// endpoint and the unary JSON API the wsctl CLI drives. The tool surface
// for agents lives in internal/mcp; this server carries everything else.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Searcher is the slice of the orchestrator the server needs.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	SearchStream(ctx context.Context, req search.Request, emit func(batch []ranking.Result) error) (*search.Response, error)
	Precompute(ctx context.Context, req search.Request, ttl time.Duration) (*search.Response, error)
}

// Analyzer classifies queries without running a search.
type Analyzer interface {
	Analyze(ctx context.Context, raw string, snap *workspace.Snapshot) (*query.ParsedQuery, error)
}

// Indexing is the slice of the indexer the index endpoint needs.
type Indexing interface {
	IndexFile(ctx context.Context, projectID, path string) error
	IndexDirectory(ctx context.Context, projectID, dir string, recursive bool) (indexer.WalkReport, error)
	IndexAll(ctx context.Context) (indexer.WalkReport, error)
}

// Invalidation is the slice of the invalidator the cache endpoint needs.
type Invalidation interface {
	InvalidateFile(ctx context.Context, projectID, path string) int
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	InvalidateProject(ctx context.Context, projectID string) int
	InvalidateAll(ctx context.Context) error
}

// HealthChecker reports a collaborator's reachability.
type HealthChecker interface {
	Health(ctx context.Context) vectorstore.HealthStatus
}

// Deps carries the server's collaborators. Embedder may be nil; readiness
// then reports on the store alone.
type Deps struct {
	Searcher  Searcher
	Analyzer  Analyzer
	Indexing  Indexing
	Inval     Invalidation
	Snapshots func() *workspace.Snapshot
	Store     HealthChecker
	Embedder  HealthChecker
}

// Server is the ops HTTP server.
type Server struct {
	echo *echo.Echo
	cfg  config.ServerConfig
	log  *logging.Logger
	deps Deps
}

// New builds the server and registers its routes.
func New(cfg config.ServerConfig, deps Deps, log *logging.Logger) (*Server, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if deps.Indexing == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if deps.Inval == nil {
		return nil, fmt.Errorf("invalidator is required")
	}
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		cfg:  cfg,
		log:  log.Named("server"),
		deps: deps,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/search/stream", s.handleSearchStream)
	v1.POST("/search", s.handleSearch)
	v1.POST("/query/classify", s.handleClassify)
	v1.POST("/index", s.handleIndex)
	v1.POST("/cache/invalidate", s.handleCacheInvalidate)
	v1.POST("/cache/precompute", s.handleCachePrecompute)

	return s, nil
}

// requestLogger logs one line per request, carrying the request id so the
// line joins up with the correlation id in component logs.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.log.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// handleHealthz is the liveness probe: the process is up and serving.
func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readyzResponse is the body of GET /readyz.
type readyzResponse struct {
	Status     string     `json:"status"`
	Store      healthView `json:"store"`
	Embeddings healthView `json:"embeddings"`
}

type healthView struct {
	State   string `json:"state"`
	Latency string `json:"latency,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func toHealthView(h vectorstore.HealthStatus) healthView {
	v := healthView{State: string(h.State), Detail: h.Detail}
	if h.Latency > 0 {
		v.Latency = h.Latency.String()
	}
	return v
}

// handleReadyz probes the store and the embedding provider. An unreachable
// store fails readiness; an unreachable embedder only degrades it, since
// search still serves keyword-only results.
func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := readyzResponse{Status: "ready"}
	resp.Store = toHealthView(s.deps.Store.Health(ctx))
	if s.deps.Embedder != nil {
		resp.Embeddings = toHealthView(s.deps.Embedder.Health(ctx))
	}

	code := http.StatusOK
	if resp.Store.State == string(vectorstore.HealthUnreachable) {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if resp.Embeddings.State == string(vectorstore.HealthUnreachable) {
		resp.Status = "degraded"
	}
	return c.JSON(code, resp)
}

// handleStats serves the assembled component snapshot map.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, metrics.Snapshot())
}

// parseStreamRequest maps the SSE endpoint's query parameters onto a
// search request. Validation proper happens inside the orchestrator.
func parseStreamRequest(c echo.Context) (search.Request, error) {
	req := search.Request{
		Query:     c.QueryParam("query"),
		Scope:     search.Scope(strings.ToUpper(c.QueryParam("scope"))),
		ProjectID: c.QueryParam("project_id"),
	}
	if req.Scope == "" {
		req.Scope = search.ScopeProject
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("limit: %w", err)
		}
		req.Limit = limit
	}
	if raw := c.QueryParam("include_dependencies"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("include_dependencies: %w", err)
		}
		req.IncludeDependencies = include
	}
	if raw := c.QueryParam("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("threshold: %w", err)
		}
		req.SimilarityThreshold = threshold
	}
	req.Explain = c.QueryParam("explain") == "true"
	if raw := c.QueryParam("languages"); raw != "" {
		req.Filters.Languages = strings.Split(raw, ",")
	}
	if raw := c.QueryParam("exclude"); raw != "" {
		req.Filters.ExcludePatterns = strings.Split(raw, ",")
	}
	return req, nil
}

// handleSearchStream serves a streaming search over SSE. Each ranked batch
// is one "results" event; a final "done" event carries the request metrics.
// Validation failures arrive as an "error" event, since headers are already
// out by the time the orchestrator rejects the request.
func (s *Server) handleSearchStream(c echo.Context) error {
	req, err := parseStreamRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	resp, err := s.deps.Searcher.SearchStream(ctx, req, func(batch []ranking.Result) error {
		return writeEvent(c, "results", batch)
	})
	if err != nil {
		code := faults.CodeOf(err)
		_ = writeEvent(c, "error", map[string]string{
			"code":    string(code),
			"message": err.Error(),
		})
		return nil
	}

	done := map[string]any{"metrics": resp.Metrics}
	if resp.Warning != "" {
		done["warning"] = resp.Warning
	}
	if len(resp.Errors) > 0 {
		done["errors"] = resp.Errors
	}
	return writeEvent(c, "done", done)
}

// writeEvent writes one SSE event and flushes it to the client.
func writeEvent(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// faultError is the JSON body of every non-2xx response on the unary API.
type faultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// faultResponse maps a fault to an HTTP status by category: caller
// mistakes are 400, unavailable dependencies are 502, everything else
// is a 500.
func faultResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch faults.CategoryOf(err) {
	case faults.CategoryRequest, faults.CategoryValidation:
		status = http.StatusBadRequest
	case faults.CategoryExternal:
		status = http.StatusBadGateway
	case faults.CategoryResource:
		status = http.StatusRequestTimeout
	}
	return c.JSON(status, faultError{
		Code:    string(faults.CodeOf(err)),
		Message: err.Error(),
	})
}

// handleSearch runs a unary search. The request body is the orchestrator
// request verbatim; the response is the full orchestrator response,
// including per-project errors and the degraded-mode warning.
func (s *Server) handleSearch(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Scope == "" {
		req.Scope = search.ScopeProject
	}
	resp, err := s.deps.Searcher.Search(c.Request().Context(), req)
	if err != nil {
		return faultResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type classifyRequest struct {
	Query string `json:"query"`
}

// handleClassify parses and classifies a query without searching.
func (s *Server) handleClassify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	parsed, err := s.deps.Analyzer.Analyze(c.Request().Context(), req.Query, s.deps.Snapshots())
	if err != nil {
		return faultResponse(c, err)
	}
	return c.JSON(http.StatusOK, parsed)
}

type indexRequest struct {
	All       bool   `json:"all,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Path      string `json:"path,omitempty"`
	Dir       string `json:"dir,omitempty"`
	Recursive *bool  `json:"recursive,omitempty"`
}

// handleIndex enqueues indexing work: one file, a directory walk, or the
// whole workspace. Walk errors come back in the body, not as a failure;
// the exit-code policy for partial failures lives in the caller.
func (s *Server) handleIndex(c echo.Context) error {
	var req indexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	switch {
	case req.All:
		report, err := s.deps.Indexing.IndexAll(ctx)
		if err != nil {
			return faultResponse(c, err)
		}
		return c.JSON(http.StatusOK, report)
	case req.ProjectID == "":
		return faultResponse(c, faults.Request(faults.CodeMissingProjectID, "project_id is required unless all is set"))
	case req.Path != "":
		if err := s.deps.Indexing.IndexFile(ctx, req.ProjectID, req.Path); err != nil {
			return faultResponse(c, err)
		}
		return c.JSON(http.StatusOK, indexer.WalkReport{Enqueued: 1})
	default:
		dir := req.Dir
		if dir == "" {
			snap := s.deps.Snapshots()
			if snap == nil {
				return faultResponse(c, faults.Wrap(workspace.ErrNotLoaded, faults.CategoryRequest, faults.CodeUnknownProject, "no workspace loaded"))
			}
			p, ok := snap.Project(req.ProjectID)
			if !ok {
				return faultResponse(c, faults.Request(faults.CodeUnknownProject, "project %q not in workspace", req.ProjectID))
			}
			dir = p.Path
		}
		recursive := req.Recursive == nil || *req.Recursive
		report, err := s.deps.Indexing.IndexDirectory(ctx, req.ProjectID, dir, recursive)
		if err != nil {
			return faultResponse(c, err)
		}
		return c.JSON(http.StatusOK, report)
	}
}

type invalidateRequest struct {
	All       bool   `json:"all,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	File      string `json:"file,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

type invalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

// handleCacheInvalidate drops cache entries by file, pattern, project, or
// everything. The selector precedence mirrors the cache_invalidate tool.
func (s *Server) handleCacheInvalidate(c echo.Context) error {
	var req invalidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	switch {
	case req.All:
		if err := s.deps.Inval.InvalidateAll(ctx); err != nil {
			return faultResponse(c, err)
		}
		return c.JSON(http.StatusOK, invalidateResponse{Invalidated: -1})
	case req.File != "":
		if req.ProjectID == "" {
			return faultResponse(c, faults.Request(faults.CodeMissingProjectID, "file invalidation needs project_id"))
		}
		n := s.deps.Inval.InvalidateFile(ctx, req.ProjectID, req.File)
		return c.JSON(http.StatusOK, invalidateResponse{Invalidated: n})
	case req.Pattern != "":
		n, err := s.deps.Inval.InvalidatePattern(ctx, req.Pattern)
		if err != nil {
			return faultResponse(c, err)
		}
		return c.JSON(http.StatusOK, invalidateResponse{Invalidated: n})
	case req.ProjectID != "":
		n := s.deps.Inval.InvalidateProject(ctx, req.ProjectID)
		return c.JSON(http.StatusOK, invalidateResponse{Invalidated: n})
	default:
		return faultResponse(c, faults.Request(faults.CodeInvalidFilter, "one of all, file, pattern or project_id is required"))
	}
}

type precomputeRequest struct {
	search.Request
	TTLHours int `json:"ttl_hours,omitempty"`
}

type precomputeResponse struct {
	Results int    `json:"results"`
	Warning string `json:"warning,omitempty"`
}

// handleCachePrecompute runs a search and parks the results in the
// long-lived tier. The ops server is operator-facing, so the endpoint is
// not gated the way the MCP tool is.
func (s *Server) handleCachePrecompute(c echo.Context) error {
	var req precomputeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Scope == "" {
		req.Scope = search.ScopeProject
	}
	ttl := 24 * time.Hour
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	resp, err := s.deps.Searcher.Precompute(c.Request().Context(), req.Request, ttl)
	if err != nil {
		return faultResponse(c, err)
	}
	return c.JSON(http.StatusOK, precomputeResponse{
		Results: len(resp.Results),
		Warning: resp.Warning,
	})
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "starting ops server", zap.String("addr", s.cfg.Addr))
	return s.echo.Start(s.cfg.Addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down ops server")
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for extra route registration in main.
func (s *Server) Echo() *echo.Echo { return s.echo }
