package search

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/workspaced/internal/cache"
	"github.com/fyrsmithlabs/workspaced/internal/collections"
	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/invalidator"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Snapshots provides the current workspace snapshot.
type Snapshots interface {
	Current() *workspace.Snapshot
}

// QueryCache is the slice of the tiered cache the orchestrator uses.
// Nil-able; a nil cache turns every request into a full search.
type QueryCache interface {
	Get(ctx context.Context, fp string) ([]ranking.Result, bool)
	Set(ctx context.Context, fp string, entry *cache.Entry)
	Precompute(ctx context.Context, fp string, results []ranking.Result, ttl time.Duration) error
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Snapshots Snapshots
	Store     vectorstore.Store
	Embedder  embeddings.Client
	Analyzer  *query.Analyzer
	Ranker    *ranking.Ranker
	Cache     QueryCache // may be nil
	Log       *logging.Logger
}

// Orchestrator executes search requests against the workspace.
type Orchestrator struct {
	cfg      config.SearchConfig
	cacheCfg config.CacheConfig
	deps     Deps
	log      *logging.Logger

	// sem caps concurrent per-project store calls across all requests.
	sem chan struct{}

	// sf collapses concurrent identical uncached requests.
	sf singleflight.Group
}

// New builds an orchestrator.
func New(cfg config.SearchConfig, cacheCfg config.CacheConfig, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cacheCfg: cacheCfg,
		deps:     deps,
		log:      deps.Log.Named("search"),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Search runs one request end to end: validate, analyze, consult the
// cache, fan out, merge, rank.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()
	ctx, _ = logging.EnsureCorrelationID(ctx)

	snap := o.deps.Snapshots.Current()
	if snap == nil {
		return nil, workspace.ErrNotLoaded
	}
	excludes, err := o.normalize(&req, snap)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(req.Scope), "error").Inc()
		return nil, err
	}
	parsed, err := o.deps.Analyzer.Analyze(ctx, req.Query, snap)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(req.Scope), "error").Inc()
		return nil, err
	}

	fp := o.fingerprint(req, snap)
	if o.deps.Cache != nil && !req.SkipCache {
		if results, ok := o.deps.Cache.Get(ctx, fp); ok {
			metrics.SearchRequestsTotal.WithLabelValues(string(req.Scope), "success").Inc()
			return &Response{
				Results: results,
				Metrics: Metrics{
					TotalTimeMS:            time.Since(start).Milliseconds(),
					TotalResultsAfterMerge: len(results),
					CacheHit:               true,
				},
			}, nil
		}
	}

	// collapse identical concurrent misses to one execution
	v, err, _ := o.sf.Do(fp, func() (any, error) {
		resp, err := o.execute(ctx, snap, req, parsed, excludes)
		if err != nil {
			return nil, err
		}
		if o.deps.Cache != nil && !req.SkipCache && cacheable(resp) {
			o.deps.Cache.Set(ctx, fp, &cache.Entry{
				Results:       resp.Results,
				ProjectIDs:    resp.Metrics.ProjectsSearchedList,
				AccessedFiles: accessedFiles(resp.Results),
			})
		}
		return resp, nil
	})
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(string(req.Scope), "error").Inc()
		return nil, err
	}
	// copy so concurrent callers sharing a single-flight result do not
	// race on the timing field
	resp := *v.(*Response)
	resp.Metrics.TotalTimeMS = time.Since(start).Milliseconds()

	status := "success"
	if resp.Warning == warningEmbeddings {
		status = "degraded"
	}
	metrics.SearchRequestsTotal.WithLabelValues(string(req.Scope), status).Inc()
	return &resp, nil
}

// Precompute executes a request bypassing the cache read path and writes
// the ranked results to the long-lived tier. Privileged operation.
func (o *Orchestrator) Precompute(ctx context.Context, req Request, ttl time.Duration) (*Response, error) {
	if o.deps.Cache == nil {
		return nil, faults.New(faults.CategoryExternal, faults.CodeCacheUnavailable, "precompute requires the query cache")
	}
	snap := o.deps.Snapshots.Current()
	if snap == nil {
		return nil, workspace.ErrNotLoaded
	}
	// apply the same defaults as the read path so the precomputed entry
	// lands under the fingerprint later lookups will compute
	if _, err := o.normalize(&req, snap); err != nil {
		return nil, err
	}
	req.SkipCache = true
	resp, err := o.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	fp := o.fingerprint(req, snap)
	if err := o.deps.Cache.Precompute(ctx, fp, resp.Results, ttl); err != nil {
		return nil, err
	}
	return resp, nil
}

// cacheable rejects responses that should not be pinned for the shared
// TTL: degraded keyword results and responses with partial failures.
func cacheable(resp *Response) bool {
	return resp.Warning == "" && len(resp.Errors) == 0
}

// accessedFiles collects the distinct file keys behind a result set for
// the invalidator's reverse index.
func accessedFiles(results []ranking.Result) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range results {
		key := invalidator.FileKey(r.ProjectID, r.FilePath)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func (o *Orchestrator) fingerprint(req Request, snap *workspace.Snapshot) string {
	filters := map[string]string{}
	addList := func(name string, values []string) {
		if len(values) > 0 {
			sorted := append([]string(nil), values...)
			sort.Strings(sorted)
			filters[name] = joinList(sorted)
		}
	}
	addList("languages", req.Filters.Languages)
	addList("file_types", req.Filters.FileTypes)
	addList("authors", req.Filters.Authors)
	addList("exclude", req.Filters.ExcludePatterns)
	addList("directories", req.Filters.Directories)
	if req.Filters.MinScore > 0 {
		filters["min_score"] = strconv.FormatFloat(req.Filters.MinScore, 'g', -1, 64)
	}
	if !req.Filters.DateFrom.IsZero() {
		filters["date_from"] = req.Filters.DateFrom.UTC().Format(time.RFC3339Nano)
	}
	if !req.Filters.DateTo.IsZero() {
		filters["date_to"] = req.Filters.DateTo.UTC().Format(time.RFC3339Nano)
	}

	return cache.Fingerprint(cache.Key{
		Query:               req.Query,
		Scope:               string(req.Scope),
		ProjectID:           req.ProjectID,
		Filters:             filters,
		Limit:               req.Limit,
		IncludeDependencies: req.IncludeDependencies,
		SimilarityThreshold: req.SimilarityThreshold,
		RecentFiles:         req.RecentFiles,
		WorkspaceVersion:    snap.Version(),
		WorkspaceGeneration: snap.Generation(),
	}, o.cacheCfg.RecentFilesPrefix)
}

func joinList(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

// normalize validates the request, applies workspace and config defaults
// and compiles the residual exclude patterns.
func (o *Orchestrator) normalize(req *Request, snap *workspace.Snapshot) ([]glob.Glob, error) {
	if !req.Scope.Valid() {
		return nil, faults.Request(faults.CodeInvalidScope, "unknown scope %q", req.Scope)
	}
	if req.Scope.requiresProject() {
		if req.ProjectID == "" {
			return nil, faults.Request(faults.CodeMissingProjectID, "scope %s requires project_id", req.Scope)
		}
		if _, ok := snap.Project(req.ProjectID); !ok {
			return nil, faults.Request(faults.CodeUnknownProject, "project %q not in workspace", req.ProjectID)
		}
	}

	defaults := snap.Workspace().SearchDefaults
	if req.Limit == 0 {
		req.Limit = defaults.Limit
	}
	if req.Limit == 0 {
		req.Limit = o.cfg.DefaultLimit
	}
	if req.Limit < 1 || req.Limit > o.cfg.MaxLimit {
		return nil, faults.Request(faults.CodeInvalidLimit, "limit %d outside [1, %d]", req.Limit, o.cfg.MaxLimit)
	}
	if req.SimilarityThreshold == 0 {
		req.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if req.Filters.MinScore < 0 || req.Filters.MinScore > 1 {
		return nil, faults.Request(faults.CodeInvalidFilter, "min_score %g outside [0, 1]", req.Filters.MinScore)
	}
	if !req.Filters.DateFrom.IsZero() && !req.Filters.DateTo.IsZero() &&
		req.Filters.DateFrom.After(req.Filters.DateTo) {
		return nil, faults.Request(faults.CodeInvalidFilter, "date_from is after date_to")
	}
	for i, dir := range req.Filters.Directories {
		req.Filters.Directories[i] = strings.Trim(filepath.ToSlash(dir), "/")
	}

	excludes := make([]glob.Glob, 0, len(req.Filters.ExcludePatterns))
	for _, pattern := range req.Filters.ExcludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, faults.Request(faults.CodeInvalidFilter, "bad exclude pattern %q: %v", pattern, err)
		}
		excludes = append(excludes, g)
	}
	return excludes, nil
}

// resolveScope maps the request to the concrete project list, enabled
// projects only, ordered by priority descending (stable by first
// occurrence for determinism).
func (o *Orchestrator) resolveScope(snap *workspace.Snapshot, req Request) []*workspace.Project {
	g := snap.Graph()
	var ids []string
	switch req.Scope {
	case ScopeProject:
		ids = []string{req.ProjectID}
	case ScopeDependencies:
		ids = append(ids, req.ProjectID)
		if req.IncludeDependencies {
			ids = append(ids, g.TransitiveDependencies(req.ProjectID)...)
		} else {
			ids = append(ids, g.DirectDependencies(req.ProjectID)...)
		}
	case ScopeRelated:
		ids = append(ids, req.ProjectID)
		ids = append(ids, g.Related(req.ProjectID, req.SimilarityThreshold)...)
	case ScopeWorkspace:
		for _, p := range snap.EnabledProjects() {
			ids = append(ids, p.ID)
		}
	}

	seen := map[string]bool{}
	var projects []*workspace.Project
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, ok := snap.Project(id)
		if !ok || !p.Indexing.Enabled {
			continue
		}
		projects = append(projects, p)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].Indexing.Priority.Multiplier() > projects[j].Indexing.Priority.Multiplier()
	})
	return projects
}

// projectResult is one project's fan-out outcome.
type projectResult struct {
	project   *workspace.Project
	hits      []vectorstore.Hit
	err       error
	cancelled bool
}

// dedupKey identifies a result across projects for merging.
type dedupKey struct {
	projectID, path    string
	lineStart, lineEnd int
}

// execute performs the full uncached pipeline.
func (o *Orchestrator) execute(ctx context.Context, snap *workspace.Snapshot, req Request, parsed *query.ParsedQuery, excludes []glob.Glob) (*Response, error) {
	resp := &Response{}
	projects := o.resolveScope(snap, req)
	if len(projects) == 0 {
		resp.Results = []ranking.Result{}
		return resp, nil
	}

	// one embedding per request, shared by the whole fan-out
	embStart := time.Now()
	vector, embErr := o.deps.Embedder.EmbedQuery(ctx, parsed.Normalized)
	degraded := false
	if embErr != nil {
		if err := faults.FromContextErr(ctx.Err()); err != nil {
			return nil, err
		}
		degraded = true
		metrics.SearchDegradedTotal.Inc()
		resp.Warning = warningEmbeddings
		o.log.Warn(ctx, "embedding unavailable, degrading to keyword search", zap.Error(embErr))
	} else {
		resp.Metrics.EmbeddingTimeMS = time.Since(embStart).Milliseconds()
	}

	filter := &vectorstore.Filter{
		Languages: req.Filters.Languages,
		FileTypes: req.Filters.FileTypes,
		Authors:   req.Filters.Authors,
	}
	k := req.Limit * o.cfg.FanoutMultiplier

	searchStart := time.Now()
	partials := o.fanOut(ctx, projects, vector, parsed.Normalized, filter, k, degraded, nil)
	resp.Metrics.SearchTimeMS = time.Since(searchStart).Milliseconds()

	merged := o.collect(resp, partials, excludes, req.Filters)

	rankStart := time.Now()
	resp.Results = o.deps.Ranker.Rank(ranking.Request{
		TargetProjectID: req.ProjectID,
		Parsed:          parsed,
		RecentFiles:     req.RecentFiles,
		Explain:         req.Explain,
		Now:             time.Now(),
		Degraded:        degraded,
	}, snap, merged)
	if len(resp.Results) > req.Limit {
		resp.Results = resp.Results[:req.Limit]
	}
	resp.Metrics.RankingTimeMS = time.Since(rankStart).Milliseconds()
	resp.Metrics.TotalResultsAfterMerge = len(resp.Results)
	return resp, nil
}

// fanOut searches every project in parallel under the global semaphore.
// A project that reports a raw score at or above the early-termination
// threshold cancels the in-flight calls of strictly lower-priority
// projects. onResult, when non-nil, observes each completion as it
// happens; calls are not serialized.
func (o *Orchestrator) fanOut(ctx context.Context, projects []*workspace.Project, vector []float32, needle string, filter *vectorstore.Filter, k int, degraded bool, onResult func(projectResult)) []projectResult {
	results := make([]projectResult, len(projects))
	ctxs := make([]context.Context, len(projects))
	cancels := make([]context.CancelFunc, len(projects))
	for i := range projects {
		ctxs[i], cancels[i] = context.WithCancel(ctx)
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	terminate := func(winnerRank float64) {
		for j, p := range projects {
			if p.Indexing.Priority.Multiplier() < winnerRank {
				cancels[j]()
			}
		}
	}

	var wg sync.WaitGroup
	for i, p := range projects {
		wg.Add(1)
		go func(i int, p *workspace.Project) {
			defer wg.Done()
			pctx := ctxs[i]

			finish := func(pr projectResult) {
				results[i] = pr
				if onResult != nil {
					onResult(pr)
				}
			}

			select {
			case o.sem <- struct{}{}:
				defer func() { <-o.sem }()
			case <-pctx.Done():
				finish(projectResult{project: p, err: pctx.Err(), cancelled: ctx.Err() == nil})
				return
			}

			coll, err := collections.Name(p.ID, collections.KindVectors)
			if err != nil {
				finish(projectResult{project: p, err: err})
				return
			}

			start := time.Now()
			var hits []vectorstore.Hit
			if degraded {
				hits, err = o.deps.Store.KeywordSearch(pctx, coll, needle, k, filter)
			} else {
				hits, err = o.deps.Store.Search(pctx, coll, vector, k, filter)
			}
			metrics.SearchProjectSeconds.WithLabelValues(p.ID).Observe(time.Since(start).Seconds())

			if err != nil {
				cancelled := errors.Is(err, context.Canceled) && ctx.Err() == nil
				finish(projectResult{project: p, err: err, cancelled: cancelled})
				return
			}
			finish(projectResult{project: p, hits: hits})

			if !degraded && o.cfg.EarlyTerminationThreshold > 0 &&
				maxRawScore(hits) >= o.cfg.EarlyTerminationThreshold {
				terminate(p.Indexing.Priority.Multiplier())
			}
		}(i, p)
	}
	wg.Wait()
	return results
}

func maxRawScore(hits []vectorstore.Hit) float64 {
	max := 0.0
	for _, h := range hits {
		if s := float64(h.Score); s > max {
			max = s
		}
	}
	return max
}

// collect merges the partials: dedupe by (project, path, line range)
// keeping the best raw score, then apply the residual filters (exclude
// patterns, directory includes, date range, minimum score). Failures
// become per-project error entries, cancellations are recorded in the
// metrics, and both contribute zero results.
func (o *Orchestrator) collect(resp *Response, partials []projectResult, excludes []glob.Glob, filters Filters) []ranking.Result {
	best := map[dedupKey]vectorstore.Hit{}
	order := []dedupKey{}

	for _, pr := range partials {
		switch {
		case pr.cancelled:
			resp.Metrics.CancelledProjects = append(resp.Metrics.CancelledProjects, pr.project.ID)
			metrics.SearchCancelledTotal.Inc()
			continue
		case pr.err != nil:
			resp.Errors = append(resp.Errors, ProjectError{
				ProjectID: pr.project.ID,
				Code:      errorCode(pr.err),
				Message:   pr.err.Error(),
			})
			continue
		}
		resp.Metrics.ProjectsSearched++
		resp.Metrics.ProjectsSearchedList = append(resp.Metrics.ProjectsSearchedList, pr.project.ID)
		resp.Metrics.TotalResultsBeforeMerge += len(pr.hits)

		for _, hit := range pr.hits {
			key := dedupKey{hit.Payload.ProjectID, hit.Payload.FilePath, hit.Payload.LineStart, hit.Payload.LineEnd}
			if existing, ok := best[key]; ok {
				resp.Metrics.DeduplicatedCount++
				if hit.Score > existing.Score {
					best[key] = hit
				}
				continue
			}
			best[key] = hit
			order = append(order, key)
		}
	}

	merged := make([]ranking.Result, 0, len(order))
	for _, key := range order {
		hit := best[key]
		if excluded(excludes, hit.Payload.FilePath) || !residualMatch(filters, hit) {
			continue
		}
		merged = append(merged, hitToResult(hit))
	}
	return merged
}

func excluded(excludes []glob.Glob, path string) bool {
	for _, g := range excludes {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// residualMatch evaluates the request filters the store adapter cannot
// push down: directory includes, the modification date range and the raw
// similarity floor.
func residualMatch(f Filters, hit vectorstore.Hit) bool {
	if f.MinScore > 0 && float64(hit.Score) < f.MinScore {
		return false
	}
	mod := hit.Payload.ModifiedTime
	if !f.DateFrom.IsZero() && mod.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && mod.After(f.DateTo) {
		return false
	}
	if len(f.Directories) > 0 && !underAny(f.Directories, hit.Payload.FilePath) {
		return false
	}
	return true
}

// underAny reports whether a slash-relative file path sits under one of
// the directory prefixes.
func underAny(dirs []string, path string) bool {
	path = filepath.ToSlash(path)
	for _, dir := range dirs {
		if dir == "" || path == dir || strings.HasPrefix(path, dir+"/") {
			return true
		}
	}
	return false
}

func hitToResult(hit vectorstore.Hit) ranking.Result {
	return ranking.Result{
		ID:           hit.ID,
		ProjectID:    hit.Payload.ProjectID,
		FilePath:     hit.Payload.FilePath,
		Language:     hit.Payload.Language,
		LineStart:    hit.Payload.LineStart,
		LineEnd:      hit.Payload.LineEnd,
		Snippet:      hit.Payload.Content,
		RawScore:     float64(hit.Score),
		ModifiedTime: hit.Payload.ModifiedTime,
		Author:       hit.Payload.Author,
	}
}

// errorCode maps a per-project failure to a stable code for the errors[]
// entry.
func errorCode(err error) string {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return "collection_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return string(faults.CodeDeadlineExceeded)
	case errors.Is(err, context.Canceled):
		return string(faults.CodeCancelled)
	}
	if code := faults.CodeOf(err); code != faults.CodeBug {
		return string(code)
	}
	return string(faults.CodeVectorStoreUnavailable)
}
