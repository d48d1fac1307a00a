package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// SearchStream runs a search and emits ranked batches as projects
// complete instead of waiting for the whole fan-out. A minimum-score
// floor rises with each emitted batch, so a straggler project cannot
// emit results weaker than what the consumer has already seen. The
// stream bypasses the query cache.
//
// emit is called serially. Returning an error from emit stops the
// stream; whatever was emitted so far is returned in the response.
func (o *Orchestrator) SearchStream(ctx context.Context, req Request, emit func(batch []ranking.Result) error) (*Response, error) {
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
		return nil, err
	}
	parsed, err := o.deps.Analyzer.Analyze(ctx, req.Query, snap)
	if err != nil {
		return nil, err
	}

	resp := &Response{Results: []ranking.Result{}}
	projects := o.resolveScope(snap, req)
	if len(projects) == 0 {
		return resp, nil
	}

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

	rankReq := ranking.Request{
		TargetProjectID: req.ProjectID,
		Parsed:          parsed,
		RecentFiles:     req.RecentFiles,
		Explain:         req.Explain,
		Now:             time.Now(),
		Degraded:        degraded,
	}

	var mu sync.Mutex
	emittedKeys := map[dedupKey]bool{}
	floor := 0.0
	var stopped bool

	onResult := func(pr projectResult) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		switch {
		case pr.cancelled:
			resp.Metrics.CancelledProjects = append(resp.Metrics.CancelledProjects, pr.project.ID)
			metrics.SearchCancelledTotal.Inc()
			return
		case pr.err != nil:
			resp.Errors = append(resp.Errors, ProjectError{
				ProjectID: pr.project.ID,
				Code:      errorCode(pr.err),
				Message:   pr.err.Error(),
			})
			return
		}
		resp.Metrics.ProjectsSearched++
		resp.Metrics.ProjectsSearchedList = append(resp.Metrics.ProjectsSearchedList, pr.project.ID)
		resp.Metrics.TotalResultsBeforeMerge += len(pr.hits)

		candidates := make([]ranking.Result, 0, len(pr.hits))
		for _, hit := range pr.hits {
			key := dedupKey{hit.Payload.ProjectID, hit.Payload.FilePath, hit.Payload.LineStart, hit.Payload.LineEnd}
			if emittedKeys[key] {
				resp.Metrics.DeduplicatedCount++
				continue
			}
			if excluded(excludes, hit.Payload.FilePath) || !residualMatch(req.Filters, hit) {
				continue
			}
			emittedKeys[key] = true
			candidates = append(candidates, hitToResult(hit))
		}

		ranked := o.deps.Ranker.Rank(rankReq, snap, candidates)

		// the rising floor: drop results weaker than what has already
		// been emitted, cap at what the limit still allows
		batch := make([]ranking.Result, 0, len(ranked))
		remaining := req.Limit - len(resp.Results)
		for _, r := range ranked {
			if len(batch) >= remaining {
				break
			}
			if r.FinalScore < floor {
				break
			}
			batch = append(batch, r)
		}
		if len(batch) == 0 {
			return
		}

		for from := 0; from < len(batch); from += o.cfg.StreamBatchSize {
			to := from + o.cfg.StreamBatchSize
			if to > len(batch) {
				to = len(batch)
			}
			if err := emit(batch[from:to]); err != nil {
				stopped = true
				cancel()
				return
			}
			resp.Results = append(resp.Results, batch[from:to]...)
		}
		floor = batch[len(batch)-1].FinalScore
		if len(resp.Results) >= req.Limit {
			stopped = true
			cancel()
		}
	}

	searchStart := time.Now()
	o.fanOut(ctx, projects, vector, parsed.Normalized, filter, k, degraded, onResult)
	resp.Metrics.SearchTimeMS = time.Since(searchStart).Milliseconds()
	resp.Metrics.TotalResultsAfterMerge = len(resp.Results)
	resp.Metrics.TotalTimeMS = time.Since(start).Milliseconds()
	return resp, nil
}
