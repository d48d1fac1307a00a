// Package search is the fan-out orchestrator: it resolves a request's
// scope to projects, embeds the query once, searches project collections
// in parallel under a concurrency cap, merges and deduplicates partial
// results, and hands the survivors to the ranker. Per-project failures
// degrade that project to zero results; they never fail the request.
package search

import (
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/ranking"
)

// Scope selects which projects a search covers.
type Scope string

const (
	ScopeProject      Scope = "PROJECT"
	ScopeDependencies Scope = "DEPENDENCIES"
	ScopeWorkspace    Scope = "WORKSPACE"
	ScopeRelated      Scope = "RELATED"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeProject, ScopeDependencies, ScopeWorkspace, ScopeRelated:
		return true
	}
	return false
}

// requiresProject reports whether the scope is anchored on a project.
func (s Scope) requiresProject() bool {
	return s != ScopeWorkspace
}

// Filters restrict results. Languages, file types and authors push down
// to the store adapter; exclude patterns, directory includes, the date
// range and the minimum raw score are applied after the merge.
type Filters struct {
	Languages       []string `json:"languages,omitempty"`
	FileTypes       []string `json:"file_types,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// Directories keeps only results under the listed paths, relative to
	// the project root. Empty means everywhere.
	Directories []string `json:"directories,omitempty"`

	// MinScore drops results whose raw similarity is below it, before the
	// deployment-wide ranking floor applies.
	MinScore float64 `json:"min_score,omitempty"`

	// DateFrom and DateTo bound the result's last modification time.
	// Either side may be zero for an open range.
	DateFrom time.Time `json:"date_from,omitempty"`
	DateTo   time.Time `json:"date_to,omitempty"`
}

// Request is one search invocation.
type Request struct {
	Query               string   `json:"query"`
	Scope               Scope    `json:"scope"`
	ProjectID           string   `json:"project_id,omitempty"`
	Limit               int      `json:"limit,omitempty"`
	IncludeDependencies bool     `json:"include_dependencies,omitempty"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty"`
	Filters             Filters  `json:"filters,omitempty"`
	RecentFiles         []string `json:"recent_files,omitempty"`
	Explain             bool     `json:"explain,omitempty"`

	// SkipCache bypasses the query cache on both the read and write
	// side. Used by precompute, which writes L3 through its own path.
	SkipCache bool `json:"-"`
}

// ProjectError summarizes one project's failure inside an otherwise
// successful response.
type ProjectError struct {
	ProjectID string `json:"project_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Metrics is the per-request timing and volume breakdown.
type Metrics struct {
	TotalTimeMS             int64    `json:"total_time_ms"`
	ProjectsSearched        int      `json:"projects_searched"`
	ProjectsSearchedList    []string `json:"projects_searched_list"`
	TotalResultsBeforeMerge int      `json:"total_results_before_merge"`
	TotalResultsAfterMerge  int      `json:"total_results_after_merge"`
	DeduplicatedCount       int      `json:"deduplicated_count"`
	EmbeddingTimeMS         int64    `json:"embedding_time_ms"`
	SearchTimeMS            int64    `json:"search_time_ms"`
	RankingTimeMS           int64    `json:"ranking_time_ms"`
	CancelledProjects       []string `json:"cancelled_projects,omitempty"`
	CacheHit                bool     `json:"cache_hit"`
}

// Response is the orchestrator's output.
type Response struct {
	Results []ranking.Result `json:"results"`
	Metrics Metrics          `json:"metrics"`
	Warning string           `json:"warning,omitempty"`
	Errors  []ProjectError   `json:"errors,omitempty"`
}

// warningEmbeddings is set when the request was served keyword-only.
const warningEmbeddings = "embeddings_unavailable"
