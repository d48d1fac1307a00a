package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// textResult wraps a one-line summary as the tool's text content. The
// typed output carries the structured data.
func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.registerWorkspaceTools()
	s.registerIndexTools()
	s.registerSearchTools()
	s.registerCacheTools()
	s.registerStatsTools()
}

// ===== WORKSPACE TOOLS =====

type workspaceLoadInput struct {
	Path string `json:"path" jsonschema:"required,Path to the workspace YAML document"`
}

type workspaceReloadInput struct{}

type workspaceGetInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Return only this project's summary"`
}

type workspaceOutput struct {
	Workspace *workspace.WorkspaceInfo `json:"workspace,omitempty"`
	Project   *workspace.ProjectInfo   `json:"project,omitempty"`
}

func (s *Server) handleWorkspaceLoad(ctx context.Context, _ *mcp.CallToolRequest, args workspaceLoadInput) (*mcp.CallToolResult, workspaceOutput, error) {
	if args.Path == "" {
		return nil, workspaceOutput{}, fmt.Errorf("path is required")
	}
	snap, err := s.workspace.Load(ctx, args.Path)
	if err != nil {
		return nil, workspaceOutput{}, err
	}
	info := snap.Info()
	return textResult("loaded workspace %q: %d projects (generation %d)",
		info.Name, info.ProjectCount, info.Generation), workspaceOutput{Workspace: &info}, nil
}

func (s *Server) handleWorkspaceReload(ctx context.Context, _ *mcp.CallToolRequest, _ workspaceReloadInput) (*mcp.CallToolResult, workspaceOutput, error) {
	snap, err := s.workspace.Reload(ctx)
	if err != nil {
		return nil, workspaceOutput{}, err
	}
	info := snap.Info()
	return textResult("reloaded workspace %q (generation %d)",
		info.Name, info.Generation), workspaceOutput{Workspace: &info}, nil
}

func (s *Server) handleWorkspaceGet(_ context.Context, _ *mcp.CallToolRequest, args workspaceGetInput) (*mcp.CallToolResult, workspaceOutput, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, workspaceOutput{}, err
	}
	if args.ProjectID != "" {
		pi, ok := snap.ProjectInfo(args.ProjectID)
		if !ok {
			return nil, workspaceOutput{}, fmt.Errorf("unknown project %q", args.ProjectID)
		}
		return textResult("project %q at %s", pi.ID, pi.Path), workspaceOutput{Project: &pi}, nil
	}
	info := snap.Info()
	return textResult("workspace %q: %d projects", info.Name, info.ProjectCount),
		workspaceOutput{Workspace: &info}, nil
}

func (s *Server) registerWorkspaceTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace_load",
		Description: "Load a workspace document and publish it. A failed load keeps the previous workspace serving.",
	}, s.handleWorkspaceLoad)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace_reload",
		Description: "Re-read the workspace document from its original path and swap in the new state atomically.",
	}, s.handleWorkspaceReload)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "workspace_get",
		Description: "Summarize the loaded workspace, or one project with its declared relationships.",
	}, s.handleWorkspaceGet)
}

// ===== INDEX TOOLS =====

type indexFileInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,Project the file belongs to"`
	Path      string `json:"path" jsonschema:"required,Absolute path of the file to index"`
}

type indexFileOutput struct {
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	Indexed   bool   `json:"indexed"`
}

type indexDirectoryInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,Project the directory belongs to"`
	Path      string `json:"path,omitempty" jsonschema:"Directory to walk (default: the project root)"`
	Recursive *bool  `json:"recursive,omitempty" jsonschema:"Descend into subdirectories (default: true)"`
}

type indexDirectoryOutput struct {
	ProjectID string             `json:"project_id"`
	Report    indexer.WalkReport `json:"report"`
}

func (s *Server) handleIndexFile(ctx context.Context, _ *mcp.CallToolRequest, args indexFileInput) (*mcp.CallToolResult, indexFileOutput, error) {
	if args.ProjectID == "" || args.Path == "" {
		return nil, indexFileOutput{}, fmt.Errorf("project_id and path are required")
	}
	if err := s.indexing.IndexFile(ctx, args.ProjectID, args.Path); err != nil {
		return nil, indexFileOutput{}, err
	}
	return textResult("indexed %s", args.Path), indexFileOutput{
		ProjectID: args.ProjectID,
		Path:      args.Path,
		Indexed:   true,
	}, nil
}

func (s *Server) handleIndexDirectory(ctx context.Context, _ *mcp.CallToolRequest, args indexDirectoryInput) (*mcp.CallToolResult, indexDirectoryOutput, error) {
	if args.ProjectID == "" {
		return nil, indexDirectoryOutput{}, fmt.Errorf("project_id is required")
	}
	dir := args.Path
	if dir == "" {
		snap, err := s.snapshot()
		if err != nil {
			return nil, indexDirectoryOutput{}, err
		}
		p, ok := snap.Project(args.ProjectID)
		if !ok {
			return nil, indexDirectoryOutput{}, fmt.Errorf("unknown project %q", args.ProjectID)
		}
		dir = p.Path
	}
	recursive := true
	if args.Recursive != nil {
		recursive = *args.Recursive
	}
	report, err := s.indexing.IndexDirectory(ctx, args.ProjectID, dir, recursive)
	if err != nil {
		return nil, indexDirectoryOutput{}, err
	}
	return textResult("enqueued %d files, skipped %d", report.Enqueued, report.Skipped),
		indexDirectoryOutput{ProjectID: args.ProjectID, Report: report}, nil
}

func (s *Server) registerIndexTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_file",
		Description: "Index one file synchronously: chunk, scrub, embed, upsert. Replays are idempotent.",
	}, s.handleIndexFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_directory",
		Description: "Walk a directory and enqueue every eligible file for indexing. Returns the walk report; indexing itself is asynchronous.",
	}, s.handleIndexDirectory)
}

// ===== SEARCH TOOLS =====

type searchSemanticInput struct {
	Query               string   `json:"query" jsonschema:"required,Natural-language or code query"`
	Scope               string   `json:"scope,omitempty" jsonschema:"Search scope: PROJECT, DEPENDENCIES, WORKSPACE or RELATED (default: PROJECT)"`
	ProjectID           string   `json:"project_id,omitempty" jsonschema:"Anchor project (required for every scope except WORKSPACE)"`
	Limit               int      `json:"limit,omitempty" jsonschema:"Maximum results (default from workspace, capped by server config)"`
	IncludeDependencies bool     `json:"include_dependencies,omitempty" jsonschema:"With scope DEPENDENCIES, follow transitive dependencies"`
	SimilarityThreshold float64  `json:"similarity_threshold,omitempty" jsonschema:"With scope RELATED, minimum semantic_similarity edge weight"`
	Languages           []string `json:"languages,omitempty" jsonschema:"Restrict to these languages"`
	FileTypes           []string `json:"file_types,omitempty" jsonschema:"Restrict to these file extensions"`
	Authors             []string `json:"authors,omitempty" jsonschema:"Restrict to chunks last touched by these authors"`
	ExcludePatterns     []string `json:"exclude_patterns,omitempty" jsonschema:"Glob patterns of paths to drop from results"`
	RecentFiles         []string `json:"recent_files,omitempty" jsonschema:"Recently open files, boosts nearby results"`
	Explain             bool     `json:"explain,omitempty" jsonschema:"Include the per-signal score breakdown"`
}

type searchSemanticOutput struct {
	Results []ranking.Result      `json:"results"`
	Metrics search.Metrics        `json:"metrics"`
	Warning string                `json:"warning,omitempty"`
	Errors  []search.ProjectError `json:"errors,omitempty"`
}

func (in searchSemanticInput) request() search.Request {
	scope := search.Scope(in.Scope)
	if scope == "" {
		scope = search.ScopeProject
	}
	return search.Request{
		Query:               in.Query,
		Scope:               scope,
		ProjectID:           in.ProjectID,
		Limit:               in.Limit,
		IncludeDependencies: in.IncludeDependencies,
		SimilarityThreshold: in.SimilarityThreshold,
		Filters: search.Filters{
			Languages:       in.Languages,
			FileTypes:       in.FileTypes,
			Authors:         in.Authors,
			ExcludePatterns: in.ExcludePatterns,
		},
		RecentFiles: in.RecentFiles,
		Explain:     in.Explain,
	}
}

func (s *Server) handleSearchSemantic(ctx context.Context, _ *mcp.CallToolRequest, args searchSemanticInput) (*mcp.CallToolResult, searchSemanticOutput, error) {
	resp, err := s.searcher.Search(ctx, args.request())
	if err != nil {
		return nil, searchSemanticOutput{}, err
	}
	summary := fmt.Sprintf("%d results across %d projects in %dms",
		len(resp.Results), resp.Metrics.ProjectsSearched, resp.Metrics.TotalTimeMS)
	if resp.Warning != "" {
		summary += " (degraded: " + resp.Warning + ")"
	}
	return textResult("%s", summary), searchSemanticOutput{
		Results: resp.Results,
		Metrics: resp.Metrics,
		Warning: resp.Warning,
		Errors:  resp.Errors,
	}, nil
}

type queryClassifyInput struct {
	Query string `json:"query" jsonschema:"required,Query to classify without searching"`
}

type queryClassifyOutput struct {
	Parsed *query.ParsedQuery `json:"parsed"`
}

func (s *Server) handleQueryClassify(ctx context.Context, _ *mcp.CallToolRequest, args queryClassifyInput) (*mcp.CallToolResult, queryClassifyOutput, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, queryClassifyOutput{}, err
	}
	parsed, err := s.analyzer.Analyze(ctx, args.Query, snap)
	if err != nil {
		return nil, queryClassifyOutput{}, err
	}
	return textResult("intent %s (confidence %.2f), %d entities",
			parsed.Intent, parsed.Confidence, len(parsed.Entities)),
		queryClassifyOutput{Parsed: parsed}, nil
}

func (s *Server) registerSearchTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_semantic",
		Description: "Semantic code search across the workspace. Scopes: PROJECT, DEPENDENCIES, WORKSPACE, RELATED. Partial per-project failures are reported in errors[] without failing the call.",
	}, s.handleSearchSemantic)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_classify",
		Description: "Run the query analyzer alone: intent, entities, expanded terms and token budget, without searching.",
	}, s.handleQueryClassify)
}

// ===== CACHE TOOLS =====

type cacheInvalidateInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Invalidate everything cached for this project"`
	File      string `json:"file,omitempty" jsonschema:"Invalidate entries that touched this file (requires project_id)"`
	Pattern   string `json:"pattern,omitempty" jsonschema:"Invalidate entries whose files match this glob"`
	All       bool   `json:"all,omitempty" jsonschema:"Invalidate the entire cache"`
}

type cacheInvalidateOutput struct {
	Invalidated int    `json:"invalidated"`
	Mode        string `json:"mode"`
}

func (s *Server) handleCacheInvalidate(ctx context.Context, _ *mcp.CallToolRequest, args cacheInvalidateInput) (*mcp.CallToolResult, cacheInvalidateOutput, error) {
	switch {
	case args.All:
		if err := s.inval.InvalidateAll(ctx); err != nil {
			return nil, cacheInvalidateOutput{}, err
		}
		return textResult("cache cleared"), cacheInvalidateOutput{Mode: "all"}, nil
	case args.File != "":
		if args.ProjectID == "" {
			return nil, cacheInvalidateOutput{}, fmt.Errorf("file invalidation requires project_id")
		}
		n := s.inval.InvalidateFile(ctx, args.ProjectID, args.File)
		return textResult("invalidated %d entries", n),
			cacheInvalidateOutput{Invalidated: n, Mode: "file"}, nil
	case args.Pattern != "":
		n, err := s.inval.InvalidatePattern(ctx, args.Pattern)
		if err != nil {
			return nil, cacheInvalidateOutput{}, err
		}
		return textResult("invalidated %d entries", n),
			cacheInvalidateOutput{Invalidated: n, Mode: "pattern"}, nil
	case args.ProjectID != "":
		n := s.inval.InvalidateProject(ctx, args.ProjectID)
		return textResult("invalidated %d entries", n),
			cacheInvalidateOutput{Invalidated: n, Mode: "project"}, nil
	}
	return nil, cacheInvalidateOutput{}, fmt.Errorf("one of all, file, pattern or project_id is required")
}

type cachePrecomputeInput struct {
	Query     string `json:"query" jsonschema:"required,Query to precompute"`
	Scope     string `json:"scope,omitempty" jsonschema:"Search scope (default: PROJECT)"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"Anchor project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results"`
	TTLHours  int    `json:"ttl_hours,omitempty" jsonschema:"Pin duration in hours (default: 24, the tier minimum)"`
}

type cachePrecomputeOutput struct {
	Results int    `json:"results"`
	TTL     string `json:"ttl"`
}

func (s *Server) handleCachePrecompute(ctx context.Context, _ *mcp.CallToolRequest, args cachePrecomputeInput) (*mcp.CallToolResult, cachePrecomputeOutput, error) {
	if !s.cfg.AllowPrivileged {
		return nil, cachePrecomputeOutput{}, fmt.Errorf("cache_precompute is a privileged operation, not enabled on this server")
	}
	ttl := 24 * time.Hour
	if args.TTLHours > 0 {
		ttl = time.Duration(args.TTLHours) * time.Hour
	}
	req := searchSemanticInput{
		Query:     args.Query,
		Scope:     args.Scope,
		ProjectID: args.ProjectID,
		Limit:     args.Limit,
	}.request()
	resp, err := s.searcher.Precompute(ctx, req, ttl)
	if err != nil {
		return nil, cachePrecomputeOutput{}, err
	}
	return textResult("precomputed %d results for %s", len(resp.Results), ttl),
		cachePrecomputeOutput{Results: len(resp.Results), TTL: ttl.String()}, nil
}

func (s *Server) registerCacheTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_invalidate",
		Description: "Invalidate cached search results by file, glob pattern, project, or entirely.",
	}, s.handleCacheInvalidate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_precompute",
		Description: "Privileged: run a search and pin its ranked results in the long-lived cache tier.",
	}, s.handleCachePrecompute)
}

// ===== STATS TOOLS =====

type statsGetInput struct {
	Component string `json:"component,omitempty" jsonschema:"Return only this component's stats (cache, invalidator, indexer, watcher)"`
}

type statsGetOutput struct {
	Stats map[string]any `json:"stats"`
}

func (s *Server) handleStatsGet(_ context.Context, _ *mcp.CallToolRequest, args statsGetInput) (*mcp.CallToolResult, statsGetOutput, error) {
	stats := metrics.Snapshot()
	if args.Component != "" {
		view, ok := stats[args.Component]
		if !ok {
			return nil, statsGetOutput{}, fmt.Errorf("unknown component %q", args.Component)
		}
		stats = map[string]any{args.Component: view}
	}
	return textResult("stats for %d components", len(stats)), statsGetOutput{Stats: stats}, nil
}

func (s *Server) registerStatsTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stats_get",
		Description: "Live component statistics: cache tier hit rates, invalidation lag, index queue depth.",
	}, s.handleStatsGet)
}
