// Package mcp exposes the workspace operations as MCP tools over the
// stdio transport. Every tool is a thin adapter: validate the typed
// arguments, call the owning component, shape the result. Streaming
// search is deliberately absent; tool calls are unary, so the SSE
// endpoint on the ops server carries that.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/invalidator"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Searcher is the slice of the orchestrator the tool surface needs.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Precompute(ctx context.Context, req search.Request, ttl time.Duration) (*search.Response, error)
}

// Analyzer classifies queries without running a search.
type Analyzer interface {
	Analyze(ctx context.Context, raw string, snap *workspace.Snapshot) (*query.ParsedQuery, error)
}

// Invalidation is the slice of the invalidator the cache tools need.
type Invalidation interface {
	InvalidateFile(ctx context.Context, projectID, path string) int
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
	InvalidateProject(ctx context.Context, projectID string) int
	InvalidateAll(ctx context.Context) error
}

// Indexing is the slice of the indexer the index tools need.
type Indexing interface {
	IndexFile(ctx context.Context, projectID, path string) error
	IndexDirectory(ctx context.Context, projectID, dir string, recursive bool) (indexer.WalkReport, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "workspaced").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// AllowPrivileged enables the privileged tools (cache_precompute).
	AllowPrivileged bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "workspaced",
		Version: "1.0.0",
	}
}

// Server is the MCP tool surface.
type Server struct {
	mcp       *mcp.Server
	cfg       *Config
	workspace *workspace.Manager
	indexing  Indexing
	searcher  Searcher
	analyzer  Analyzer
	inval     Invalidation
	log       *logging.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(
	cfg *Config,
	ws *workspace.Manager,
	indexing Indexing,
	searcher Searcher,
	analyzer Analyzer,
	inval Invalidation,
	log *logging.Logger,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace manager is required")
	}
	if indexing == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if inval == nil {
		return nil, fmt.Errorf("invalidator is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		cfg:       cfg,
		workspace: ws,
		indexing:  indexing,
		searcher:  searcher,
		analyzer:  analyzer,
		inval:     inval,
		log:       log.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server run: %w", err)
	}
	return nil
}

// snapshot returns the current workspace snapshot or ErrNotLoaded.
func (s *Server) snapshot() (*workspace.Snapshot, error) {
	snap := s.workspace.Current()
	if snap == nil {
		return nil, workspace.ErrNotLoaded
	}
	return snap, nil
}

var _ Invalidation = (*invalidator.Invalidator)(nil)
var _ Indexing = (*indexer.Indexer)(nil)
