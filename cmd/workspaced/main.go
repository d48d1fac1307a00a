// Workspaced is the workspace semantic search daemon.
//
// It loads a workspace document, indexes the declared projects into a
// vector store, watches them for changes, and serves semantic search over
// MCP (stdio) and an ops HTTP endpoint (health, metrics, stats, SSE
// streaming search).
//
// Usage:
//
//	# Daemon mode: index, watch, serve the ops endpoint
//	workspaced -workspace ./workspace.yaml
//
//	# MCP mode: serve tools on stdio for an agent host
//	workspaced -workspace ./workspace.yaml -mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/cache"
	"github.com/fyrsmithlabs/workspaced/internal/collections"
	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/invalidator"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/mcp"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/secrets"
	"github.com/fyrsmithlabs/workspaced/internal/server"
	"github.com/fyrsmithlabs/workspaced/internal/telemetry"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/watcher"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ~/.config/workspaced/config.yaml)")
	workspacePath := flag.String("workspace", "", "workspace document path (overrides config)")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools on stdio instead of running as a daemon")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			fmt.Fprintf(os.Stderr, "Usage:\n")
			fmt.Fprintf(os.Stderr, "  workspaced            Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  workspaced -mcp       Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  workspaced version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *workspacePath, *mcpMode); err != nil {
		log.Fatalf("workspaced: %v", err)
	}
}

func printVersion() {
	fmt.Printf("workspaced by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func run(ctx context.Context, configPath, workspacePath string, mcpMode bool) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if workspacePath != "" {
		cfg.Workspace.Path = workspacePath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Workspace.Path == "" {
		return fmt.Errorf("no workspace document: set workspace.path or pass -workspace")
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting workspaced",
		zap.String("version", version),
		zap.String("workspace", cfg.Workspace.Path),
		zap.Bool("mcp_mode", mcpMode))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	// Workspace first: everything downstream resolves projects through the
	// published snapshot.
	if _, err := deps.manager.Load(ctx, cfg.Workspace.Path); err != nil {
		return fmt.Errorf("loading workspace: %w", err)
	}
	if err := ensureCollections(ctx, deps); err != nil {
		return err
	}

	if err := deps.invalidator.Start(ctx); err != nil {
		return fmt.Errorf("starting invalidator: %w", err)
	}
	deps.indexer.Start(ctx)

	orch := search.New(cfg.Search, cfg.Cache, search.Deps{
		Snapshots: deps.manager,
		Store:     deps.store,
		Embedder:  deps.embedder,
		Analyzer:  deps.analyzer,
		Ranker:    ranking.New(cfg.Ranking),
		Cache:     deps.cache,
		Log:       logger,
	})

	if mcpMode {
		return runMCP(ctx, cfg, deps, orch, logger)
	}
	return runDaemon(ctx, cfg, deps, orch, logger)
}

// runMCP serves the tool surface on stdio until the host closes the pipe
// or the process receives a signal. The watcher still runs so the index
// tracks edits made while the agent works.
func runMCP(ctx context.Context, cfg *config.Config, deps *dependencies, orch *search.Orchestrator, logger *logging.Logger) error {
	if err := startWatchPipeline(ctx, cfg, deps, logger); err != nil {
		return err
	}

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	srv, err := mcp.NewServer(mcpCfg, deps.manager, deps.indexer, orch, deps.analyzer, deps.invalidator, logger)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	return srv.Run(ctx)
}

// runDaemon indexes everything, starts the watcher and serves the ops
// endpoint until the context is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, deps *dependencies, orch *search.Orchestrator, logger *logging.Logger) error {
	report, err := deps.indexer.IndexAll(ctx)
	if err != nil {
		return fmt.Errorf("initial index: %w", err)
	}
	logger.Info(ctx, "initial index enqueued",
		zap.Int("files", report.Enqueued),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))

	if err := startWatchPipeline(ctx, cfg, deps, logger); err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, server.Deps{
		Searcher:  orch,
		Analyzer:  deps.analyzer,
		Indexing:  deps.indexer,
		Inval:     deps.invalidator,
		Snapshots: deps.manager.Current,
		Store:     deps.store,
		Embedder:  deps.embedder,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating ops server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startWatchPipeline starts the filesystem watcher and tees its events to
// the indexer and the cache invalidator. Reloads rewire the watch set and
// clean up removed projects.
func startWatchPipeline(ctx context.Context, cfg *config.Config, deps *dependencies, logger *logging.Logger) error {
	w, err := watcher.New(cfg.Watcher, deps.manager.Current, logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.SetIndexedPaths(deps.indexer.TrackedPaths)
	if err := w.Rewatch(); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn(ctx, "watcher stopped", zap.Error(err))
		}
	}()

	go func() {
		for ev := range w.Events() {
			if err := deps.indexer.Enqueue(ev); err != nil {
				logger.Warn(ctx, "index queue rejected event",
					zap.String("project", ev.ProjectID),
					zap.String("path", ev.Path),
					zap.Error(err))
			}
			deps.invalidator.OnFileEvent(ev.ProjectID, ev.Path)
		}
	}()

	deps.manager.Subscribe(func(ev workspace.ReloadEvent) {
		if err := w.Rewatch(); err != nil {
			logger.Warn(ctx, "rewatch after reload failed", zap.Error(err))
		}
		for _, id := range ev.Removed {
			deps.indexer.DropProject(id)
			deps.invalidator.InvalidateProject(ctx, id)
			if err := deps.registry.Drop(ctx, id); err != nil {
				logger.Warn(ctx, "dropping removed project collections failed",
					zap.String("project", id), zap.Error(err))
			}
		}
		for _, id := range ev.Changed {
			deps.invalidator.InvalidateProject(ctx, id)
		}
	})
	return nil
}

// dependencies holds the long-lived collaborators, closed in reverse
// construction order.
type dependencies struct {
	manager     *workspace.Manager
	embedder    embeddings.Client
	store       vectorstore.Store
	registry    *collections.Registry
	redisClient redis.UniversalClient
	natsConn    *nats.Conn
	cache       *cache.Cache
	invalidator *invalidator.Invalidator
	analyzer    *query.Analyzer
	indexer     *indexer.Indexer
}

// Close releases everything in reverse construction order. Best effort;
// failures are logged, not returned, because shutdown must finish.
func (d *dependencies) Close(logger *logging.Logger) {
	ctx := context.Background()
	if d.indexer != nil {
		d.indexer.Close()
	}
	if d.invalidator != nil {
		if err := d.invalidator.Close(); err != nil {
			logger.Warn(ctx, "invalidator close", zap.Error(err))
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			logger.Warn(ctx, "cache close", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			logger.Warn(ctx, "redis close", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn(ctx, "vector store close", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			logger.Warn(ctx, "embedder close", zap.Error(err))
		}
	}
}

// initDependencies builds the component graph bottom-up: embedder, store,
// registry, shared infrastructure (Redis, NATS), cache, invalidator,
// analyzer, indexer. The cache and the invalidator reference each other;
// the recorder side is wired after both exist.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	d := &dependencies{manager: workspace.NewManager(logger)}

	var err error
	d.embedder, err = embeddings.New(cfg.Embedding, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	dim := d.embedder.Dimension()

	d.store, err = vectorstore.New(cfg.VectorStore, dim, logger.Underlying())
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	statePath := ""
	if cfg.VectorStore.Chromem.Path != "" {
		statePath = cfg.VectorStore.Chromem.Path + ".collections.json"
	}
	d.registry, err = collections.NewRegistry(d.store, dim, statePath, logger.Underlying())
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating collection registry: %w", err)
	}

	if cfg.Redis.Enabled {
		d.redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password.Value(),
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		if err := d.redisClient.Ping(ctx).Err(); err != nil {
			// Shared tiers are an optimization; L1 still serves.
			logger.Warn(ctx, "redis unreachable, running L1-only",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			logger.Info(ctx, "connected to redis", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if cfg.NATS.Enabled {
		d.natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			d.Close(logger)
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	d.cache, err = cache.New(cfg.Cache, d.redisClient, nil, logger)
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating query cache: %w", err)
	}

	d.invalidator = invalidator.New(cfg.Invalidation, d.cache, d.natsConn, cfg.NATS.Subject, logger)
	d.cache.SetRecorder(d.invalidator)

	enricher, err := query.NewLLMEnricher(cfg.Analyzer.Enrichment)
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating query enricher: %w", err)
	}
	var enrich query.Enricher
	if enricher != nil {
		enrich = enricher
	}
	d.analyzer, err = query.New(cfg.Analyzer, enrich, logger)
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating query analyzer: %w", err)
	}

	scrubber, err := secrets.New(&secrets.Config{
		Enabled:       !cfg.Secrets.Disabled,
		AllowRegexes:  cfg.Secrets.AllowRegexes,
		AllowlistPath: cfg.Secrets.AllowlistPath,
	})
	if err != nil {
		d.Close(logger)
		return nil, fmt.Errorf("creating secrets scrubber: %w", err)
	}

	d.indexer = indexer.New(cfg.Indexer, indexer.Deps{
		Snapshots: d.manager.Current,
		Store:     d.store,
		Embedder:  d.embedder,
		Registry:  d.registry,
		Scrubber:  scrubber,
		Log:       logger,
		OnDeleted: func(projectID, path string) {
			d.invalidator.OnFileEvent(projectID, path)
		},
	})
	return d, nil
}

// ensureCollections creates the vectors collection for every enabled
// project so the first search does not race the first index.
func ensureCollections(ctx context.Context, deps *dependencies) error {
	snap := deps.manager.Current()
	for _, p := range snap.EnabledProjects() {
		if _, err := deps.registry.Ensure(ctx, p.ID); err != nil {
			return fmt.Errorf("ensuring collection for %s: %w", p.ID, err)
		}
	}
	return nil
}
