// Package indexer turns file events into vector-store state: it reads and
// chunks changed files, embeds new chunks, upserts them into the owning
// project's collection and removes chunks for deleted files.
//
// Scheduling follows the workspace indexing policy: a weighted fair queue
// over project priorities, a bounded worker pool, and at most one in-flight
// run per (project, path) with newest-event coalescing.
package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/chunking"
	"github.com/fyrsmithlabs/workspaced/internal/collections"
	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/gitmeta"
	"github.com/fyrsmithlabs/workspaced/internal/ignore"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/secrets"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
	"github.com/fyrsmithlabs/workspaced/internal/watcher"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// ErrQueueFull is returned by Enqueue when the bounded queue rejects an
// event. The watcher's rescan fallback covers what was dropped.
var ErrQueueFull = errors.New("index queue full")

// defaultSkipDirs are never indexed regardless of exclude globs.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// Deps are the collaborators an Indexer needs.
type Deps struct {
	Snapshots func() *workspace.Snapshot
	Store     vectorstore.Store
	Embedder  embeddings.Client
	Registry  *collections.Registry
	Scrubber  secrets.Scrubber
	Log       *logging.Logger

	// OnDeleted is invoked after a file's chunks are removed, so the cache
	// invalidator sees deletions that bypass the watcher (explicit
	// index.file calls on removed paths). Optional.
	OnDeleted func(projectID, path string)
}

// Indexer owns the index pipeline and its worker pool.
type Indexer struct {
	cfg     config.IndexerConfig
	deps    Deps
	log     *logging.Logger
	chunker *chunking.Chunker
	queue   *queue

	mu         sync.Mutex
	fileIDs    map[fileKey]map[string]bool // successfully upserted chunk ids per file
	resolvers  map[string]*gitmeta.Resolver
	ignoreSets map[string]*ignore.Set
	errCount   map[string]uint64 // per-project error counter
	indexed    uint64
	deleted    uint64

	wg sync.WaitGroup
}

// New builds an indexer. Start launches the workers.
func New(cfg config.IndexerConfig, deps Deps) *Indexer {
	ix := &Indexer{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Log.Named("indexer"),
		chunker:    chunking.New(cfg.WindowLines, cfg.OverlapLines),
		queue:      newQueue(cfg.QueueCapacity),
		fileIDs:    make(map[fileKey]map[string]bool),
		resolvers:  make(map[string]*gitmeta.Resolver),
		ignoreSets: make(map[string]*ignore.Set),
		errCount:   make(map[string]uint64),
	}
	metrics.RegisterSnapshot("indexer", ix.snapshot)
	return ix
}

// Start runs the worker pool until ctx is cancelled.
func (ix *Indexer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		ix.queue.wake()
	}()

	for i := 0; i < ix.cfg.Workers; i++ {
		ix.wg.Add(1)
		go ix.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (ix *Indexer) Wait() {
	ix.wg.Wait()
}

// Close stops accepting events and wakes blocked workers.
func (ix *Indexer) Close() {
	ix.queue.close()
	metrics.UnregisterSnapshot("indexer")
}

// Enqueue schedules a file event. Priority comes from the owning project's
// indexing policy; events for unknown or disabled projects are dropped.
func (ix *Indexer) Enqueue(ev watcher.Event) error {
	snap := ix.deps.Snapshots()
	if snap == nil {
		return workspace.ErrNotLoaded
	}
	p, ok := snap.Project(ev.ProjectID)
	if !ok || !p.Indexing.Enabled {
		return nil
	}
	if !ix.queue.push(ev, p.Indexing.Priority) {
		return ErrQueueFull
	}
	return nil
}

func (ix *Indexer) worker(ctx context.Context) {
	defer ix.wg.Done()
	for {
		t, ok := ix.queue.pop(ctx)
		if !ok {
			return
		}
		key := fileKey{t.ev.ProjectID, t.ev.Path}
		ix.process(ctx, t.ev)
		if follow := ix.queue.done(key); follow != nil {
			_ = ix.Enqueue(*follow)
		}
	}
}

// process runs one event under the per-file deadline. Failures are
// recorded, never propagated; the next event on the file retries.
func (ix *Indexer) process(parent context.Context, ev watcher.Event) {
	ctx, cancel := context.WithTimeout(parent, ix.cfg.FileTimeout)
	defer cancel()
	ctx, _ = logging.EnsureCorrelationID(ctx)
	ctx = logging.WithProject(ctx, ev.ProjectID)

	var err error
	switch ev.Kind {
	case watcher.KindDeleted:
		err = ix.deleteFile(ctx, ev.ProjectID, ev.Path)
	default:
		err = ix.indexFile(ctx, ev.ProjectID, ev.Path)
	}
	if err != nil {
		ix.recordError(ev.ProjectID)
		metrics.IndexFilesTotal.WithLabelValues(ev.ProjectID, "error").Inc()
		ix.log.Warn(ctx, "index event failed",
			zap.String("path", ev.Path),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// IndexFile indexes one file immediately, outside the queue. Used by the
// index.file tool operation.
func (ix *Indexer) IndexFile(ctx context.Context, projectID, path string) error {
	snap := ix.deps.Snapshots()
	if snap == nil {
		return workspace.ErrNotLoaded
	}
	if _, ok := snap.Project(projectID); !ok {
		return faults.Request(faults.CodeUnknownProject, "unknown project %q", projectID)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ix.deleteFile(ctx, projectID, path)
	}
	return ix.indexFile(ctx, projectID, path)
}

// TrackedPaths lists the files a project has indexed since process start.
// The watcher's degraded sweep reconciles deletions against it.
func (ix *Indexer) TrackedPaths(projectID string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var paths []string
	for key := range ix.fileIDs {
		if key.projectID == projectID {
			paths = append(paths, key.path)
		}
	}
	return paths
}

// deleteFile removes every chunk of one file and notifies the invalidator.
func (ix *Indexer) deleteFile(ctx context.Context, projectID, path string) error {
	name, err := collections.Name(projectID, collections.KindVectors)
	if err != nil {
		return err
	}
	if err := ix.deps.Store.DeleteByPath(ctx, name, projectID, path); err != nil &&
		!errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return faults.Wrap(err, faults.CategoryIndexing, faults.CodeUpsertFailed,
			"deleting chunks for %s", path)
	}

	ix.mu.Lock()
	delete(ix.fileIDs, fileKey{projectID, path})
	ix.deleted++
	ix.mu.Unlock()

	metrics.IndexFilesTotal.WithLabelValues(projectID, "deleted").Inc()
	if ix.deps.OnDeleted != nil {
		ix.deps.OnDeleted(projectID, path)
	}
	return nil
}

// indexFile runs the created/modified pipeline for one file.
func (ix *Indexer) indexFile(ctx context.Context, projectID, path string) error {
	snap := ix.deps.Snapshots()
	if snap == nil {
		return workspace.ErrNotLoaded
	}
	project, ok := snap.Project(projectID)
	if !ok {
		return faults.Request(faults.CodeUnknownProject, "unknown project %q", projectID)
	}

	if rel, err := filepath.Rel(project.Path, path); err == nil &&
		(snap.Excluded(projectID, rel) || ix.ignored(project, rel)) {
		metrics.IndexFilesTotal.WithLabelValues(projectID, "skipped").Inc()
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return faults.Wrap(err, faults.CategoryIndexing, faults.CodeFileUnreadable, "stat %s", path)
	}
	if info.Size() > ix.cfg.MaxFileSize {
		metrics.IndexFilesTotal.WithLabelValues(projectID, "skipped").Inc()
		return faults.New(faults.CategoryIndexing, faults.CodeFileTooLarge,
			"%s is %d bytes, cap %d", path, info.Size(), ix.cfg.MaxFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return faults.Wrap(err, faults.CategoryIndexing, faults.CodeFileUnreadable, "read %s", path)
	}
	if !utf8.Valid(raw) {
		// Binary artifact; silently out of scope.
		metrics.IndexFilesTotal.WithLabelValues(projectID, "skipped").Inc()
		return nil
	}

	content := string(raw)
	if ix.deps.Scrubber != nil {
		content = ix.deps.Scrubber.Scrub(content).Scrubbed
	}

	chunks := ix.chunker.Split(path, content)
	key := fileKey{projectID, path}
	if len(chunks) == 0 {
		// File emptied out: drop whatever was indexed before.
		return ix.deleteFile(ctx, projectID, path)
	}

	collection, err := ix.deps.Registry.Ensure(ctx, projectID)
	if err != nil {
		return err
	}

	newIDs := make(map[string]bool, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = chunking.ID(projectID, path, ch.Index, ch.Hash)
		newIDs[ids[i]] = true
	}

	oldIDs, known, additive := ix.previousIDs(key, newIDs)
	if !known {
		// First event for this file since process start: recover the memo
		// from the store so an unchanged file survives a restart without a
		// single write.
		if stored, err := ix.deps.Store.IDsByPath(ctx, collection, projectID, path); err == nil && len(stored) > 0 {
			oldIDs = make(map[string]bool, len(stored))
			additive = true
			for _, id := range stored {
				oldIDs[id] = true
				if !newIDs[id] {
					additive = false
				}
			}
			ix.mu.Lock()
			ix.fileIDs[key] = oldIDs
			ix.mu.Unlock()
		}
	}
	if !additive {
		// Stale chunks exist (or the store holds nothing for this file):
		// clear the file's chunks and rewrite them all. The embedding
		// cache makes re-embedding unchanged content a lookup.
		if err := ix.deps.Store.DeleteByPath(ctx, collection, projectID, path); err != nil &&
			!errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return faults.Wrap(err, faults.CategoryIndexing, faults.CodeUpsertFailed,
				"clearing stale chunks for %s", path)
		}
		oldIDs = nil
	}

	var (
		pendingChunks []chunking.Chunk
		pendingIDs    []string
		reused        int
	)
	for i, ch := range chunks {
		if oldIDs[ids[i]] {
			reused++
			continue
		}
		pendingChunks = append(pendingChunks, ch)
		pendingIDs = append(pendingIDs, ids[i])
	}
	metrics.IndexChunksTotal.WithLabelValues("reused").Add(float64(reused))

	if len(pendingChunks) == 0 {
		// Unchanged content: no writes at all.
		metrics.IndexFilesTotal.WithLabelValues(projectID, "indexed").Inc()
		return nil
	}

	change, hasChange := ix.lastChange(ctx, project, path)
	upserted, embedErr := ix.embedAndUpsert(ctx, collection, projectID, path, info.ModTime(),
		change, hasChange, pendingChunks, pendingIDs)

	// The memo holds only what actually landed, so failed chunks retry on
	// the next event for this file.
	ix.mu.Lock()
	memo := make(map[string]bool, len(oldIDs)+len(upserted))
	for id := range oldIDs {
		memo[id] = true
	}
	for _, id := range upserted {
		memo[id] = true
	}
	ix.fileIDs[key] = memo
	ix.indexed++
	ix.mu.Unlock()

	if embedErr != nil {
		metrics.IndexFilesTotal.WithLabelValues(projectID, "partial").Inc()
		return embedErr
	}
	metrics.IndexFilesTotal.WithLabelValues(projectID, "indexed").Inc()
	return nil
}

// previousIDs reports the memoized chunk ids for a file, whether the file
// has been seen since process start, and whether the new set is a
// superset of the old one (the additive fast path).
func (ix *Indexer) previousIDs(key fileKey, newIDs map[string]bool) (old map[string]bool, known, additive bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old, known = ix.fileIDs[key]
	if !known {
		return nil, false, false
	}
	for id := range old {
		if !newIDs[id] {
			return old, true, false
		}
	}
	return old, true, true
}

// embedAndUpsert embeds pending chunks in provider-sized batches and
// upserts them. A failed batch fails only its chunks; the rest proceed.
// Returns the ids that landed and the first error, if any.
func (ix *Indexer) embedAndUpsert(ctx context.Context, collection, projectID, path string,
	modTime time.Time, change gitmeta.Change, hasChange bool,
	chunks []chunking.Chunk, ids []string) ([]string, error) {

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	var (
		landed   []string
		firstErr error
	)
	// The embedding client batches internally too; this outer batch bounds
	// the blast radius of one failed call to a slice of the file.
	const batch = 32
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}

		vectors, err := ix.deps.Embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			metrics.IndexChunksTotal.WithLabelValues("failed").Add(float64(end - start))
			if firstErr == nil {
				firstErr = faults.Wrap(err, faults.CategoryIndexing, faults.CodeChunkEmbedFailed,
					"embedding %d chunks of %s", end-start, path)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		items := make([]vectorstore.Item, 0, end-start)
		now := time.Now().UTC()
		for i := start; i < end; i++ {
			ch := chunks[i]
			payload := vectorstore.Payload{
				ProjectID:    projectID,
				FilePath:     path,
				Language:     chunking.LanguageOf(path),
				ChunkIndex:   ch.Index,
				LineStart:    ch.LineStart,
				LineEnd:      ch.LineEnd,
				Content:      ch.Content,
				ModifiedTime: modTime.UTC(),
				IndexedTime:  now,
				ContentHash:  ch.Hash,
			}
			if hasChange {
				payload.CommitTime = change.Time.UTC()
				payload.Author = change.Author
			}
			items = append(items, vectorstore.Item{ID: ids[i], Vector: vectors[i-start], Payload: payload})
		}

		if err := ix.deps.Store.Upsert(ctx, collection, items); err != nil {
			metrics.IndexChunksTotal.WithLabelValues("failed").Add(float64(len(items)))
			if firstErr == nil {
				firstErr = faults.Wrap(err, faults.CategoryIndexing, faults.CodeUpsertFailed,
					"upserting %d chunks of %s", len(items), path)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		metrics.IndexChunksTotal.WithLabelValues("embedded").Add(float64(len(items)))
		landed = append(landed, ids[start:end]...)
	}
	return landed, firstErr
}

// ignored consults the project's gitignore-style files. Sets are loaded
// lazily and cached until the project is dropped; edits to an ignore file
// therefore apply after a workspace reload or restart.
func (ix *Indexer) ignored(project *workspace.Project, rel string) bool {
	ix.mu.Lock()
	set, ok := ix.ignoreSets[project.ID]
	if !ok {
		loaded, warnings, err := ignore.Load(project.Path, ix.cfg.IgnoreFiles)
		if err != nil {
			ix.log.Warn(context.Background(), "loading ignore files failed",
				zap.String("project", project.ID), zap.Error(err))
			loaded = &ignore.Set{}
		}
		for _, w := range warnings {
			ix.log.Warn(context.Background(), "ignore pattern dropped",
				zap.String("project", project.ID), zap.String("detail", w))
		}
		set = loaded
		ix.ignoreSets[project.ID] = set
	}
	ix.mu.Unlock()
	return set.Match(filepath.ToSlash(rel))
}

// lastChange resolves git enrichment for a path, degrading to nothing for
// projects outside a repository.
func (ix *Indexer) lastChange(ctx context.Context, project *workspace.Project, path string) (gitmeta.Change, bool) {
	ix.mu.Lock()
	r, ok := ix.resolvers[project.ID]
	if !ok {
		r = gitmeta.Open(project.Path, ix.log.Underlying())
		ix.resolvers[project.ID] = r
	}
	ix.mu.Unlock()

	if !r.InRepo() {
		return gitmeta.Change{}, false
	}
	return r.LastChange(ctx, path)
}

func (ix *Indexer) recordError(projectID string) {
	ix.mu.Lock()
	ix.errCount[projectID]++
	ix.mu.Unlock()
	metrics.IndexErrorsTotal.WithLabelValues(projectID).Inc()
}

// Stats is the indexer's snapshot view.
type Stats struct {
	QueueDepth      int               `json:"queue_depth"`
	FilesIndexed    uint64            `json:"files_indexed"`
	FilesDeleted    uint64            `json:"files_deleted"`
	ErrorsByProject map[string]uint64 `json:"errors_by_project"`
}

func (ix *Indexer) snapshot() any {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	errs := make(map[string]uint64, len(ix.errCount))
	for k, v := range ix.errCount {
		errs[k] = v
	}
	return Stats{
		QueueDepth:      ix.queue.depth(),
		FilesIndexed:    ix.indexed,
		FilesDeleted:    ix.deleted,
		ErrorsByProject: errs,
	}
}

// DropProject forgets per-file state for a removed project. Collection
// cleanup happens through the registry.
func (ix *Indexer) DropProject(projectID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for key := range ix.fileIDs {
		if key.projectID == projectID {
			delete(ix.fileIDs, key)
		}
	}
	delete(ix.resolvers, projectID)
	delete(ix.ignoreSets, projectID)
}
