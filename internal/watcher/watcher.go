package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("watcher closed")

// Watcher owns one fsnotify watcher covering every enabled project root,
// feeding a debounced bounded event channel. When the consumer lags and the
// channel fills, the watcher drops events and flips to degraded mode: a
// periodic mtime sweep of all roots replaces the lost notifications until a
// sweep completes without drops.
type Watcher struct {
	cfg       config.WatcherConfig
	snapshots func() *workspace.Snapshot
	log       *logging.Logger

	events chan Event
	deb    *debouncer

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	dirOwner map[string]string // watched dir -> project id

	// indexedPaths, when set, lists the paths currently indexed per
	// project. The sweep checks them against the filesystem so deletions
	// lost to a full channel are still reconciled.
	indexedPaths func(projectID string) []string

	degraded  atomic.Bool
	lastSweep atomic.Int64 // unix nanos of the last completed sweep

	// sendMu serializes channel sends against the terminal close so a
	// late debounce flush can never hit a closed channel.
	sendMu     sync.Mutex
	sendClosed bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a watcher. Start must be called before events flow.
func New(cfg config.WatcherConfig, snapshots func() *workspace.Snapshot, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:       cfg,
		snapshots: snapshots,
		log:       log.Named("watcher"),
		events:    make(chan Event, cfg.ChannelCapacity),
		fsw:       fsw,
		dirOwner:  make(map[string]string),
		closed:    make(chan struct{}),
	}
	w.deb = newDebouncer(cfg.Debounce, w.send)
	w.lastSweep.Store(time.Now().UnixNano())
	return w, nil
}

// Events returns the output channel. It is closed after Close (or context
// cancellation) once the terminal flush has been emitted; the close is the
// terminal event consumers observe.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// SetIndexedPaths registers the source of currently indexed paths the
// degraded sweep reconciles deletions against. Call before Start.
func (w *Watcher) SetIndexedPaths(fn func(projectID string) []string) {
	w.indexedPaths = fn
}

// Degraded reports whether the watcher is in rescan fallback mode.
func (w *Watcher) Degraded() bool {
	return w.degraded.Load()
}

// Start watches every enabled project root in the current snapshot and
// blocks until ctx is cancelled or Close is called. Reloads are handled by
// calling Rewatch from a snapshot subscriber.
func (w *Watcher) Start(ctx context.Context) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}

	if err := w.Rewatch(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.RescanInterval)
	defer ticker.Stop()

	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closed:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "fsnotify error", zap.Error(err))
		case <-ticker.C:
			if w.degraded.Load() {
				w.sweep(ctx)
			}
		}
	}
}

// Rewatch resets the watched directory set to the current snapshot's
// enabled project roots. Called at start and on workspace reload.
func (w *Watcher) Rewatch() error {
	snap := w.snapshots()
	if snap == nil {
		return workspace.ErrNotLoaded
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirOwner {
		_ = w.fsw.Remove(dir)
		delete(w.dirOwner, dir)
	}

	for _, p := range snap.EnabledProjects() {
		if err := w.watchTreeLocked(snap, p.ID, p.Path); err != nil {
			w.log.Warn(context.Background(), "watch project root failed",
				zap.String("project", p.ID), zap.String("path", p.Path), zap.Error(err))
		}
	}
	return nil
}

// watchTreeLocked adds watches on root and every non-excluded subdirectory.
func (w *Watcher) watchTreeLocked(snap *workspace.Snapshot, projectID, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr == nil && rel != "." && snap.Excluded(projectID, rel) {
			return filepath.SkipDir
		}
		if werr := w.fsw.Add(path); werr != nil {
			return nil
		}
		w.dirOwner[path] = projectID
		return nil
	})
}

// handle maps one raw fsnotify event into the debouncer.
func (w *Watcher) handle(ev fsnotify.Event) {
	// Chmod-only events carry no content change.
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	projectID, root, ok := w.owner(filepath.Dir(ev.Name))
	if !ok {
		return
	}

	snap := w.snapshots()
	if snap == nil {
		return
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil || snap.Excluded(projectID, rel) {
		return
	}

	// New directories extend the watch set; their files arrive as
	// subsequent creates.
	if ev.Op&fsnotify.Create != 0 {
		if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
			w.mu.Lock()
			_ = w.watchTreeLocked(snap, projectID, ev.Name)
			w.mu.Unlock()
			return
		}
	}

	var kind Kind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = KindCreated
	case ev.Op&fsnotify.Write != 0:
		kind = KindModified
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = KindDeleted
	default:
		return
	}

	w.deb.add(Event{
		ProjectID:  projectID,
		Path:       ev.Name,
		Kind:       kind,
		ObservedAt: time.Now(),
	})
}

// owner resolves the project owning a watched directory, along with the
// project root for exclude evaluation.
func (w *Watcher) owner(dir string) (projectID, root string, ok bool) {
	w.mu.Lock()
	projectID, ok = w.dirOwner[dir]
	w.mu.Unlock()
	if !ok {
		return "", "", false
	}
	snap := w.snapshots()
	if snap == nil {
		return "", "", false
	}
	p, found := snap.Project(projectID)
	if !found {
		return "", "", false
	}
	return projectID, p.Path, true
}

// send delivers a debounced event without blocking. A full channel marks
// the watcher degraded; the periodic sweep covers what was dropped.
func (w *Watcher) send(ev Event) {
	if !w.trySend(ev) {
		metrics.WatcherDroppedTotal.Inc()
		if w.degraded.CompareAndSwap(false, true) {
			metrics.WatcherDegraded.Set(1)
			w.log.Warn(context.Background(), "event channel full, entering degraded rescan mode")
		}
	}
}

// trySend attempts a non-blocking delivery. Returns false when the channel
// is full; a closed watcher reports true so callers do not count shutdown
// as backpressure.
func (w *Watcher) trySend(ev Event) bool {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.sendClosed {
		return true
	}
	select {
	case w.events <- ev:
		metrics.WatcherEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		return true
	default:
		return false
	}
}

// sweep emits modified events for files changed since the last completed
// sweep, and deleted events for indexed files that no longer exist; an
// mtime walk alone cannot surface a removal that was dropped. A sweep
// that delivers everything without drops clears degraded mode.
func (w *Watcher) sweep(ctx context.Context) {
	snap := w.snapshots()
	if snap == nil {
		return
	}

	since := time.Unix(0, w.lastSweep.Load())
	start := time.Now()
	clean := true

	for _, p := range snap.EnabledProjects() {
		filter := snap.Filter(p.ID)
		_ = filepath.WalkDir(p.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			rel, rerr := filepath.Rel(p.Path, path)
			if rerr == nil && rel != "." && filter.Excluded(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil || info.ModTime().Before(since) {
				return nil
			}
			if !w.trySend(Event{ProjectID: p.ID, Path: path, Kind: KindModified, ObservedAt: start}) {
				clean = false
			}
			return nil
		})

		if w.indexedPaths == nil {
			continue
		}
		for _, path := range w.indexedPaths(p.ID) {
			if ctx.Err() != nil {
				return
			}
			if _, serr := os.Stat(path); !os.IsNotExist(serr) {
				continue
			}
			if !w.trySend(Event{ProjectID: p.ID, Path: path, Kind: KindDeleted, ObservedAt: start}) {
				clean = false
			}
		}
	}

	if clean {
		w.lastSweep.Store(start.UnixNano())
		if w.degraded.CompareAndSwap(true, false) {
			metrics.WatcherDegraded.Set(0)
			w.log.Info(ctx, "rescan drained, leaving degraded mode",
				zap.Duration("sweep_time", time.Since(start)))
		}
	}
}

// shutdown flushes pending debounced events best-effort and closes the
// output channel, the terminal signal consumers observe.
func (w *Watcher) shutdown() {
	w.closeOnce.Do(func() { close(w.closed) })

	remaining := w.deb.stop()

	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	for _, ev := range remaining {
		select {
		case w.events <- ev:
		default:
		}
	}
	w.sendClosed = true
	close(w.events)
}

// Close stops the watcher. Safe to call concurrently with Start.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.fsw.Close()
}
