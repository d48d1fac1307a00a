// Package invalidator keeps cached search results consistent with the
// files they were computed from. It maintains a reverse index from files
// and projects to cache fingerprints, debounces file events, and evicts
// affected fingerprints in batches. Failures retry with backoff and lean
// on cache TTLs as the safety net, so a lost invalidation can only ever
// produce bounded staleness.
package invalidator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
)

// DefaultSubject is the NATS subject for cross-instance L1 eviction.
const DefaultSubject = "workspaced.invalidation.v1"

// CacheControl is the slice of the query cache the invalidator drives.
type CacheControl interface {
	Invalidate(ctx context.Context, fp string) error
	EvictLocal(fp string)
	Clear(ctx context.Context) error
}

// busMessage is the wire form broadcast to sibling instances.
type busMessage struct {
	Fingerprints []string `json:"fingerprints"`
}

type flushItem struct {
	key      string
	observed time.Time
}

// Invalidator translates file, pattern, project and workspace triggers
// into cache evictions.
type Invalidator struct {
	cfg     config.InvalidationConfig
	cache   CacheControl
	log     *logging.Logger
	nc      *nats.Conn // nil disables the bus
	subject string

	mu        sync.Mutex
	index     *reverseIndex
	timers    map[string]*time.Timer
	firstSeen map[string]time.Time

	flushCh chan flushItem
	stop    chan struct{}
	done    chan struct{}
	sub     *nats.Subscription

	started     atomic.Bool
	batches     atomic.Uint64
	invalidated atomic.Uint64
}

// Stats is the snapshot served under /v1/stats.
type Stats struct {
	TrackedFiles     int    `json:"tracked_files"`
	TrackedProjects  int    `json:"tracked_projects"`
	PendingDebounce  int    `json:"pending_debounce"`
	BatchesProcessed uint64 `json:"batches_processed"`
	Invalidated      uint64 `json:"invalidated"`
}

// New builds an invalidator. nc may be nil; subject defaults to
// DefaultSubject when empty.
func New(cfg config.InvalidationConfig, cache CacheControl, nc *nats.Conn, subject string, log *logging.Logger) *Invalidator {
	if subject == "" {
		subject = DefaultSubject
	}
	inv := &Invalidator{
		cfg:       cfg,
		cache:     cache,
		log:       log.Named("invalidator"),
		nc:        nc,
		subject:   subject,
		index:     newReverseIndex(),
		timers:    map[string]*time.Timer{},
		firstSeen: map[string]time.Time{},
		flushCh:   make(chan flushItem, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	metrics.RegisterSnapshot("invalidator", func() any { return inv.Snapshot() })
	return inv
}

// Start launches the batch worker and, when a bus is configured, the
// sibling-eviction subscriber.
func (inv *Invalidator) Start(ctx context.Context) error {
	if inv.nc != nil {
		sub, err := inv.nc.Subscribe(inv.subject, func(msg *nats.Msg) {
			var m busMessage
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				return
			}
			for _, fp := range m.Fingerprints {
				inv.cache.EvictLocal(fp)
			}
		})
		if err != nil {
			return err
		}
		inv.sub = sub
	}
	inv.started.Store(true)
	go inv.worker(ctx)
	return nil
}

// Record implements cache.Recorder. accessedFiles entries must be built
// with FileKey.
func (inv *Invalidator) Record(fp string, projectIDs, accessedFiles []string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.index.record(fp, projectIDs, accessedFiles)
}

// OnFileEvent debounces a changed file. Repeated events within the window
// restart the timer; the first observation time is kept for the lag
// metric.
func (inv *Invalidator) OnFileEvent(projectID, path string) {
	key := FileKey(projectID, path)
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if t, ok := inv.timers[key]; ok {
		t.Reset(inv.cfg.Debounce)
		return
	}
	inv.firstSeen[key] = time.Now()
	inv.timers[key] = time.AfterFunc(inv.cfg.Debounce, func() { inv.expire(key) })
}

func (inv *Invalidator) expire(key string) {
	inv.mu.Lock()
	observed, ok := inv.firstSeen[key]
	delete(inv.timers, key)
	delete(inv.firstSeen, key)
	inv.mu.Unlock()
	if !ok {
		return
	}
	select {
	case inv.flushCh <- flushItem{key: key, observed: observed}:
	case <-inv.stop:
	}
}

// worker drains expired files into batches and processes them. A batch
// closes when it reaches the configured size or the channel runs dry.
func (inv *Invalidator) worker(ctx context.Context) {
	defer close(inv.done)
	for {
		select {
		case <-inv.stop:
			return
		case <-ctx.Done():
			return
		case first := <-inv.flushCh:
			batch := []flushItem{first}
			for len(batch) < inv.cfg.BatchSize {
				select {
				case item := <-inv.flushCh:
					batch = append(batch, item)
				default:
					goto flush
				}
			}
		flush:
			inv.processBatch(ctx, batch)
		}
	}
}

func (inv *Invalidator) processBatch(ctx context.Context, batch []flushItem) {
	inv.mu.Lock()
	fpSet := map[string]bool{}
	for _, item := range batch {
		for _, fp := range inv.index.fingerprintsForFile(item.key) {
			fpSet[fp] = true
		}
	}
	fps := setToSlice(fpSet)
	inv.mu.Unlock()

	inv.invalidateAll(ctx, fps, "file")

	inv.mu.Lock()
	inv.index.drop(fps)
	inv.mu.Unlock()

	now := time.Now()
	for _, item := range batch {
		metrics.InvalidationLagSeconds.Observe(now.Sub(item.observed).Seconds())
	}
	inv.batches.Add(1)
}

// invalidateAll evicts fingerprints with bounded retry and broadcasts the
// survivors to sibling instances.
func (inv *Invalidator) invalidateAll(ctx context.Context, fps []string, trigger string) {
	if len(fps) == 0 {
		return
	}
	var evicted []string
	for _, fp := range fps {
		if inv.invalidateOne(ctx, fp) {
			evicted = append(evicted, fp)
			metrics.InvalidationsTotal.WithLabelValues(trigger).Inc()
			inv.invalidated.Add(1)
		}
	}
	inv.broadcast(evicted)
}

func (inv *Invalidator) invalidateOne(ctx context.Context, fp string) bool {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; attempt <= inv.cfg.MaxRetries; attempt++ {
		if err = inv.cache.Invalidate(ctx, fp); err == nil {
			return true
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		case <-inv.stop:
			return false
		}
		backoff *= 2
	}
	metrics.InvalidationFailuresTotal.Inc()
	inv.log.Warn(ctx, "invalidation exhausted retries, relying on TTL",
		zap.String("fingerprint", fp), zap.Error(err))
	return false
}

func (inv *Invalidator) broadcast(fps []string) {
	if inv.nc == nil || len(fps) == 0 {
		return
	}
	data, err := json.Marshal(busMessage{Fingerprints: fps})
	if err != nil {
		return
	}
	if err := inv.nc.Publish(inv.subject, data); err != nil {
		inv.log.Debug(context.Background(), "invalidation broadcast failed", zap.Error(err))
	}
}

// InvalidateFile evicts one file's fingerprints immediately, bypassing
// the debounce. Used by the cache_invalidate tool.
func (inv *Invalidator) InvalidateFile(ctx context.Context, projectID, path string) int {
	key := FileKey(projectID, path)
	inv.mu.Lock()
	fps := inv.index.fingerprintsForFile(key)
	inv.mu.Unlock()

	inv.invalidateAll(ctx, fps, "file")

	inv.mu.Lock()
	inv.index.drop(fps)
	inv.mu.Unlock()
	return len(fps)
}

// InvalidatePattern evicts fingerprints of files matching a glob.
func (inv *Invalidator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	inv.mu.Lock()
	fps, err := inv.index.fingerprintsForPattern(pattern)
	inv.mu.Unlock()
	if err != nil {
		return 0, err
	}

	inv.invalidateAll(ctx, fps, "pattern")

	inv.mu.Lock()
	inv.index.drop(fps)
	inv.mu.Unlock()
	return len(fps), nil
}

// InvalidateProject wipes every fingerprint tagged with the project.
func (inv *Invalidator) InvalidateProject(ctx context.Context, projectID string) int {
	inv.mu.Lock()
	fps := inv.index.fingerprintsForProject(projectID)
	inv.mu.Unlock()

	inv.invalidateAll(ctx, fps, "project")

	inv.mu.Lock()
	inv.index.drop(fps)
	inv.mu.Unlock()
	return len(fps)
}

// InvalidateAll clears the whole cache and the reverse index. Called on
// workspace reload, where every fingerprint embeds a stale generation.
func (inv *Invalidator) InvalidateAll(ctx context.Context) error {
	err := inv.cache.Clear(ctx)
	inv.mu.Lock()
	inv.index.clear()
	for key, t := range inv.timers {
		t.Stop()
		delete(inv.timers, key)
		delete(inv.firstSeen, key)
	}
	inv.mu.Unlock()
	metrics.InvalidationsTotal.WithLabelValues("all").Inc()
	return err
}

// Snapshot returns the current stats.
func (inv *Invalidator) Snapshot() Stats {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return Stats{
		TrackedFiles:     len(inv.index.byFile),
		TrackedProjects:  len(inv.index.byProject),
		PendingDebounce:  len(inv.timers),
		BatchesProcessed: inv.batches.Load(),
		Invalidated:      inv.invalidated.Load(),
	}
}

// Close stops the worker and the bus subscription. Pending debounce
// timers are dropped; TTL covers whatever they would have evicted.
func (inv *Invalidator) Close() error {
	metrics.UnregisterSnapshot("invalidator")
	close(inv.stop)
	if inv.started.Load() {
		<-inv.done
	}
	inv.mu.Lock()
	for key, t := range inv.timers {
		t.Stop()
		delete(inv.timers, key)
	}
	inv.mu.Unlock()
	if inv.sub != nil {
		return inv.sub.Unsubscribe()
	}
	return nil
}
