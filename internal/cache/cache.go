// Package cache is the three-tier query cache: an in-process LRU (L1), a
// shared Redis tier (L2) and a precomputed long-lived Redis tier (L3,
// written only through Precompute). Lookups fall through L1 → L2 → L3;
// shared-tier hits are promoted to L1.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
)

// Recorder receives the provenance of every successful Set so the
// invalidator can map files and projects back to fingerprints.
type Recorder interface {
	Record(fp string, projectIDs, accessedFiles []string)
}

// Entry is what a fill produces: the results plus the provenance the
// invalidator needs.
type Entry struct {
	Results       []ranking.Result
	ProjectIDs    []string
	AccessedFiles []string
}

// FillFunc computes an entry on a cache miss.
type FillFunc func(ctx context.Context) (*Entry, error)

type tierStats struct {
	hits       atomic.Uint64
	misses     atomic.Uint64
	latencyNS  atomic.Int64
	latencyCnt atomic.Uint64
}

func (s *tierStats) observe(hit bool, d time.Duration) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	s.latencyNS.Add(int64(d))
	s.latencyCnt.Add(1)
}

func (s *tierStats) avgLatencyMS() float64 {
	n := s.latencyCnt.Load()
	if n == 0 {
		return 0
	}
	return float64(s.latencyNS.Load()) / float64(n) / 1e6
}

// TierStats is one tier's view in Stats.
type TierStats struct {
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Evictions    uint64  `json:"evictions"`
	Bytes        int64   `json:"bytes"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Stats is the per-tier counter snapshot.
type Stats struct {
	L1     TierStats `json:"l1"`
	L2     TierStats `json:"l2"`
	L3     TierStats `json:"l3"`
	Misses uint64    `json:"misses"`
}

// Cache is the tiered facade. The zero value is not usable; construct
// with New. Safe for concurrent use.
type Cache struct {
	cfg      config.CacheConfig
	log      *logging.Logger
	l1       *l1Tier
	l2       *sharedTier // nil when Redis is disabled
	l3       *sharedTier
	recorder Recorder

	sf      singleflight.Group
	pending sync.Map // fingerprint -> chan struct{}

	l1Stats, l2Stats, l3Stats tierStats
	fullMisses                atomic.Uint64
}

// New builds the cache. rdb may be nil, which disables L2 and L3.
// recorder may be nil.
func New(cfg config.CacheConfig, rdb redis.UniversalClient, recorder Recorder, log *logging.Logger) (*Cache, error) {
	log = log.Named("cache")
	l1, err := newL1(cfg.L1.MaxEntries, cfg.L1.MaxBytes, cfg.L1.TTL)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c := &Cache{
		cfg:      cfg,
		log:      log,
		l1:       l1,
		recorder: recorder,
	}
	if rdb != nil {
		c.l2 = newSharedTier("l2", rdb, cfg.L2.Keyspace, cfg.L2.TTL, log)
		c.l3 = newSharedTier("l3", rdb, cfg.L3.Keyspace, cfg.L3.MinTTL, log)
	}
	metrics.RegisterSnapshot("cache", func() any { return c.Stats() })
	return c, nil
}

// Get checks the tiers in order and returns the first hit. On a miss with
// a fill in flight for the same fingerprint, it waits up to the configured
// bound for the fill to land, then falls through to the miss path.
func (c *Cache) Get(ctx context.Context, fp string) ([]ranking.Result, bool) {
	if results, ok := c.lookup(ctx, fp); ok {
		return results, true
	}
	if ch, ok := c.pending.Load(fp); ok {
		select {
		case <-ch.(chan struct{}):
			if results, ok := c.l1.get(fp, time.Now()); ok {
				c.l1Stats.hits.Add(1)
				metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
				return results, true
			}
		case <-time.After(c.cfg.FillWait):
		case <-ctx.Done():
		}
	}
	c.fullMisses.Add(1)
	metrics.CacheMissesTotal.Inc()
	return nil, false
}

func (c *Cache) lookup(ctx context.Context, fp string) ([]ranking.Result, bool) {
	start := time.Now()
	results, ok := c.l1.get(fp, start)
	c.l1Stats.observe(ok, time.Since(start))
	metrics.CacheTierSeconds.WithLabelValues("l1").Observe(time.Since(start).Seconds())
	if ok {
		metrics.CacheHitsTotal.WithLabelValues("l1").Inc()
		return results, true
	}
	if c.l2 == nil {
		return nil, false
	}

	start = time.Now()
	results, ok = c.l2.get(ctx, fp)
	c.l2Stats.observe(ok, time.Since(start))
	metrics.CacheTierSeconds.WithLabelValues("l2").Observe(time.Since(start).Seconds())
	if ok {
		metrics.CacheHitsTotal.WithLabelValues("l2").Inc()
		c.promote(fp, results)
		return results, true
	}

	start = time.Now()
	results, ok = c.l3.get(ctx, fp)
	c.l3Stats.observe(ok, time.Since(start))
	metrics.CacheTierSeconds.WithLabelValues("l3").Observe(time.Since(start).Seconds())
	if ok {
		metrics.CacheHitsTotal.WithLabelValues("l3").Inc()
		c.promote(fp, results)
		return results, true
	}
	return nil, false
}

func (c *Cache) promote(fp string, results []ranking.Result) {
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	c.l1.set(fp, results, int64(len(payload)), time.Now())
}

// Fill computes and stores an entry, collapsing concurrent fills for the
// same fingerprint to a single execution. The fill's Set is part of the
// critical section, so a later Fill for the same fingerprint observes the
// earlier one's write.
func (c *Cache) Fill(ctx context.Context, fp string, fill FillFunc) ([]ranking.Result, error) {
	v, err, _ := c.sf.Do(fp, func() (any, error) {
		ch := make(chan struct{})
		c.pending.Store(fp, ch)
		defer func() {
			c.pending.Delete(fp)
			close(ch)
		}()

		entry, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, fp, entry)
		return entry.Results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ranking.Result), nil
}

// SetRecorder attaches the provenance recorder. The cache and the
// invalidator reference each other, so one side has to be wired after
// construction; call this before the cache starts serving.
func (c *Cache) SetRecorder(r Recorder) {
	c.recorder = r
}

// Set writes to L1 and L2 and records provenance. Shared-tier failures
// degrade silently; the local write always lands.
func (c *Cache) Set(ctx context.Context, fp string, entry *Entry) {
	payload, err := json.Marshal(entry.Results)
	if err != nil {
		c.log.Error(ctx, "cache set: encode failed", zap.Error(err))
		return
	}
	c.l1.set(fp, entry.Results, int64(len(payload)), time.Now())
	if c.l2 != nil {
		if err := c.l2.set(ctx, fp, payload, 0); err != nil {
			c.log.Debug(ctx, "cache set: shared tier write failed", zap.Error(err))
		}
	}
	if c.recorder != nil {
		c.recorder.Record(fp, entry.ProjectIDs, entry.AccessedFiles)
	}
}

// Precompute writes to L3 only. TTL is clamped up to the configured
// minimum; precomputed entries are meant to outlive the working tiers.
func (c *Cache) Precompute(ctx context.Context, fp string, results []ranking.Result, ttl time.Duration) error {
	if c.l3 == nil {
		return fmt.Errorf("cache: precompute requires the shared tiers")
	}
	if ttl < c.cfg.L3.MinTTL {
		ttl = c.cfg.L3.MinTTL
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return c.l3.set(ctx, fp, payload, ttl)
}

// Invalidate removes a fingerprint from every tier. The first shared-tier
// failure is returned so callers can retry; L1 removal always succeeds.
func (c *Cache) Invalidate(ctx context.Context, fp string) error {
	c.l1.remove(fp)
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.del(ctx, fp); err != nil {
		return err
	}
	return c.l3.del(ctx, fp)
}

// EvictLocal removes a fingerprint from L1 only. Used when applying
// invalidations broadcast by a sibling instance, which already handled
// the shared tiers.
func (c *Cache) EvictLocal(fp string) {
	c.l1.remove(fp)
}

// Clear wipes every tier. Used on workspace reload, where fingerprints
// embed the old generation and would never be read again anyway.
func (c *Cache) Clear(ctx context.Context) error {
	c.l1.purge()
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.clear(ctx); err != nil {
		return err
	}
	return c.l3.clear(ctx)
}

// Stats returns the per-tier counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1: TierStats{
			Hits:         c.l1Stats.hits.Load(),
			Misses:       c.l1Stats.misses.Load(),
			Evictions:    c.l1.evicted(),
			Bytes:        c.l1.size(),
			AvgLatencyMS: c.l1Stats.avgLatencyMS(),
		},
		L2: TierStats{
			Hits:         c.l2Stats.hits.Load(),
			Misses:       c.l2Stats.misses.Load(),
			AvgLatencyMS: c.l2Stats.avgLatencyMS(),
		},
		L3: TierStats{
			Hits:         c.l3Stats.hits.Load(),
			Misses:       c.l3Stats.misses.Load(),
			AvgLatencyMS: c.l3Stats.avgLatencyMS(),
		},
		Misses: c.fullMisses.Load(),
	}
}

// Close stops the janitor. The Redis client is owned by the caller.
func (c *Cache) Close() error {
	metrics.UnregisterSnapshot("cache")
	c.l1.close()
	return nil
}
