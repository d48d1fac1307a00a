package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
)

// l1Entry is one resident value. size is the JSON-encoded length, the same
// bytes the shared tiers store, so the byte budget tracks real payloads.
type l1Entry struct {
	results   []ranking.Result
	size      int64
	expiresAt time.Time
}

// l1Tier is the in-process tier: LRU bounded by entry count and byte
// budget, entries expire by TTL lazily on read and eagerly via a janitor
// sweep.
type l1Tier struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, l1Entry]
	bytes    int64
	maxBytes int64
	ttl      time.Duration

	evictions uint64

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

func newL1(maxEntries int, maxBytes int64, ttl time.Duration) (*l1Tier, error) {
	t := &l1Tier{
		maxBytes:    maxBytes,
		ttl:         ttl,
		stopJanitor: make(chan struct{}),
	}
	entries, err := lru.NewWithEvict(maxEntries, func(_ string, e l1Entry) {
		// invoked with t.mu held by the mutating caller
		t.bytes -= e.size
		t.evictions++
		metrics.CacheEvictionsTotal.WithLabelValues("l1").Inc()
	})
	if err != nil {
		return nil, err
	}
	t.entries = entries

	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go t.janitor(interval)
	return t, nil
}

func (t *l1Tier) get(fp string, now time.Time) ([]ranking.Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries.Get(fp)
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		t.entries.Remove(fp)
		t.publishBytes()
		return nil, false
	}
	return e.results, true
}

func (t *l1Tier) set(fp string, results []ranking.Result, size int64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries.Peek(fp); ok {
		t.bytes -= old.size
	}
	t.entries.Add(fp, l1Entry{results: results, size: size, expiresAt: now.Add(t.ttl)})
	t.bytes += size
	for t.bytes > t.maxBytes && t.entries.Len() > 1 {
		t.entries.RemoveOldest()
	}
	t.publishBytes()
}

func (t *l1Tier) remove(fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(fp)
	t.publishBytes()
}

func (t *l1Tier) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Purge()
	t.publishBytes()
}

func (t *l1Tier) size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

func (t *l1Tier) evicted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

// publishBytes mirrors the budget gauge; callers hold t.mu.
func (t *l1Tier) publishBytes() {
	metrics.CacheBytes.WithLabelValues("l1").Set(float64(t.bytes))
}

// janitor sweeps expired entries so memory is reclaimed without waiting
// for a read to touch them.
func (t *l1Tier) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopJanitor:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for _, fp := range t.entries.Keys() {
				if e, ok := t.entries.Peek(fp); ok && now.After(e.expiresAt) {
					t.entries.Remove(fp)
				}
			}
			t.publishBytes()
			t.mu.Unlock()
		}
	}
}

func (t *l1Tier) close() {
	t.janitorOnce.Do(func() { close(t.stopJanitor) })
}
