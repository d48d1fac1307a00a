package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/ranking"
)

// sharedTier is a Redis-backed tier. Values are JSON-encoded result lists
// under <keyspace>:<fingerprint>. A failure marks the tier unavailable and
// lookups degrade to the tiers below until Redis answers again; the 1 GiB
// budget is enforced by the Redis maxmemory policy, not client-side.
type sharedTier struct {
	name     string
	rdb      redis.UniversalClient
	keyspace string
	ttl      time.Duration
	log      *logging.Logger

	unavailable atomic.Bool
}

func newSharedTier(name string, rdb redis.UniversalClient, keyspace string, ttl time.Duration, log *logging.Logger) *sharedTier {
	return &sharedTier{
		name:     name,
		rdb:      rdb,
		keyspace: keyspace,
		ttl:      ttl,
		log:      log,
	}
}

func (t *sharedTier) key(fp string) string {
	return t.keyspace + ":" + fp
}

func (t *sharedTier) get(ctx context.Context, fp string) ([]ranking.Result, bool) {
	raw, err := t.rdb.Get(ctx, t.key(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		t.markAvailable()
		return nil, false
	}
	if err != nil {
		t.markUnavailable(ctx, err)
		return nil, false
	}
	t.markAvailable()

	var results []ranking.Result
	if err := json.Unmarshal(raw, &results); err != nil {
		// corrupt value: drop it rather than serving garbage
		t.rdb.Del(ctx, t.key(fp))
		return nil, false
	}
	return results, true
}

func (t *sharedTier) set(ctx context.Context, fp string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.ttl
	}
	if err := t.rdb.Set(ctx, t.key(fp), payload, ttl).Err(); err != nil {
		t.markUnavailable(ctx, err)
		return fmt.Errorf("cache %s: %w", t.name, err)
	}
	t.markAvailable()
	return nil
}

func (t *sharedTier) del(ctx context.Context, fp string) error {
	if err := t.rdb.Del(ctx, t.key(fp)).Err(); err != nil {
		t.markUnavailable(ctx, err)
		return fmt.Errorf("cache %s: %w", t.name, err)
	}
	t.markAvailable()
	return nil
}

// clear removes every key in the tier's keyspace with SCAN so a large
// keyspace does not block Redis the way KEYS would.
func (t *sharedTier) clear(ctx context.Context) error {
	iter := t.rdb.Scan(ctx, 0, t.keyspace+":*", 256).Iterator()
	for iter.Next(ctx) {
		if err := t.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			t.markUnavailable(ctx, err)
			return fmt.Errorf("cache %s: %w", t.name, err)
		}
	}
	if err := iter.Err(); err != nil {
		t.markUnavailable(ctx, err)
		return fmt.Errorf("cache %s: %w", t.name, err)
	}
	return nil
}

// markUnavailable logs the degradation once per outage; markAvailable
// rearms the warning when Redis answers again.
func (t *sharedTier) markUnavailable(ctx context.Context, err error) {
	metrics.CacheUnavailableTotal.Inc()
	if t.unavailable.CompareAndSwap(false, true) {
		t.log.Warn(ctx, "shared cache tier unavailable, degrading to local tier",
			zap.String("tier", t.name), zap.Error(err))
	}
}

func (t *sharedTier) markAvailable() {
	t.unavailable.Store(false)
}
