package invalidator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
)

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
	evictedL1   []string
	cleared     int
	failFor     map[string]int // fp -> remaining failures
}

func newFakeCache() *fakeCache {
	return &fakeCache{failFor: map[string]int{}}
}

func (c *fakeCache) Invalidate(_ context.Context, fp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFor[fp] > 0 {
		c.failFor[fp]--
		return errors.New("redis down")
	}
	c.invalidated = append(c.invalidated, fp)
	return nil
}

func (c *fakeCache) EvictLocal(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictedL1 = append(c.evictedL1, fp)
}

func (c *fakeCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return nil
}

func (c *fakeCache) invalidatedFPs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

func (c *fakeCache) evicted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.evictedL1...)
}

func testInvConfig() config.InvalidationConfig {
	return config.InvalidationConfig{
		Debounce:   30 * time.Millisecond,
		BatchSize:  50,
		MaxRetries: 2,
	}
}

func newTestInvalidator(t *testing.T, cache CacheControl, nc *nats.Conn) *Invalidator {
	t.Helper()
	inv := New(testInvConfig(), cache, nc, "", logging.NewNop())
	require.NoError(t, inv.Start(context.Background()))
	t.Cleanup(func() { _ = inv.Close() })
	return inv
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestFileEventInvalidatesRecordedFingerprints(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "internal/auth.go")})
	inv.Record("fp2", []string{"api"}, []string{FileKey("api", "internal/other.go")})

	inv.OnFileEvent("api", "internal/auth.go")

	waitFor(t, func() bool { return len(cache.invalidatedFPs()) == 1 }, "fp1 invalidated")
	assert.Equal(t, []string{"fp1"}, cache.invalidatedFPs())

	// dropped from the index: a second event is a no-op
	inv.OnFileEvent("api", "internal/auth.go")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"fp1"}, cache.invalidatedFPs())
}

func TestDebounceCoalescesBurst(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})

	for i := 0; i < 10; i++ {
		inv.OnFileEvent("api", "a.go")
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(cache.invalidatedFPs()) == 1 }, "burst coalesced")
	assert.Equal(t, []string{"fp1"}, cache.invalidatedFPs())
}

func TestSharedFingerprintAcrossFiles(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	// one cached query touched two files
	inv.Record("fp1", []string{"api"}, []string{
		FileKey("api", "a.go"),
		FileKey("api", "b.go"),
	})

	inv.OnFileEvent("api", "a.go")
	inv.OnFileEvent("api", "b.go")

	waitFor(t, func() bool { return inv.Snapshot().TrackedFiles == 0 }, "index drained")
	// invalidated once even though two files referenced it
	assert.Equal(t, []string{"fp1"}, cache.invalidatedFPs())
}

func TestInvalidateProject(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})
	inv.Record("fp2", []string{"api", "shared"}, []string{FileKey("shared", "b.go")})
	inv.Record("fp3", []string{"shared"}, []string{FileKey("shared", "c.go")})

	n := inv.InvalidateProject(context.Background(), "api")
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"fp1", "fp2"}, cache.invalidatedFPs())

	stats := inv.Snapshot()
	assert.Equal(t, 1, stats.TrackedFiles)
}

func TestInvalidatePatternGlob(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "internal/auth/token.go")})
	inv.Record("fp2", []string{"api"}, []string{FileKey("api", "internal/server/http.go")})
	inv.Record("fp3", []string{"api"}, []string{FileKey("api", "cmd/main.go")})

	n, err := inv.InvalidatePattern(context.Background(), "internal/**")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"fp1", "fp2"}, cache.invalidatedFPs())

	_, err = inv.InvalidatePattern(context.Background(), "[")
	assert.Error(t, err)
}

func TestInvalidateAllClearsCacheAndIndex(t *testing.T) {
	cache := newFakeCache()
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})
	inv.OnFileEvent("api", "a.go") // pending debounce gets dropped too

	require.NoError(t, inv.InvalidateAll(context.Background()))

	assert.Equal(t, 1, cache.cleared)
	stats := inv.Snapshot()
	assert.Equal(t, 0, stats.TrackedFiles)
	assert.Equal(t, 0, stats.PendingDebounce)
}

func TestRetryThenSuccess(t *testing.T) {
	cache := newFakeCache()
	cache.failFor["fp1"] = 1 // first attempt fails, retry lands
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})
	inv.OnFileEvent("api", "a.go")

	waitFor(t, func() bool { return len(cache.invalidatedFPs()) == 1 }, "retry succeeded")
}

func TestExhaustedRetriesDoNotBlockOthers(t *testing.T) {
	cache := newFakeCache()
	cache.failFor["fp1"] = 10 // beyond MaxRetries
	inv := newTestInvalidator(t, cache, nil)

	inv.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})
	inv.Record("fp2", []string{"api"}, []string{FileKey("api", "a.go")})
	inv.OnFileEvent("api", "a.go")

	waitFor(t, func() bool {
		fps := cache.invalidatedFPs()
		return len(fps) == 1 && fps[0] == "fp2"
	}, "fp2 still invalidated")
}

func TestBusBroadcastEvictsSiblingL1(t *testing.T) {
	opts := server.Options{Host: "127.0.0.1", Port: -1}
	srv, err := server.NewServer(&opts)
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	defer srv.Shutdown()

	ncA, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer ncA.Close()
	ncB, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer ncB.Close()

	cacheA := newFakeCache()
	cacheB := newFakeCache()
	invA := newTestInvalidator(t, cacheA, ncA)
	_ = newTestInvalidator(t, cacheB, ncB)

	invA.Record("fp1", []string{"api"}, []string{FileKey("api", "a.go")})
	invA.OnFileEvent("api", "a.go")

	waitFor(t, func() bool {
		evicted := cacheB.evicted()
		return len(evicted) == 1 && evicted[0] == "fp1"
	}, "sibling evicted fp1 from its L1")
}
