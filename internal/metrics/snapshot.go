package metrics

import (
	"sort"
	"sync"
)

// SnapshotFunc returns a JSON-marshalable view of one component's live
// counters. Components register a func at construction; /v1/stats and the
// wsctl dashboard read the assembled map.
type SnapshotFunc func() any

var (
	snapMu    sync.RWMutex
	snapFuncs = map[string]SnapshotFunc{}
)

// RegisterSnapshot makes a component's stats visible under name. A second
// registration for the same name replaces the first, which keeps tests that
// rebuild components from leaking stale closures.
func RegisterSnapshot(name string, fn SnapshotFunc) {
	snapMu.Lock()
	defer snapMu.Unlock()
	snapFuncs[name] = fn
}

// UnregisterSnapshot removes a component's stats view.
func UnregisterSnapshot(name string) {
	snapMu.Lock()
	defer snapMu.Unlock()
	delete(snapFuncs, name)
}

// Snapshot assembles every registered component view.
func Snapshot() map[string]any {
	snapMu.RLock()
	names := make([]string, 0, len(snapFuncs))
	for name := range snapFuncs {
		names = append(names, name)
	}
	fns := make([]SnapshotFunc, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		fns = append(fns, snapFuncs[name])
	}
	snapMu.RUnlock()

	// Funcs run outside the lock: a component snapshot may itself take
	// locks, and nothing here depends on registration not changing.
	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = fns[i]()
	}
	return out
}
