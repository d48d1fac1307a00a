package workspace

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/logging"
)

// ErrNotLoaded is returned by operations that need a workspace before any
// document has been loaded.
var ErrNotLoaded = errors.New("workspace not loaded")

// Snapshot is one immutable published workspace state: the validated
// model, its relationship graph, and per-project compiled exclude filters.
// Once published a snapshot never changes; holders may read it without
// locking for the duration of a request.
type Snapshot struct {
	ws         *Workspace
	graph      *Graph
	projects   map[string]*Project
	enabled    []*Project
	filters    map[string]*PathFilter
	generation uint64
	loadedAt   time.Time
}

// NewSnapshot builds a snapshot from a validated workspace.
func NewSnapshot(w *Workspace, generation uint64) (*Snapshot, error) {
	s := &Snapshot{
		ws:         w,
		graph:      NewGraph(w),
		projects:   make(map[string]*Project, len(w.Projects)),
		filters:    make(map[string]*PathFilter, len(w.Projects)),
		generation: generation,
		loadedAt:   time.Now().UTC(),
	}
	for _, p := range w.Projects {
		filter, err := NewPathFilter(p.Indexing.ExcludeGlobs)
		if err != nil {
			return nil, err
		}
		s.projects[p.ID] = p
		s.filters[p.ID] = filter
		if p.Indexing.Enabled {
			s.enabled = append(s.enabled, p)
		}
	}
	return s, nil
}

// Workspace returns the underlying model. Callers must not mutate it.
func (s *Snapshot) Workspace() *Workspace { return s.ws }

// Graph returns the relationship graph.
func (s *Snapshot) Graph() *Graph { return s.graph }

// Generation is the monotonic load counter, bumped on every successful
// load or reload.
func (s *Snapshot) Generation() uint64 { return s.generation }

// LoadedAt is when this snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Version is the workspace content version (semver from the document).
func (s *Snapshot) Version() string { return s.ws.Version }

// Name is the workspace name.
func (s *Snapshot) Name() string { return s.ws.Name }

// Project looks up a project by id.
func (s *Snapshot) Project(id string) (*Project, bool) {
	p, ok := s.projects[id]
	return p, ok
}

// Projects returns all projects in document order.
func (s *Snapshot) Projects() []*Project { return s.ws.Projects }

// EnabledProjects returns projects with indexing enabled, document order.
func (s *Snapshot) EnabledProjects() []*Project { return s.enabled }

// Excluded reports whether rel (slash-separated, relative to the project
// root) matches one of the project's exclude globs.
func (s *Snapshot) Excluded(projectID, rel string) bool {
	return s.filters[projectID].Excluded(rel)
}

// Filter returns the compiled exclude filter for a project, or nil.
func (s *Snapshot) Filter(projectID string) *PathFilter {
	return s.filters[projectID]
}

// ReloadEvent describes one snapshot swap.
type ReloadEvent struct {
	Previous *Snapshot // nil on first load
	Current  *Snapshot
	Added    []string
	Removed  []string
	Changed  []string
}

// Subscriber is called synchronously after each successful swap. Keep it
// quick; long work belongs on the subscriber's own goroutine.
type Subscriber func(ReloadEvent)

// Manager owns the published workspace snapshot. Load and Reload parse and
// validate a shadow model first and swap the published pointer only when
// the whole document is good, so a failed reload leaves the previous
// snapshot serving.
type Manager struct {
	log *logging.Logger

	mu   sync.Mutex
	path string
	gen  uint64

	current atomic.Pointer[Snapshot]

	subMu sync.RWMutex
	subs  []Subscriber
}

// NewManager creates a workspace manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{log: log.Named("workspace")}
}

// Current returns the published snapshot, or nil before the first load.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Subscribe registers a callback for snapshot swaps.
func (m *Manager) Subscribe(fn Subscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// Load parses, validates, and publishes the workspace document at path.
// The path is remembered for Reload.
func (m *Manager) Load(ctx context.Context, path string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load(ctx, path)
	if err != nil {
		return nil, err
	}
	m.path = path
	return snap, nil
}

// Reload re-reads the document from the path given to Load.
func (m *Manager) Reload(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return nil, ErrNotLoaded
	}
	return m.load(ctx, m.path)
}

// Path returns the workspace document path, or empty before the first load.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// load does the parse-validate-swap sequence. Caller holds m.mu.
func (m *Manager) load(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, unknown, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	for _, field := range unknown {
		m.log.Warn(ctx, "unknown field in workspace document",
			zap.String("field", field), zap.String("path", path))
	}

	if err := Validate(w, ValidateOptions{}); err != nil {
		return nil, err
	}

	m.gen++
	snap, err := NewSnapshot(w, m.gen)
	if err != nil {
		m.gen--
		return nil, err
	}

	prev := m.current.Swap(snap)
	added, removed, changed := diffSnapshots(prev, snap)

	m.log.Info(ctx, "workspace loaded",
		zap.String("name", w.Name),
		zap.String("version", w.Version),
		zap.Uint64("generation", snap.generation),
		zap.Int("projects", len(w.Projects)),
		zap.Strings("added", added),
		zap.Strings("removed", removed),
		zap.Strings("changed", changed))

	m.notify(ReloadEvent{
		Previous: prev,
		Current:  snap,
		Added:    added,
		Removed:  removed,
		Changed:  changed,
	})
	return snap, nil
}

func (m *Manager) notify(ev ReloadEvent) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, fn := range m.subs {
		fn(ev)
	}
}

// diffSnapshots compares project sets between two snapshots.
func diffSnapshots(prev, cur *Snapshot) (added, removed, changed []string) {
	if prev == nil {
		for _, p := range cur.ws.Projects {
			added = append(added, p.ID)
		}
		return added, nil, nil
	}

	for _, p := range cur.ws.Projects {
		old, ok := prev.projects[p.ID]
		switch {
		case !ok:
			added = append(added, p.ID)
		case !projectEqual(old, p):
			changed = append(changed, p.ID)
		}
	}
	for _, p := range prev.ws.Projects {
		if _, ok := cur.projects[p.ID]; !ok {
			removed = append(removed, p.ID)
		}
	}
	return added, removed, changed
}

func projectEqual(a, b *Project) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Path == b.Path &&
		a.Type == b.Type &&
		slices.Equal(a.Languages, b.Languages) &&
		slices.Equal(a.Dependencies, b.Dependencies) &&
		a.Indexing.Enabled == b.Indexing.Enabled &&
		a.Indexing.Priority == b.Indexing.Priority &&
		slices.Equal(a.Indexing.ExcludeGlobs, b.Indexing.ExcludeGlobs) &&
		maps.Equal(a.Metadata, b.Metadata)
}
