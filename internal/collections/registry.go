// Package collections maps (project id, kind) pairs to vector store
// collections and manages their lifecycle.
//
// The registry guarantees Ensure creates the vectors collection lazily with
// the workspace dimension and cosine distance, idempotently, and records a
// creation timestamp. Drop removes every kind for a project, tolerating
// collections that were never created. Creation timestamps persist to a
// small JSON state file next to the store data so they survive restarts.
package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// ErrStateCorrupted is returned when the persisted registry state cannot be
// decoded. Deleting the state file resets creation timestamps only.
var ErrStateCorrupted = errors.New("registry state corrupted")

// stateVersion is the persisted state file format version.
const stateVersion = 1

type stateFile struct {
	Version     int                  `json:"version"`
	Collections map[string]time.Time `json:"collections"`
}

// Registry manages per-project collection lifecycle against a Store.
type Registry struct {
	store vectorstore.Store
	dim   int
	log   *zap.Logger

	mu        sync.RWMutex
	created   map[string]time.Time
	statePath string
}

// NewRegistry creates a registry over store with the workspace embedding
// dimension. statePath locates the creation-timestamp state file; empty
// keeps timestamps in memory only.
func NewRegistry(store vectorstore.Store, dim int, statePath string, log *zap.Logger) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{
		store:     store,
		dim:       dim,
		log:       log.Named("collections"),
		created:   make(map[string]time.Time),
		statePath: statePath,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dimension returns the workspace embedding dimension.
func (r *Registry) Dimension() int {
	return r.dim
}

// Ensure lazily creates the vectors collection for a project and returns its
// name. Safe to call per batch; repeated calls are cheap.
func (r *Registry) Ensure(ctx context.Context, projectID string) (string, error) {
	name, err := Name(projectID, KindVectors)
	if err != nil {
		return "", faults.Wrap(err, faults.CategoryValidation, faults.CodeInvalidProjectID,
			"deriving collection for project %s", projectID)
	}

	if err := r.store.EnsureCollection(ctx, name, r.dim); err != nil {
		if errors.Is(err, vectorstore.ErrDimensionMismatch) {
			return "", faults.Wrap(err, faults.CategoryValidation, faults.CodeDimensionMismatch,
				"ensuring collection %s", name)
		}
		return "", faults.Wrap(err, faults.CategoryExternal, faults.CodeVectorStoreUnavailable,
			"ensuring collection %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.created[name]; !ok {
		r.created[name] = time.Now().UTC()
		if err := r.save(); err != nil {
			r.log.Warn("persisting registry state failed", zap.Error(err))
		}
		r.log.Info("collection created",
			zap.String("collection", name),
			zap.String("project_id", projectID),
			zap.Int("dimension", r.dim),
		)
	}
	return name, nil
}

// Drop removes all collection kinds for a project. Collections that were
// never created are skipped silently.
func (r *Registry) Drop(ctx context.Context, projectID string) error {
	names, err := AllNames(projectID)
	if err != nil {
		return faults.Wrap(err, faults.CategoryValidation, faults.CodeInvalidProjectID,
			"deriving collections for project %s", projectID)
	}

	var errs []error
	for _, name := range names {
		if err := r.store.DropCollection(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("dropping %s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return faults.Wrap(err, faults.CategoryExternal, faults.CodeVectorStoreUnavailable,
			"dropping collections for project %s", projectID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, name := range names {
		if _, ok := r.created[name]; ok {
			delete(r.created, name)
			changed = true
		}
	}
	if changed {
		if err := r.save(); err != nil {
			r.log.Warn("persisting registry state failed", zap.Error(err))
		}
	}
	r.log.Info("collections dropped", zap.String("project_id", projectID))
	return nil
}

// CreatedAt returns when a project's vectors collection was first ensured by
// this registry.
func (r *Registry) CreatedAt(projectID string) (time.Time, bool) {
	name, err := Name(projectID, KindVectors)
	if err != nil {
		return time.Time{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.created[name]
	return t, ok
}

// CollectionStatus describes one collection of one project.
type CollectionStatus struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Exists    bool      `json:"exists"`
	Points    uint64    `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectStatus groups collection statuses for one project.
type ProjectStatus struct {
	ProjectID   string             `json:"project_id"`
	Collections []CollectionStatus `json:"collections"`
}

// Status reports existence and point counts for every kind of the given
// projects.
func (r *Registry) Status(ctx context.Context, projectIDs []string) ([]ProjectStatus, error) {
	statuses := make([]ProjectStatus, 0, len(projectIDs))
	for _, projectID := range projectIDs {
		ps := ProjectStatus{ProjectID: projectID}
		for _, kind := range Kinds() {
			name, err := Name(projectID, kind)
			if err != nil {
				return nil, faults.Wrap(err, faults.CategoryValidation, faults.CodeInvalidProjectID,
					"deriving collection for project %s", projectID)
			}

			cs := CollectionStatus{Name: name, Kind: kind}
			exists, err := r.store.CollectionExists(ctx, name)
			if err != nil {
				return nil, faults.Wrap(err, faults.CategoryExternal, faults.CodeVectorStoreUnavailable,
					"checking collection %s", name)
			}
			cs.Exists = exists
			if exists {
				count, err := r.store.Count(ctx, name)
				if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
					return nil, faults.Wrap(err, faults.CategoryExternal, faults.CodeVectorStoreUnavailable,
						"counting collection %s", name)
				}
				cs.Points = count
			}

			r.mu.RLock()
			cs.CreatedAt = r.created[name]
			r.mu.RUnlock()

			ps.Collections = append(ps.Collections, cs)
		}
		statuses = append(statuses, ps)
	}
	return statuses, nil
}

// load reads the persisted state file. Missing files start fresh.
func (r *Registry) load() error {
	if r.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading registry state: %w", err)
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	if sf.Collections != nil {
		r.created = sf.Collections
	}
	return nil
}

// save writes the state file atomically. Callers hold r.mu.
func (r *Registry) save() error {
	if r.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(stateFile{Version: stateVersion, Collections: r.created}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry state: %w", err)
	}

	tmp := r.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing registry state: %w", err)
	}
	if err := os.Rename(tmp, r.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing registry state: %w", err)
	}
	return nil
}
