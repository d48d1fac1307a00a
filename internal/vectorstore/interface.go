package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Common errors returned by Store implementations.
var (
	// ErrCollectionNotFound is returned when operating on a collection that
	// does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName is returned when a collection name fails
	// validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidConfig is returned when a provider configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when the store cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrDimensionMismatch is returned when an ensure or upsert carries a
	// vector dimension that conflicts with the existing collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// collectionNamePattern restricts collection names to lowercase alphanumerics
// and underscores. Derived names are project_<id>_<kind> with the project id
// lowered, so the pattern doubles as an injection guard for ids that reach
// the store through the registry.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,128}$`)

// ValidateCollectionName checks that a collection name is safe to pass to a
// provider.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollectionName, name, collectionNamePattern.String())
	}
	return nil
}

// HealthState classifies the reachability of a store.
type HealthState string

const (
	// HealthHealthy means the store answered within budget.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded means the store answered but recent failures tripped
	// the circuit breaker or latency is elevated.
	HealthDegraded HealthState = "degraded"
	// HealthUnreachable means the store did not answer.
	HealthUnreachable HealthState = "unreachable"
)

// HealthStatus reports store reachability with a latency estimate.
type HealthStatus struct {
	State   HealthState
	Latency time.Duration
	Detail  string
}

// Store is the adapter contract over an ANN store. Implementations must be
// safe for concurrent use.
//
// Upsert is at-least-once: callers use content-addressed ids so replays
// converge. Search scores are raw cosine similarity in [-1, 1].
type Store interface {
	// Upsert writes items into a collection. Ordering within a batch is
	// irrelevant. An empty batch is a no-op.
	Upsert(ctx context.Context, collection string, items []Item) error

	// DeleteByPath removes every chunk of one file in one project.
	DeleteByPath(ctx context.Context, collection, projectID, path string) error

	// IDsByPath lists the content-addressed ids stored for one file in one
	// project. A missing collection yields an empty list. Callers use it to
	// recover indexing state after a restart.
	IDsByPath(ctx context.Context, collection, projectID, path string) ([]string, error)

	// Search returns the k nearest items to vector, best first, optionally
	// restricted by filter.
	Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error)

	// KeywordSearch is the degraded-mode fallback used when embeddings are
	// unavailable. Hits are scored by term overlap with needle, in [0, 1].
	KeywordSearch(ctx context.Context, collection, needle string, k int, filter *Filter) ([]Hit, error)

	// EnsureCollection creates a collection with the given vector dimension
	// and cosine distance if it does not exist. Idempotent; returns
	// ErrDimensionMismatch when the collection exists with another dimension.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// DropCollection removes a collection and its points. Missing
	// collections are not an error.
	DropCollection(ctx context.Context, name string) error

	// CollectionExists reports whether a collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Count returns the number of points in a collection.
	Count(ctx context.Context, name string) (uint64, error)

	// Health probes the store and reports reachability.
	Health(ctx context.Context) HealthStatus

	// Close releases client connections.
	Close() error
}
