// Package watcher turns recursive filesystem notifications on enabled
// project roots into a debounced stream of file events for the indexer and
// the cache invalidator.
package watcher

import "time"

// Kind classifies a file event.
type Kind string

const (
	// KindCreated means the file appeared.
	KindCreated Kind = "created"
	// KindModified means the file content changed.
	KindModified Kind = "modified"
	// KindDeleted means the file is gone. Renames map here; the create
	// event for the new name follows separately.
	KindDeleted Kind = "deleted"
)

// Event is one debounced change to a file inside a project root. Path is
// absolute. ObservedAt is when the underlying notification arrived, before
// debouncing, so invalidation lag can be measured end to end.
type Event struct {
	ProjectID  string
	Path       string
	Kind       Kind
	ObservedAt time.Time
}
