package indexer

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/workspaced/internal/metrics"
	"github.com/fyrsmithlabs/workspaced/internal/watcher"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// fileKey identifies the one-in-flight-per-file constraint.
type fileKey struct {
	projectID string
	path      string
}

// task is one pending index event with its scheduling priority.
type task struct {
	ev       watcher.Event
	priority workspace.Priority
}

// queuePriorities is the service order within one credit cycle.
var queuePriorities = []workspace.Priority{
	workspace.PriorityCritical,
	workspace.PriorityHigh,
	workspace.PriorityNormal,
	workspace.PriorityLow,
}

// queue is a four-level weighted fair queue with per-file coalescing.
//
// Fairness: each cycle grants every priority credits equal to its weight
// (critical 8, high 4, normal 2, low 1); pop serves the highest-priority
// level with remaining credit and work, refilling when the cycle is spent.
// Low always gets at least one grant per cycle, so it cannot starve.
//
// Coalescing: at most one queued task and one in-flight run per
// (project, path). Events arriving while queued replace the queued event;
// events arriving while in flight are parked and re-queued on completion,
// so the newest version always wins without concurrent runs on one file.
type queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buckets  map[workspace.Priority][]*task
	credits  map[workspace.Priority]int
	pending  map[fileKey]*task
	inflight map[fileKey]*watcher.Event

	capacity int
	size     int
	closed   bool
}

func newQueue(capacity int) *queue {
	q := &queue{
		buckets:  make(map[workspace.Priority][]*task),
		credits:  make(map[workspace.Priority]int),
		pending:  make(map[fileKey]*task),
		inflight: make(map[fileKey]*watcher.Event),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	q.refillLocked()
	return q
}

func (q *queue) refillLocked() {
	for _, p := range queuePriorities {
		q.credits[p] = p.QueueWeight()
	}
}

// push enqueues an event. Returns false when the queue is full or closed.
func (q *queue) push(ev watcher.Event, priority workspace.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	key := fileKey{ev.ProjectID, ev.Path}

	if t, ok := q.pending[key]; ok {
		t.ev = coalesceEvents(t.ev, ev)
		return true
	}
	if _, running := q.inflight[key]; running {
		merged := ev
		if prev := q.inflight[key]; prev != nil {
			merged = coalesceEvents(*prev, ev)
		}
		q.inflight[key] = &merged
		return true
	}

	if q.size >= q.capacity {
		return false
	}

	t := &task{ev: ev, priority: priority}
	q.buckets[priority] = append(q.buckets[priority], t)
	q.pending[key] = t
	q.size++
	metrics.IndexQueueDepth.WithLabelValues(string(priority)).Inc()
	q.cond.Signal()
	return true
}

// coalesceEvents keeps the newest kind and the earliest observation time.
func coalesceEvents(old, new watcher.Event) watcher.Event {
	new.ObservedAt = old.ObservedAt
	return new
}

// pop blocks until a task is available or ctx is done. The caller must
// call done with the task's key when finished.
func (q *queue) pop(ctx context.Context) (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed || ctx.Err() != nil {
			return nil, false
		}
		if t := q.takeLocked(); t != nil {
			key := fileKey{t.ev.ProjectID, t.ev.Path}
			delete(q.pending, key)
			q.inflight[key] = nil
			q.size--
			metrics.IndexQueueDepth.WithLabelValues(string(t.priority)).Dec()
			return t, true
		}
		q.cond.Wait()
	}
}

// takeLocked applies the credit cycle to pick the next task.
func (q *queue) takeLocked() *task {
	if q.size == 0 {
		return nil
	}
	// Two passes: with credits, then after a refill. The second pass
	// always finds work because size > 0.
	for pass := 0; pass < 2; pass++ {
		for _, p := range queuePriorities {
			if q.credits[p] <= 0 || len(q.buckets[p]) == 0 {
				continue
			}
			q.credits[p]--
			t := q.buckets[p][0]
			q.buckets[p] = q.buckets[p][1:]
			return t
		}
		q.refillLocked()
	}
	return nil
}

// done releases a file's in-flight slot and returns the parked follow-up
// event, if any, for the caller to re-enqueue.
func (q *queue) done(key fileKey) *watcher.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	follow := q.inflight[key]
	delete(q.inflight, key)
	return follow
}

// depth returns the number of queued tasks.
func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// close wakes blocked pops. Queued tasks are abandoned.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// wake lets Start interrupt pops when its context ends.
func (q *queue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}
