package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events per path so a burst of writes produces
// one event. Within the window the last observed kind wins; a created
// followed by deleted emits deleted, never nothing, because a consumer that
// missed the create still needs the delete to stay consistent.
type debouncer struct {
	window time.Duration
	emit   func(Event)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

func newDebouncer(window time.Duration, emit func(Event)) *debouncer {
	return &debouncer{
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingEvent),
	}
}

// add records an event, restarting the per-path window.
func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if p, ok := d.pending[ev.Path]; ok {
		p.event = coalesce(p.event, ev)
		p.timer.Reset(d.window)
		return
	}

	p := &pendingEvent{event: ev}
	p.timer = time.AfterFunc(d.window, func() { d.flush(ev.Path) })
	d.pending[ev.Path] = p
}

// coalesce merges a newer event into the pending one. The first observation
// time is kept so lag measurement covers the full debounce delay.
func coalesce(old, new Event) Event {
	new.ObservedAt = old.ObservedAt
	return new
}

func (d *debouncer) flush(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	stopped := d.stopped
	d.mu.Unlock()

	if ok && !stopped {
		d.emit(p.event)
	}
}

// stop cancels pending timers and flushes nothing further. Returns the
// events that were still pending so shutdown can emit a terminal flush.
func (d *debouncer) stop() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	remaining := make([]Event, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		remaining = append(remaining, p.event)
		delete(d.pending, path)
	}
	return remaining
}
