package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a burst of saves becomes
// one batch. Events for the same path within the window merge: create
// then modify stays create, create then delete cancels out, modify
// then delete keeps the delete, and delete then create turns into
// modify.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	output  chan []Event
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Op
}

// NewDebouncer creates a debouncer that emits a batch after window of
// quiet. The output holds a single batch; while the consumer is busy,
// further changes keep merging into the next one.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 1),
	}
}

// Add merges an event into the pending batch and restarts the window.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		merged := coalesce(existing, event)
		if merged == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *merged
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Op}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into a pending one for the same path.
// Nil means the pair cancels out.
func coalesce(existing *pendingEvent, next Event) *Event {
	switch existing.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			// Still a brand new file.
			return &existing.event
		case OpDelete:
			// Never really existed.
			return nil
		}
	case OpDelete:
		if next.Op == OpCreate {
			// The file was replaced.
			next.Op = OpModify
			return &next
		}
	}
	return &next
}

// scheduleFlush restarts the quiet window. Callers hold mu.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits the pending events as one batch, sorted by path. When
// the consumer is still busy with the previous batch the events are
// held for another window rather than dropped.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.event)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case d.output <- batch:
		d.pending = make(map[string]*pendingEvent)
	default:
		d.scheduleFlush()
	}
}

// Output returns the channel of coalesced batches. It is closed by
// Stop.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop ends debouncing and closes the output channel. Safe to call
// more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
