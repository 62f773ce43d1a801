package ingest

import (
	"log/slog"
	"sync"
	"time"
)

// Operation classifies a vault file event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is one change to a note, with Path relative to the vault root.
type FileEvent struct {
	Path string
	Op   Operation
	Time time.Time
}

// Debouncer coalesces bursts of file events into batches. Editors save a
// file as several operations in quick succession; the debouncer waits for
// the burst to settle and emits one event per path with the operations
// merged:
//
//	create then modify  -> create
//	create then delete  -> dropped entirely
//	modify then delete  -> delete
//	delete then create  -> modify
type Debouncer struct {
	window time.Duration
	out    chan []FileEvent

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given settle window.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Debouncer{
		window:  window,
		out:     make(chan []FileEvent, 16),
		pending: make(map[string]FileEvent),
	}
}

// Batches returns the channel on which settled event batches arrive.
func (d *Debouncer) Batches() <-chan []FileEvent {
	return d.out
}

// Add records an event and resets the settle timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(prev.Op, event.Op)
		if !keep {
			delete(d.pending, event.Path)
			d.scheduleFlushLocked()
			return
		}
		event.Op = merged
	}
	d.pending[event.Path] = event
	d.scheduleFlushLocked()
}

// Stop flushes any pending events and closes the batch channel. The close
// happens under the same lock as every send, so a timer-fired flush can
// never race it.
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
	d.emitLocked(d.drainLocked())
	close(d.out)
}

func (d *Debouncer) scheduleFlushLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.emitLocked(d.drainLocked())
}

func (d *Debouncer) drainLocked() []FileEvent {
	if len(d.pending) == 0 {
		return nil
	}
	batch := make([]FileEvent, 0, len(d.pending))
	for _, event := range d.pending {
		batch = append(batch, event)
	}
	d.pending = make(map[string]FileEvent)
	return batch
}

// emitLocked sends without blocking; the output channel is buffered and a
// stalled consumer drops the batch rather than wedging the watch loop.
func (d *Debouncer) emitLocked(batch []FileEvent) {
	if len(batch) == 0 {
		return
	}
	select {
	case d.out <- batch:
	default:
		slog.Warn("event_batch_dropped", slog.Int("events", len(batch)))
	}
}

// coalesce merges two operations on the same path. keep=false means the
// path needs no event at all.
func coalesce(prev, next Operation) (op Operation, keep bool) {
	switch {
	case prev == OpCreate && next == OpModify:
		return OpCreate, true
	case prev == OpCreate && next == OpDelete:
		return 0, false
	case prev == OpModify && next == OpDelete:
		return OpDelete, true
	case prev == OpDelete && next == OpCreate:
		return OpModify, true
	default:
		return next, true
	}
}
