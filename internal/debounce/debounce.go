// Package debounce coalesces bursts of calls per key into one call after a
// quiet window.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = 500 * time.Millisecond

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type entry struct {
	timer Timer
	fn    func()
	gen   uint64
}

// Debouncer runs the most recent function given for a key once no new
// call for that key has arrived for the window. Each call resets the key's
// timer. Cancelled keys never run.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	clock   Clock
	pending map[string]*entry
	gen     uint64
	closed  bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

// New creates a Debouncer. A non-positive window uses DefaultWindow.
func New(window time.Duration, opts ...Option) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Debouncer{
		window:  window,
		clock:   realClock{},
		pending: make(map[string]*entry),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Window returns the quiet period.
func (d *Debouncer) Window() time.Duration { return d.window }

// Trigger schedules fn for key, replacing any pending function and
// restarting the window. It is a no-op after Close.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if e, ok := d.pending[key]; ok {
		e.timer.Stop()
	}
	d.gen++
	e := &entry{fn: fn, gen: d.gen}
	gen := d.gen
	e.timer = d.clock.AfterFunc(d.window, func() { d.fire(key, gen) })
	d.pending[key] = e
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		// Superseded or cancelled after the timer had already fired.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	e.fn()
}

// Flush runs the pending function for key now. It reports whether one was
// pending.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	e, ok := d.pending[key]
	if ok {
		e.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		e.fn()
	}
	return ok
}

// Pending reports whether key has a scheduled call.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Cancel drops the pending call for key without running it.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if ok {
		e.timer.Stop()
		delete(d.pending, key)
	}
	return ok
}

// CancelAll drops every pending call and returns how many were dropped.
func (d *Debouncer) CancelAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.pending)
	for key, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, key)
	}
	return n
}

// Close cancels everything and rejects further triggers.
func (d *Debouncer) Close() int {
	n := d.CancelAll()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return n
}
