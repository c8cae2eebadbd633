package persist

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiescence window before a scheduled save runs.
const DefaultDebounce = 750 * time.Millisecond

// Debouncer coalesces bursts of Trigger calls into a single run of fn after
// the window has passed with no further triggers.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64 // identifies the current arm
	pending bool
	stopped bool
	running sync.Mutex
}

// NewDebouncer creates a debouncer. fn runs on its own goroutine.
func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{window: window, fn: fn}
}

// Trigger (re)arms the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// fire runs fn for arm seq. A timer re-armed after it already started
// firing finds a newer seq and leaves the run to the newer timer.
func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if !d.pending || d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.run()
}

func (d *Debouncer) run() {
	d.running.Lock()
	defer d.running.Unlock()
	d.fn()
}

// Flush runs a pending save now. It returns after fn completes, or
// immediately if nothing was pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		// wait out a run already in flight
		d.running.Lock()
		d.running.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.run()
}

// Cancel drops a pending run without running it and waits out a run
// already in flight. Later triggers still work.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.running.Lock()
	d.running.Unlock()
}

// Stop cancels any pending run and disables further triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
