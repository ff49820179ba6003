// Package watch keeps the index fresh by running incremental indexing
// whenever notes change on disk.
package watch

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of file events into single triggers.
// Editors tend to fire several events per save (write, rename, chmod);
// one incremental run covers them all, so triggers within the window
// merge.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	output  chan struct{}
	stopped bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		output: make(chan struct{}, 1),
	}
}

// Trigger requests a flush after the window. Repeated triggers reset
// the timer, so a steady stream of events delays the flush until the
// stream pauses.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
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
	// Non-blocking: a pending notification already covers this flush.
	select {
	case d.output <- struct{}{}:
	default:
	}
}

// Output returns the channel that fires once per settled burst.
func (d *Debouncer) Output() <-chan struct{} {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// multiple times.
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
