package chat

import (
	"sync"
	"time"
)

// Debouncer runs fn once delay has passed without another Trigger.
type Debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// NewDebouncer constructs a debouncer. A non-positive delay runs fn on the
// next Trigger without waiting.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the countdown.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	if d.delay <= 0 {
		d.timer = nil
		d.mu.Unlock()
		d.fn()
		return
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.seq == seq
		if current {
			d.timer = nil
		}
		d.mu.Unlock()
		if current {
			d.fn()
		}
	})
	d.mu.Unlock()
}

// Stop cancels a pending run. A timer that already fired but has not yet
// taken the lock is also suppressed.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
