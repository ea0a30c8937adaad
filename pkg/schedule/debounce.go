package schedule

import "time"

// Debouncer runs the most recently scheduled task once the delay has passed
// without another Schedule call.
//
// Debouncer state is owned by the event loop. When the timer fires, the
// task is handed to post, which must run it on that loop; the task then
// checks its generation so a Cancel or Schedule issued in the meantime
// wins. A nil post runs the task on the timer's goroutine.
type Debouncer struct {
	clock Clock
	delay time.Duration
	post  func(func())

	gen   uint64
	timer Timer
	fn    func()
}

// NewDebouncer returns a debouncer. A delay of zero or less runs tasks
// immediately.
func NewDebouncer(clock Clock, delay time.Duration, post func(func())) *Debouncer {
	if clock == nil {
		clock = Real()
	}
	return &Debouncer{clock: clock, delay: delay, post: post}
}

// Delay returns the configured delay.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Schedule replaces any pending task with fn and restarts the delay.
func (d *Debouncer) Schedule(fn func()) {
	d.stop()
	if d.delay <= 0 {
		fn()
		return
	}
	d.fn = fn
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		fire := func() {
			if d.gen != gen || d.fn == nil {
				return
			}
			f := d.fn
			d.fn = nil
			d.timer = nil
			f()
		}
		if d.post != nil {
			d.post(fire)
		} else {
			fire()
		}
	})
}

// Cancel discards the pending task without running it. It reports whether
// a task was pending.
func (d *Debouncer) Cancel() bool {
	pending := d.fn != nil
	d.stop()
	return pending
}

// Flush runs the pending task now. It reports whether a task ran.
func (d *Debouncer) Flush() bool {
	f := d.fn
	d.stop()
	if f == nil {
		return false
	}
	f()
	return true
}

// Pending reports whether a task is waiting for its delay.
func (d *Debouncer) Pending() bool { return d.fn != nil }

func (d *Debouncer) stop() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.fn = nil
}
