package reconcile

import "time"

// Scheduler arranges for functions to be called after a delay.  It is used for
// the debounce timer.
type Scheduler interface {
	// AfterFunc calls f in its own goroutine after d has elapsed, unless the
	// returned timer is stopped.
	AfterFunc(d time.Duration, f func()) (t Timer)
}

// Timer is a single scheduled call.
type Timer interface {
	// Stop prevents the call from happening.  ok is false if the call has
	// already happened or the timer has already been stopped.
	Stop() (ok bool)
}

// SystemScheduler is a [Scheduler] that uses [time.AfterFunc].
type SystemScheduler struct{}

// type check
var _ Scheduler = SystemScheduler{}

// AfterFunc implements the [Scheduler] interface for SystemScheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) (t Timer) {
	return time.AfterFunc(d, f)
}
