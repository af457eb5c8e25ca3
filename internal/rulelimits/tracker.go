package rulelimits

import "sync"

// Tracker is the process-wide record of the last observed rule limits.  Only
// the reconciliation controller should call [Tracker.Set], while any number of
// readers may use the other methods concurrently.
type Tracker struct {
	// mu protects all fields below.
	mu *sync.RWMutex

	// current are the last limits set.  It is nil before the first apply.
	current *Limits

	// acked is the exceeded state that has last been surfaced to the user.
	acked flags

	// changed is true if the exceeded state of the last [Tracker.Set] call
	// differed from the previous one.
	changed bool
}

// NewTracker returns a new empty *Tracker.
func NewTracker() (t *Tracker) {
	return &Tracker{
		mu: &sync.RWMutex{},
	}
}

// Set replaces the current limits with l.  changed is true if the exceeded
// state of l is different from the one of the previous limits.  l must not be
// nil.
func (t *Tracker) Set(l *Limits) (changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.changed = t.current.exceededFlags() != l.exceededFlags()
	t.current = l

	return t.changed
}

// Current returns the current limits.  It returns nil if [Tracker.Set] has not
// been called yet.  l must not be modified.
func (t *Tracker) Current() (l *Limits) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current
}

// AreLimitsExceeded returns true if any category of the current limits is
// exceeded.
func (t *Tracker) AreLimitsExceeded() (ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current.exceededFlags() != 0
}

// DidLimitsChange returns true if the exceeded state of the last
// [Tracker.Set] call differed from the one before it.
func (t *Tracker) DidLimitsChange() (ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.changed
}

// DidLimitsChangeSinceLastAcknowledgement returns true if the current exceeded
// state differs from the one recorded by the last [Tracker.Acknowledge] call.
func (t *Tracker) DidLimitsChangeSinceLastAcknowledgement() (ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current.exceededFlags() != t.acked
}

// Acknowledge records the current exceeded state as surfaced to the user.
func (t *Tracker) Acknowledge() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.acked = t.current.exceededFlags()
}
