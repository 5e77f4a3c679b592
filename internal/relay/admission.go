// Package relay tracks the global concurrent-connection count and enforces
// the server-wide cap.
package relay

import "sync"

// Admission is a bounded counter of live connections. The capacity check and
// increment happen under one lock so concurrent upgrades cannot overshoot
// the cap.
type Admission struct {
	mu      sync.Mutex
	current int
	max     int
}

// NewAdmission creates an admission counter with the given capacity.
func NewAdmission(maxConnections int) *Admission {
	return &Admission{max: maxConnections}
}

// TryAcquire claims a connection slot. It returns false when the server is
// at capacity, leaving the counter unchanged.
func (a *Admission) TryAcquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current >= a.max {
		return false
	}
	a.current++
	return true
}

// Release frees a previously acquired slot. The counter never goes below
// zero, so a stray double release cannot corrupt it.
func (a *Admission) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current > 0 {
		a.current--
	}
}

// Current returns the number of live connections.
func (a *Admission) Current() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
