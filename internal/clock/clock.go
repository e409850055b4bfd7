// Package clock abstracts wall-clock access so the control loop, the
// indicator patterns, and the startup timeouts can be driven by a manual
// clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by every timed component.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep blocks for d. Only small fixed waits go through here.
	Sleep(d time.Duration)
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time        { return time.Now() }
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Manual is a clock that only moves when told to. Sleep advances it by the
// requested duration instead of blocking, so loops that pace themselves with
// Sleep make deterministic progress.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Manual) Sleep(d time.Duration) {
	m.Advance(d)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
