// Package indicator drives the single multi-colour status light. Each
// operating state owns a small blink pattern that is advanced by Tick from the
// control loop; nothing here blocks except DelayWhileTicking, which is only
// used during startup.
package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/large-farva/blackbox/internal/clock"
)

// TickPeriod is how long DelayWhileTicking yields between ticks. It matches
// the dwell of the fastest patterns.
const TickPeriod = 50 * time.Millisecond

// Light sets the three colour channels of the physical light.
type Light interface {
	Set(c Color)
}

// LightFunc adapts a function to Light.
type LightFunc func(Color)

func (f LightFunc) Set(c Color) { f(c) }

// Tee fans every colour change out to several lights.
func Tee(lights ...Light) Light {
	return LightFunc(func(c Color) {
		for _, l := range lights {
			l.Set(c)
		}
	})
}

// Indicator owns the operating state and the per-state pattern progress.
// State changes come from the control loop; Snapshot may be called from any
// goroutine.
type Indicator struct {
	clock clock.Clock
	light Light

	mu       sync.Mutex
	state    State
	color    Color
	changed  time.Time
	patterns [numStates]pattern

	onState func(from, to State)
}

// New returns an indicator in StartDelay.
func New(light Light, clk clock.Clock) *Indicator {
	return &Indicator{
		clock:    clk,
		light:    light,
		state:    StartDelay,
		changed:  clk.Now(),
		patterns: defaultPatterns(),
	}
}

// OnStateChange registers fn to be called after every state change. fn runs
// on the caller's goroutine and must not call back into the indicator.
func (i *Indicator) OnStateChange(fn func(from, to State)) {
	i.mu.Lock()
	i.onState = fn
	i.mu.Unlock()
}

// SetState selects the pattern advanced by Tick. The light itself is not
// touched until the next Tick.
func (i *Indicator) SetState(s State) {
	i.mu.Lock()
	from := i.state
	if from == s {
		i.mu.Unlock()
		return
	}
	i.state = s
	i.changed = i.clock.Now()
	fn := i.onState
	i.mu.Unlock()

	if fn != nil {
		fn(from, s)
	}
}

// State returns the current operating state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Tick advances the current state's pattern by at most one transition.
func (i *Indicator) Tick() {
	now := i.clock.Now()

	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.patterns[i.state].advance(now, i.light); ok {
		i.color = c
	}
}

// DelayWhileTicking keeps the light animated for d, yielding TickPeriod
// between ticks. It returns early with the context error if ctx ends.
func (i *Indicator) DelayWhileTicking(ctx context.Context, d time.Duration) error {
	start := i.clock.Now()
	for i.clock.Now().Sub(start) < d {
		if err := ctx.Err(); err != nil {
			return err
		}
		i.Tick()
		i.clock.Sleep(TickPeriod)
	}
	return nil
}

// Snapshot is a point-in-time view of the light for status reporting.
type Snapshot struct {
	State   string    `json:"state"`
	Pattern string    `json:"pattern"`
	Color   string    `json:"color"`
	RGB     Color     `json:"rgb"`
	Since   time.Time `json:"since"`
}

// Snapshot returns the current state, pattern kind, and last colour set.
func (i *Indicator) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Snapshot{
		State:   i.state.String(),
		Pattern: i.patterns[i.state].kind.String(),
		Color:   i.color.String(),
		RGB:     i.color,
		Since:   i.changed,
	}
}
