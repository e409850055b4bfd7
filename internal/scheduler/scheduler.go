// Package scheduler provides the polled triggers that pace periodic work in
// the control loop. Neither trigger owns a timer or a goroutine; both are
// advanced by calling Tick from the loop and fire their action inline.
package scheduler

import "time"

// TimeTrigger fires its action when more than Interval has elapsed since it
// last fired.
type TimeTrigger struct {
	interval time.Duration
	last     time.Time
	action   func()
}

// NewTimeTrigger creates a trigger whose first interval starts at start.
// A nil action is allowed; Tick still reports whether it fired.
func NewTimeTrigger(interval time.Duration, start time.Time, action func()) *TimeTrigger {
	return &TimeTrigger{interval: interval, last: start, action: action}
}

// Tick fires the action at most once and reports whether it did. Firing
// resets the reference time to now.
func (t *TimeTrigger) Tick(now time.Time) bool {
	if now.Sub(t.last) <= t.interval {
		return false
	}
	t.last = now
	if t.action != nil {
		t.action()
	}
	return true
}

// Interval returns the configured interval.
func (t *TimeTrigger) Interval() time.Duration { return t.interval }

// SetInterval changes the interval without touching the reference time.
func (t *TimeTrigger) SetInterval(d time.Duration) { t.interval = d }

// Reset restarts the current interval at now.
func (t *TimeTrigger) Reset(now time.Time) { t.last = now }

// Last returns the time the trigger last fired or was reset.
func (t *TimeTrigger) Last() time.Time { return t.last }

// DistanceTrigger integrates ground speed over time and fires its action each
// time the accumulated distance reaches the threshold. Speeds are in km/h and
// distances in km.
type DistanceTrigger struct {
	threshold   float64
	accumulated float64
	lastSpeed   float64
	lastTime    time.Time
	action      func()
}

// NewDistanceTrigger creates a trigger at rest (zero speed) at start.
func NewDistanceTrigger(thresholdKm float64, start time.Time, action func()) *DistanceTrigger {
	return &DistanceTrigger{threshold: thresholdKm, lastTime: start, action: action}
}

// Tick adds the trapezoidal distance between the previous and current speed
// samples, fires when the threshold is reached, and records the sample.
func (d *DistanceTrigger) Tick(speedKmh float64, now time.Time) bool {
	hours := now.Sub(d.lastTime).Hours()
	if hours > 0 {
		d.accumulated += (d.lastSpeed + speedKmh) / 2 * hours
	}
	d.lastSpeed = speedKmh
	d.lastTime = now

	if d.accumulated < d.threshold {
		return false
	}
	d.accumulated = 0
	if d.action != nil {
		d.action()
	}
	return true
}

// Accumulated returns the distance integrated since the last fire.
func (d *DistanceTrigger) Accumulated() float64 { return d.accumulated }

// Threshold returns the firing distance.
func (d *DistanceTrigger) Threshold() float64 { return d.threshold }
