package indicator

import "time"

// PatternKind names the shape of a blink pattern.
type PatternKind int

const (
	// KindCycle steps through several colours with equal dwell.
	KindCycle PatternKind = iota
	// KindBlink alternates one colour with off.
	KindBlink
	// KindBeacon holds blue and briefly flashes a status colour.
	KindBeacon
)

func (k PatternKind) String() string {
	switch k {
	case KindCycle:
		return "cycle"
	case KindBlink:
		return "blink"
	case KindBeacon:
		return "beacon"
	}
	return "unknown"
}

// step is one phase of a pattern: once the previous phase has held for
// longer than dwell, the light is set to color.
type step struct {
	color Color
	dwell time.Duration
}

// pattern is the progress of one state's blink sequence. Every state owns one,
// and it is only advanced while that state is active.
type pattern struct {
	kind  PatternKind
	steps []step

	blinkIndex     int
	lastTransition time.Time
}

// advance applies at most one phase transition and returns the colour it set.
func (p *pattern) advance(now time.Time, light Light) (Color, bool) {
	if len(p.steps) == 0 {
		return Off, false
	}
	s := p.steps[p.blinkIndex%len(p.steps)]
	if now.Sub(p.lastTransition) <= s.dwell {
		return Off, false
	}
	light.Set(s.color)
	p.lastTransition = now
	p.blinkIndex++
	return s.color, true
}

func cycle(dwell time.Duration, colors ...Color) pattern {
	steps := make([]step, len(colors))
	for i, c := range colors {
		steps[i] = step{color: c, dwell: dwell}
	}
	return pattern{kind: KindCycle, steps: steps}
}

// blink alternates c with off. With startLit the first transition lights the
// colour, otherwise it turns the light off first.
func blink(c Color, dwell time.Duration, startLit bool) pattern {
	lit, dark := step{color: c, dwell: dwell}, step{color: Off, dwell: dwell}
	if startLit {
		return pattern{kind: KindBlink, steps: []step{lit, dark}}
	}
	return pattern{kind: KindBlink, steps: []step{dark, lit}}
}

// beacon holds blue and flashes c briefly: c is lit once blue has held for
// hold, and blue returns once c has held for flash.
func beacon(c Color, hold, flash time.Duration) pattern {
	return pattern{kind: KindBeacon, steps: []step{
		{color: c, dwell: hold},
		{color: Blue, dwell: flash},
	}}
}

const (
	fast   = 50 * time.Millisecond
	slow   = 500 * time.Millisecond
	rotate = 250 * time.Millisecond
	hold   = 850 * time.Millisecond
	flash  = 150 * time.Millisecond
)

func defaultPatterns() [numStates]pattern {
	return [numStates]pattern{
		StartDelay:           cycle(rotate, Red, Green, Blue, Orange, Purple, Yellow),
		InFlight:             beacon(White, hold, flash),
		WaitingForGpsLock:    blink(Blue, slow, true),
		SendingBootupMessage: blink(Red, slow, false),
		SendReceiveConfig:    blink(Yellow, slow, false),
		ReadyForTakeoff:      blink(Green, slow, true),
		SendingTelemetry:     blink(Purple, slow, true),
		ConfigTimeout:        blink(Red, fast, true),
		InFlightDefault:      beacon(Purple, hold, flash),
		InFlightNoUpload:     beacon(Red, hold, flash),
		InFlightSbdFailed:    blink(Red, fast, true),
		InFlightSbdSuccess:   blink(Green, fast, true),
		NoGpsFix:             blink(Yellow, fast, true),
	}
}
