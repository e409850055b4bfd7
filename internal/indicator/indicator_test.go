package indicator

import (
	"context"
	"testing"
	"time"

	"github.com/large-farva/blackbox/internal/clock"
)

type recordingLight struct {
	colors []Color
}

func (r *recordingLight) Set(c Color) { r.colors = append(r.colors, c) }

func (r *recordingLight) last() Color {
	if len(r.colors) == 0 {
		return Off
	}
	return r.colors[len(r.colors)-1]
}

func newTestIndicator() (*Indicator, *recordingLight, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	light := &recordingLight{}
	return New(light, clk), light, clk
}

func TestPaletteMatchesLight(t *testing.T) {
	cases := []struct {
		got  Color
		want Color
	}{
		{Red, Color{255, 0, 0}},
		{Green, Color{0, 255, 0}},
		{Blue, Color{0, 0, 255}},
		{Orange, Color{255, 165, 0}},
		{Purple, Color{128, 0, 128}},
		{Yellow, Color{255, 255, 0}},
		{White, Color{255, 255, 255}},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.got, tc.got, tc.want)
		}
	}
	if Orange.String() != "orange" || Off.String() != "off" {
		t.Fatalf("unexpected names %q %q", Orange, Off)
	}
}

func TestEveryStateHasPattern(t *testing.T) {
	p := defaultPatterns()
	for _, s := range States() {
		if len(p[s].steps) == 0 {
			t.Fatalf("state %s has no pattern", s)
		}
		if s.String() == "UNKNOWN" {
			t.Fatalf("state %d has no name", s)
		}
	}
}

func TestStartDelayCycles(t *testing.T) {
	ind, light, clk := newTestIndicator()

	want := []Color{Red, Green, Blue, Orange, Purple, Yellow, Red}
	for _, c := range want {
		clk.Advance(251 * time.Millisecond)
		ind.Tick()
		if light.last() != c {
			t.Fatalf("expected %s, got %s (sequence %v)", c, light.last(), light.colors)
		}
	}
}

func TestTickAdvancesAtMostOnce(t *testing.T) {
	ind, light, clk := newTestIndicator()
	ind.SetState(ConfigTimeout)

	clk.Advance(10 * time.Second)
	ind.Tick()
	ind.Tick()
	if len(light.colors) != 1 || light.colors[0] != Red {
		t.Fatalf("expected a single red transition, got %v", light.colors)
	}

	// Dwell is strictly exceeded, not reached.
	clk.Advance(fast)
	ind.Tick()
	if len(light.colors) != 1 {
		t.Fatalf("transitioned at exactly the dwell: %v", light.colors)
	}
	clk.Advance(time.Millisecond)
	ind.Tick()
	if light.last() != Off {
		t.Fatalf("expected off after red, got %v", light.colors)
	}
}

func TestBeaconTiming(t *testing.T) {
	ind, light, clk := newTestIndicator()
	ind.SetState(InFlight)

	clk.Advance(851 * time.Millisecond)
	ind.Tick()
	if light.last() != White {
		t.Fatalf("expected white flash, got %v", light.colors)
	}

	clk.Advance(100 * time.Millisecond)
	ind.Tick()
	if light.last() != White {
		t.Fatal("white flash ended early")
	}

	clk.Advance(51 * time.Millisecond)
	ind.Tick()
	if light.last() != Blue {
		t.Fatalf("expected blue hold, got %v", light.colors)
	}
}

func TestPatternProgressIsPerState(t *testing.T) {
	ind, light, clk := newTestIndicator()

	ind.SetState(WaitingForGpsLock)
	clk.Advance(501 * time.Millisecond)
	ind.Tick() // blue

	ind.SetState(SendReceiveConfig)
	clk.Advance(501 * time.Millisecond)
	ind.Tick() // off, first phase of its own pattern

	ind.SetState(WaitingForGpsLock)
	clk.Advance(501 * time.Millisecond)
	ind.Tick() // resumes at its second phase: off

	want := []Color{Blue, Off, Off}
	if len(light.colors) != len(want) {
		t.Fatalf("got %v, want %v", light.colors, want)
	}
	for i := range want {
		if light.colors[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, light.colors[i], want[i])
		}
	}
}

func TestSetStateDoesNotTouchLight(t *testing.T) {
	ind, light, _ := newTestIndicator()

	var changes []State
	ind.OnStateChange(func(_, to State) { changes = append(changes, to) })
	ind.SetState(NoGpsFix)
	ind.SetState(NoGpsFix)

	if len(light.colors) != 0 {
		t.Fatalf("SetState changed the light: %v", light.colors)
	}
	if ind.State() != NoGpsFix {
		t.Fatalf("state = %s", ind.State())
	}
	if len(changes) != 1 {
		t.Fatalf("expected one change notification, got %v", changes)
	}
}

func TestDelayWhileTicking(t *testing.T) {
	ind, light, clk := newTestIndicator()
	ind.SetState(ReadyForTakeoff)
	start := clk.Now()

	if err := ind.DelayWhileTicking(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("DelayWhileTicking: %v", err)
	}
	if elapsed := clk.Now().Sub(start); elapsed < 2*time.Second || elapsed > 2*time.Second+TickPeriod {
		t.Fatalf("elapsed %s", elapsed)
	}
	if len(light.colors) < 3 {
		t.Fatalf("expected the pattern to keep blinking, got %v", light.colors)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ind.DelayWhileTicking(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSnapshot(t *testing.T) {
	ind, _, clk := newTestIndicator()
	ind.SetState(InFlightNoUpload)
	clk.Advance(time.Second)
	ind.Tick()

	snap := ind.Snapshot()
	if snap.State != "IN_FLIGHT_NO_UPLOAD" || snap.Pattern != "beacon" || snap.Color != "red" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
