package scheduler

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestTimeTriggerFiresOnlyAfterInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, time.Millisecond, 50 * time.Millisecond, time.Second, 10 * time.Second} {
		fired := 0
		tr := NewTimeTrigger(interval, epoch, func() { fired++ })

		if tr.Tick(epoch.Add(interval)) {
			t.Fatalf("interval %s: fired at exactly the interval", interval)
		}
		if fired != 0 {
			t.Fatalf("interval %s: action ran without firing", interval)
		}

		at := epoch.Add(interval + time.Millisecond)
		if !tr.Tick(at) {
			t.Fatalf("interval %s: did not fire after the interval", interval)
		}
		if fired != 1 {
			t.Fatalf("interval %s: expected one action, got %d", interval, fired)
		}

		// Firing resets the reference time, so the same instant cannot fire twice.
		if tr.Tick(at) {
			t.Fatalf("interval %s: fired twice for the same instant", interval)
		}
		if !tr.Last().Equal(at) {
			t.Fatalf("interval %s: last = %s, want %s", interval, tr.Last(), at)
		}
	}
}

func TestTimeTriggerLongGapFiresOnce(t *testing.T) {
	fired := 0
	tr := NewTimeTrigger(time.Second, epoch, func() { fired++ })

	tr.Tick(epoch.Add(time.Hour))
	if fired != 1 {
		t.Fatalf("expected a single fire after a long gap, got %d", fired)
	}
}

func TestTimeTriggerSetIntervalKeepsReference(t *testing.T) {
	tr := NewTimeTrigger(time.Minute, epoch, nil)
	tr.SetInterval(15 * time.Second)

	if !tr.Tick(epoch.Add(16 * time.Second)) {
		t.Fatal("expected fire under the shortened interval")
	}

	tr.Reset(epoch.Add(time.Minute))
	if tr.Tick(epoch.Add(time.Minute + 10*time.Second)) {
		t.Fatal("fired before interval elapsed after Reset")
	}
}

func TestDistanceTriggerGranularity(t *testing.T) {
	cases := []struct {
		name      string
		threshold float64
		wantFire  bool
	}{
		{"below", 60.5, false},
		{"above", 59.5, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// One call covering the whole hour at constant speed.
			coarse := NewDistanceTrigger(tc.threshold, epoch, nil)
			coarse.Tick(60, epoch)
			coarseFired := coarse.Tick(60, epoch.Add(time.Hour))

			// The same hour split into one-second steps.
			fine := NewDistanceTrigger(tc.threshold, epoch, nil)
			fine.Tick(60, epoch)
			fineFired := false
			for s := 1; s <= 3600; s++ {
				if fine.Tick(60, epoch.Add(time.Duration(s)*time.Second)) {
					fineFired = true
				}
			}

			if coarseFired != tc.wantFire || fineFired != tc.wantFire {
				t.Fatalf("coarse=%v fine=%v, want %v", coarseFired, fineFired, tc.wantFire)
			}
		})
	}
}

func TestDistanceTriggerLinearRamp(t *testing.T) {
	// Speed ramps 0 -> 120 km/h over one hour: 60 km by the trapezoid rule,
	// regardless of how many samples describe the ramp.
	for _, steps := range []int{1, 4, 60, 900} {
		d := NewDistanceTrigger(1000, epoch, nil)
		for i := 1; i <= steps; i++ {
			frac := float64(i) / float64(steps)
			d.Tick(120*frac, epoch.Add(time.Duration(frac*float64(time.Hour))))
		}
		if got := d.Accumulated(); got < 59.999 || got > 60.001 {
			t.Fatalf("steps=%d: accumulated %.6f km, want 60", steps, got)
		}
	}
}

func TestDistanceTriggerResetsOnFire(t *testing.T) {
	fired := 0
	d := NewDistanceTrigger(1, epoch, func() { fired++ })

	d.Tick(100, epoch)
	if !d.Tick(100, epoch.Add(time.Minute)) {
		t.Fatal("expected fire after 1.67 km")
	}
	if fired != 1 || d.Accumulated() != 0 {
		t.Fatalf("fired=%d accumulated=%f, want 1 and 0", fired, d.Accumulated())
	}

	// Speed and timestamp were still recorded, so the next interval starts from 100 km/h.
	d.Tick(100, epoch.Add(90*time.Second))
	if got := d.Accumulated(); got < 0.83 || got > 0.84 {
		t.Fatalf("accumulated after 30s at 100 km/h = %f", got)
	}
}
