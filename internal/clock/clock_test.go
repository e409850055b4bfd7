package clock

import (
	"testing"
	"time"
)

func TestManualSleepAdvances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Sleep(250 * time.Millisecond)
	c.Advance(time.Second)

	if got := c.Now().Sub(start); got != 1250*time.Millisecond {
		t.Fatalf("expected 1.25s elapsed, got %s", got)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Set did not reset clock: %s", c.Now())
	}
}
