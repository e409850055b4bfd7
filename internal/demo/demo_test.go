package demo

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/large-farva/blackbox/internal/mavlink"
	"github.com/large-farva/blackbox/internal/telemetry"
)

func TestFlightCirclesHomeAtSpeed(t *testing.T) {
	f, err := NewFlight(FlightOptions{HomeLat: 49.26, HomeLon: -123.25, AltitudeM: 120, GroundSpeedKmh: 90, RadiusM: 1500})
	if err != nil {
		t.Fatal(err)
	}
	for _, at := range []time.Duration{0, 17 * time.Second, 3 * time.Minute} {
		_, pos := f.At(at)
		if got := mavlink.GroundSpeedKmh(pos); math.Abs(got-90) > 0.1 {
			t.Fatalf("at %s speed = %.2f km/h", at, got)
		}
		dLat := (float64(pos.Lat)/1e7 - 49.26) * math.Pi / 180 * earthRadiusM
		dLon := (float64(pos.Lon)/1e7 + 123.25) * math.Pi / 180 * earthRadiusM * math.Cos(49.26*math.Pi/180)
		if r := math.Hypot(dLat, dLon); math.Abs(r-1500) > 5 {
			t.Fatalf("at %s radius = %.1f m", at, r)
		}
		if pos.Alt != 120000 {
			t.Fatalf("alt %d", pos.Alt)
		}
	}
}

func TestFlightHoldsPositionUntilFix(t *testing.T) {
	f, err := NewFlight(FlightOptions{GroundSpeedKmh: 50, FixAfter: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	_ = f.RequestPosition()
	_ = f.RequestStreams()
	f.tick(f.start.Add(time.Second))

	s := <-f.Samples()
	if s.Kind != telemetry.KindAttitude {
		t.Fatalf("got %s before fix", s.Kind)
	}
	select {
	case s := <-f.Samples():
		t.Fatalf("unexpected %s sample before fix", s.Kind)
	default:
	}
}

func TestFlightAnswersPositionRequestOnce(t *testing.T) {
	f, _ := NewFlight(FlightOptions{GroundSpeedKmh: 50})
	_ = f.RequestPosition()
	f.tick(f.start.Add(time.Second))
	f.tick(f.start.Add(2 * time.Second))

	if s := <-f.Samples(); s.Kind != telemetry.KindPosition {
		t.Fatalf("got %s", s.Kind)
	}
	if len(f.Samples()) != 0 {
		t.Fatal("answered the request twice")
	}
}

func TestFlightRunStopsOnClose(t *testing.T) {
	f, _ := NewFlight(FlightOptions{GroundSpeedKmh: 50, RateHz: 100})
	_ = f.RequestStreams()
	go f.Run(context.Background())

	select {
	case <-f.Samples():
	case <-time.After(2 * time.Second):
		t.Fatal("no sample from a running flight")
	}
	_ = f.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-f.Samples():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("samples channel not closed")
		}
	}
}
