// Package predict estimates satellite visibility from the aircraft using
// SGP4 propagation of the constellation's TLEs. The simulated modem uses it
// to produce a plausible signal strength without a real antenna.
package predict

import (
	"fmt"
	"time"

	"github.com/akhenakh/sgp4"
)

// Location is an observer position in degrees and metres.
type Location struct {
	Lat float64
	Lon float64
	Alt float64
}

// Pass is one overhead pass of a constellation satellite.
type Pass struct {
	NoradID  int
	AOS      time.Time
	LOS      time.Time
	MaxElev  float64
	Duration time.Duration
}

// Sky holds the element sets of a constellation.
type Sky struct {
	tles         []*sgp4.TLE
	minElevation float64
	// Window is how far back passes are searched when asking what is
	// overhead now. It must exceed the longest pass.
	Window time.Duration
}

// NewSky returns a Sky that ignores passes peaking below minElevation.
func NewSky(tles []*sgp4.TLE, minElevation float64) *Sky {
	return &Sky{tles: tles, minElevation: minElevation, Window: 15 * time.Minute}
}

// Size is the number of satellites known to the sky.
func (s *Sky) Size() int { return len(s.tles) }

// Overhead returns the passes in progress at t as seen from loc.
func (s *Sky) Overhead(loc Location, t time.Time) ([]Pass, error) {
	var out []Pass
	var lastErr error

	for _, tle := range s.tles {
		raw, err := tle.GeneratePasses(loc.Lat, loc.Lon, loc.Alt, t.Add(-s.Window), t.Add(time.Minute), 10)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rp := range raw {
			if rp.MaxElevation < s.minElevation {
				continue
			}
			if rp.AOS.After(t) || rp.LOS.Before(t) {
				continue
			}
			out = append(out, Pass{
				NoradID:  tle.SatelliteNumber,
				AOS:      rp.AOS,
				LOS:      rp.LOS,
				MaxElev:  rp.MaxElevation,
				Duration: rp.Duration,
			})
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("predict: propagate: %w", lastErr)
	}
	return out, nil
}

// Bars converts the passes in progress to a 0-5 signal strength: one bar per
// visible satellite, plus one when any of them peaks above 45 degrees.
func Bars(passes []Pass) int {
	bars := len(passes)
	for _, p := range passes {
		if p.MaxElev >= 45 {
			bars++
			break
		}
	}
	if bars > 5 {
		bars = 5
	}
	return bars
}
