// Package demo simulates the flight controller so the daemon, CLI, and event
// stream can be exercised end-to-end without hardware. The simulated
// aircraft flies a constant-speed circle around a home point and reports
// attitude and position as real MAVLink messages.
package demo

import (
	"context"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/large-farva/blackbox/internal/mavlink"
	"github.com/large-farva/blackbox/internal/telemetry"
)

const (
	earthRadiusM = 6371000.0
	gravity      = 9.80665
)

// FlightOptions describe the simulated flight.
type FlightOptions struct {
	HomeLat, HomeLon float64
	AltitudeM        float64
	GroundSpeedKmh   float64
	// RadiusM is the radius of the circle flown around home.
	RadiusM float64
	// FixAfter delays the first position message, as if the GPS were still
	// acquiring.
	FixAfter time.Duration
	RateHz   float64
	Log      *log.Logger
}

// Flight is a telemetry.Source that generates a circling aircraft.
type Flight struct {
	opts    FlightOptions
	codec   *mavlink.Codec
	log     *log.Logger
	samples chan telemetry.Sample

	streaming atomic.Bool
	wantFix   atomic.Bool

	start     time.Time
	closeOnce sync.Once
	done      chan struct{}
}

// NewFlight creates a simulated flight. Call Run to start it.
func NewFlight(opts FlightOptions) (*Flight, error) {
	if opts.RadiusM <= 0 {
		opts.RadiusM = 2000
	}
	if opts.RateHz <= 0 {
		opts.RateHz = 2
	}
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	codec, err := mavlink.NewCodec(1, 1)
	if err != nil {
		return nil, err
	}
	return &Flight{
		opts:    opts,
		codec:   codec,
		log:     opts.Log,
		samples: make(chan telemetry.Sample, 64),
		start:   time.Now(),
		done:    make(chan struct{}),
	}, nil
}

// Run generates messages until ctx is cancelled or Close is called. It
// closes the samples channel on return.
func (f *Flight) Run(ctx context.Context) {
	defer close(f.samples)
	f.log.Printf("demo: simulating flight at %.4f,%.4f, %.0f km/h", f.opts.HomeLat, f.opts.HomeLon, f.opts.GroundSpeedKmh)

	t := time.NewTicker(time.Duration(float64(time.Second) / f.opts.RateHz))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case now := <-t.C:
			f.tick(now)
		}
	}
}

func (f *Flight) tick(now time.Time) {
	elapsed := now.Sub(f.start)
	fix := elapsed >= f.opts.FixAfter
	attitude, position := f.At(elapsed)

	if f.streaming.Load() {
		f.deliver(attitude, now)
		if fix {
			f.deliver(position, now)
		}
		return
	}
	if fix && f.wantFix.CompareAndSwap(true, false) {
		f.deliver(position, now)
	}
}

func (f *Flight) deliver(msg message.Message, now time.Time) {
	s, ok, err := f.codec.Sample(msg, now)
	if err != nil {
		f.log.Printf("demo: %v", err)
		return
	}
	if ok {
		mavlink.Deliver(f.samples, s)
	}
}

// At returns the attitude and position messages elapsed into the flight.
func (f *Flight) At(elapsed time.Duration) (*common.MessageAttitude, *common.MessageGlobalPositionInt) {
	v := f.opts.GroundSpeedKmh / 3.6
	r := f.opts.RadiusM
	theta := v / r * elapsed.Seconds()

	north := r * math.Cos(theta)
	east := r * math.Sin(theta)
	lat := f.opts.HomeLat + north/earthRadiusM*180/math.Pi
	lon := f.opts.HomeLon + east/(earthRadiusM*math.Cos(f.opts.HomeLat*math.Pi/180))*180/math.Pi

	// Counter-clockwise seen from above, so the velocity leads the radius by
	// a quarter turn.
	vn := -v * math.Sin(theta)
	ve := v * math.Cos(theta)
	heading := math.Mod(math.Atan2(ve, vn)+2*math.Pi, 2*math.Pi)
	bank := math.Atan(v * v / (gravity * r))
	boot := uint32(elapsed.Milliseconds())

	attitude := &common.MessageAttitude{
		TimeBootMs: boot,
		Roll:       float32(-bank),
		Pitch:      float32(0.03 * math.Sin(elapsed.Seconds()/7)),
		Yaw:        float32(heading),
		Yawspeed:   float32(v / r),
	}
	position := &common.MessageGlobalPositionInt{
		TimeBootMs:  boot,
		Lat:         int32(math.Round(lat * 1e7)),
		Lon:         int32(math.Round(lon * 1e7)),
		Alt:         int32(f.opts.AltitudeM * 1000),
		RelativeAlt: int32(f.opts.AltitudeM * 1000),
		Vx:          int16(math.Round(vn * 100)),
		Vy:          int16(math.Round(ve * 100)),
		Hdg:         uint16(heading * 180 / math.Pi * 100),
	}
	return attitude, position
}

func (f *Flight) Samples() <-chan telemetry.Sample { return f.samples }

// RequestStreams starts continuous attitude and position reports.
func (f *Flight) RequestStreams() error {
	if !f.streaming.Swap(true) {
		f.log.Printf("demo: streams requested")
	}
	return nil
}

// RequestPosition asks for one position report, sent once the simulated GPS
// has a fix.
func (f *Flight) RequestPosition() error {
	f.wantFix.Store(true)
	return nil
}

func (f *Flight) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
