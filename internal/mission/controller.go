// Package mission is the top-level control loop of the device. A Controller
// owns every core component (indicator, aggregator, dispatcher, configuration
// protocol, triggers) and drives them from a single goroutine: a bounded
// startup sequence followed by a cooperative steady-state loop.
package mission

import (
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/large-farva/blackbox/internal/clock"
	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/isbd"
	"github.com/large-farva/blackbox/internal/scheduler"
	"github.com/large-farva/blackbox/internal/telemetry"
	"github.com/large-farva/blackbox/internal/uplink"
)

// ErrTimeout marks a bounded startup wait that expired. Startup continues
// after it; it is only reported in logs and events.
var ErrTimeout = errors.New("mission: timed out")

// Timing holds every delay, timeout and trigger interval of the controller.
type Timing struct {
	StartDelay         time.Duration
	GPSLockTimeout     time.Duration
	GPSPoll            time.Duration
	BootupRetry        time.Duration
	ConfigTimeout      time.Duration
	ConfigPoll         time.Duration
	ConfigTimeoutDwell time.Duration
	FeedbackDwell      time.Duration
	NoFixDwell         time.Duration
	ReadyDwell         time.Duration
	Heartbeat          time.Duration
	RequestInterval    time.Duration
	IngestInterval     time.Duration
	ConfigInterval     time.Duration
	LoopInterval       time.Duration
	RingPoll           time.Duration
}

// DefaultTiming returns the timings used on the aircraft.
func DefaultTiming() Timing {
	return Timing{
		StartDelay:         15 * time.Second,
		GPSLockTimeout:     5 * time.Minute,
		GPSPoll:            100 * time.Millisecond,
		BootupRetry:        100 * time.Millisecond,
		ConfigTimeout:      2 * time.Minute,
		ConfigPoll:         100 * time.Millisecond,
		ConfigTimeoutDwell: 5 * time.Second,
		FeedbackDwell:      5 * time.Second,
		NoFixDwell:         time.Second,
		ReadyDwell:         3 * time.Second,
		Heartbeat:          time.Second,
		RequestInterval:    10 * time.Second,
		IngestInterval:     time.Second,
		ConfigInterval:     time.Second,
		LoopInterval:       10 * time.Millisecond,
		RingPoll:           50 * time.Millisecond,
	}
}

// Observer receives counters and gauges from the controller.
type Observer interface {
	State(s indicator.State)
	Dispatch(outcome string, bytes int)
	ConfigExchange(accepted bool)
	Signal(bars int)
	Sample(kind telemetry.Kind)
}

type nopObserver struct{}

func (nopObserver) State(indicator.State) {}
func (nopObserver) Dispatch(string, int)  {}
func (nopObserver) ConfigExchange(bool)   {}
func (nopObserver) Signal(int)            {}
func (nopObserver) Sample(telemetry.Kind) {}

// Options holds everything a Controller needs from the caller.
type Options struct {
	Source    telemetry.Source
	Transport isbd.Transport
	// RingLine is polled by the ring watcher. Optional.
	RingLine isbd.RingLine
	Light    indicator.Light

	Timing   Timing
	MaxFrame int
	// Upload holds the settings in force until the ground server replies.
	Upload          uplink.Settings
	MinInterval     time.Duration
	DefaultInterval time.Duration
	DistanceKm      float64
	Debug           bool

	Session  string
	Clock    clock.Clock
	Log      *log.Logger
	Emit     func(v any)
	Observer Observer
}

// Controller is the explicit context of the device: all core state lives
// here and is touched only from the goroutine running Run. Commands and
// Status are the two ways in from other goroutines.
type Controller struct {
	opts  Options
	t     Timing
	clock clock.Clock
	log   *log.Logger
	obs   Observer

	// Commands receives external commands from HTTP handlers. The loop
	// drains it once per iteration.
	Commands chan Command

	ind    *indicator.Indicator
	agg    telemetry.Aggregator
	disp   *uplink.Dispatcher
	config *uplink.ConfigProtocol

	// ring is the only state shared with another goroutine: the ring
	// watcher stores true, the configuration protocol clears it.
	ring atomic.Bool

	gpsFix    bool
	captureTS uint32
	started   time.Time
	phase     string

	heartbeat  *scheduler.TimeTrigger
	request    *scheduler.TimeTrigger
	ingest     *scheduler.TimeTrigger
	configPoll *scheduler.TimeTrigger
	upload     *scheduler.TimeTrigger
	distance   *scheduler.DistanceTrigger

	hold      bool
	holdUntil time.Time

	lastDispatch    time.Time
	lastDispatchErr string
	signal          int

	status atomic.Pointer[Status]
}

// New builds the controller and its components. Nothing touches the hardware
// until Run.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil || opts.Transport == nil {
		return nil, errors.New("mission: source and transport are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.Light == nil {
		opts.Light = indicator.LightFunc(func(indicator.Color) {})
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.MaxFrame == 0 {
		opts.MaxFrame = uplink.DefaultMaxFrame
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}

	disp, err := uplink.NewDispatcher(opts.Transport, opts.MaxFrame, opts.Log)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		opts:     opts,
		t:        opts.Timing,
		clock:    opts.Clock,
		log:      opts.Log,
		obs:      opts.Observer,
		Commands: make(chan Command, 4),
		disp:     disp,
		phase:    "startup",
	}
	c.ind = indicator.New(opts.Light, opts.Clock)
	c.config = uplink.NewConfigProtocol(opts.Transport, disp, &c.ring, uplink.ConfigOptions{
		MinInterval:     opts.MinInterval,
		DefaultInterval: opts.DefaultInterval,
		Initial:         opts.Upload,
		Log:             opts.Log,
	})
	c.ind.OnStateChange(c.onStateChange)
	c.publish()
	return c, nil
}

// Indicator exposes the status light, mainly for tests and status pages.
func (c *Controller) Indicator() *indicator.Indicator { return c.ind }

// RingFlag is the flag the ring watcher sets.
func (c *Controller) RingFlag() *atomic.Bool { return &c.ring }

// DeriveState maps the negotiated settings to the steady-state operating
// state.
func DeriveState(configured, uploadEnabled bool) indicator.State {
	switch {
	case configured && uploadEnabled:
		return indicator.InFlight
	case !uploadEnabled:
		return indicator.InFlightNoUpload
	default:
		return indicator.InFlightDefault
	}
}

func (c *Controller) onStateChange(from, to indicator.State) {
	c.obs.State(to)
	c.emit(telemetry.StateTransition{
		Event: c.event(telemetry.EventState),
		From:  from.String(),
		To:    to.String(),
	})
}

// settle applies the derived state unless a transient hold is showing.
func (c *Controller) settle() {
	if c.hold {
		return
	}
	s := c.config.Settings()
	c.ind.SetState(DeriveState(s.Configured, s.UploadEnabled))
}

// holdState shows s for d without blocking. The derived state returns when
// the hold expires.
func (c *Controller) holdState(s indicator.State, d time.Duration) {
	c.hold = true
	c.holdUntil = c.clock.Now().Add(d)
	c.ind.SetState(s)
}

func (c *Controller) expireHold(now time.Time) {
	if c.hold && !now.Before(c.holdUntil) {
		c.hold = false
		c.settle()
	}
}
