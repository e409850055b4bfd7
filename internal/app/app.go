// Package app wires together the HTTP server, the WebSocket hub, and the
// mission controller running against either the real serial devices or the
// simulated ones. It owns the daemon's lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/large-farva/blackbox/internal/config"
	"github.com/large-farva/blackbox/internal/demo"
	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/isbd"
	"github.com/large-farva/blackbox/internal/mavlink"
	"github.com/large-farva/blackbox/internal/metrics"
	"github.com/large-farva/blackbox/internal/mission"
	"github.com/large-farva/blackbox/internal/predict"
	"github.com/large-farva/blackbox/internal/telemetry"
	"github.com/large-farva/blackbox/internal/uplink"
	"github.com/large-farva/blackbox/internal/ws"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *log.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
	// Registry receives the metrics. Nil means a private registry.
	Registry *prometheus.Registry
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub, and the controller with its devices.
type App struct {
	log        *log.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	state     atomic.Value // BOOTING, RUNNING, STOPPING
	session   string

	wsHub      *ws.Hub
	metrics    *metrics.Collector
	controller *mission.Controller

	// runners are started alongside the controller, closers released after it.
	runners        []func(context.Context)
	closers        []io.Closer
	commandTimeout time.Duration
}

// New creates an App in the BOOTING state. Devices are opened by Run.
func New(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	a := &App{
		log:        opts.Logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		session:    uuid.NewString(),
		wsHub: ws.NewHub(
			string(telemetry.EventDaemon),
			string(telemetry.EventState),
			string(telemetry.EventConfig),
			string(telemetry.EventHeartbeat),
		),
		metrics: m,
		// A forced upload may sit in the modem's retry loop for the whole
		// send timeout.
		commandTimeout: config.Seconds(opts.Cfg.Modem.SendTimeoutSeconds) + 30*time.Second,
	}
	a.state.Store("BOOTING")
	return a, nil
}

// Run opens the devices, starts the HTTP server, the WebSocket hub, and the
// controller. It blocks until the context is cancelled or the server returns
// an error.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	if err := a.open(ctx); err != nil {
		return err
	}
	defer a.close()

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.Printf("listening on http://%s (session %s)", bind, a.session)

	go a.wsHub.Run(ctx)
	for _, run := range a.runners {
		go run(ctx)
	}
	go a.controller.Run(ctx)
	a.transition("RUNNING")

	go func() {
		<-ctx.Done()
		a.log.Printf("shutdown requested")
		a.transition("STOPPING")
		_ = a.server.Shutdown(context.Background())
	}()

	return a.server.Serve(ln)
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/command", a.handleCommand)
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/ws", a.wsHub.Handler())
	return mux
}

// open builds the data source and transport for the configured mode and
// attaches the controller to them.
func (a *App) open(ctx context.Context) error {
	if a.cfg.Demo.Enabled {
		sim, flight, err := a.openDemo()
		if err != nil {
			return err
		}
		a.runners = append(a.runners, flight.Run)
		a.closers = append(a.closers, flight)
		return a.attach(flight, sim, sim)
	}

	modem, link, err := a.openLive(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, link, modem)
	return a.attach(link, modem, modem)
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}

func (a *App) openLive(ctx context.Context) (*isbd.Modem, *mavlink.Link, error) {
	m := a.cfg.Modem
	modem, err := isbd.Open(m.Port, m.Baud, isbd.Options{
		Attempts: m.SendAttempts,
		Timeout:  config.Seconds(m.SendTimeoutSeconds),
		Log:      a.log,
	})
	if err != nil {
		return nil, nil, err
	}

	// A modem that fails to answer now may still come up later; the
	// controller keeps going either way.
	if err := modem.Begin(ctx); err != nil {
		a.log.Printf("isbd: modem setup failed: %v", err)
	} else if bars, err := modem.SignalQuality(); err != nil {
		a.log.Printf("isbd: signal quality unavailable: %v", err)
	} else {
		a.log.Printf("isbd: modem ready, signal %d/5", bars)
	}

	fc := a.cfg.FlightController
	link, err := mavlink.Open(mavlink.Options{
		Device:       fc.Port,
		Baud:         fc.Baud,
		SystemID:     byte(fc.SystemID),
		ComponentID:  byte(fc.ComponentID),
		TargetSystem: byte(fc.TargetSystem),
		StreamRateHz: fc.StreamRateHz,
		Log:          a.log,
	})
	if err != nil {
		_ = modem.Close()
		return nil, nil, err
	}
	return modem, link, nil
}

func (a *App) openDemo() (*isbd.Sim, *demo.Flight, error) {
	d := a.cfg.Demo
	opts := isbd.SimOptions{
		ConfigReply: d.ConfigReply,
		RingAfter:   config.Seconds(d.RingAfterSeconds),
		FailureRate: d.FailureRate,
		Latency:     config.Millis(d.LatencyMS),
		Seed:        uint64(time.Now().UnixNano()),
		Log:         a.log,
	}
	if d.TLEFile != "" {
		tles, err := predict.LoadTLEFile(d.TLEFile)
		if err != nil {
			return nil, nil, fmt.Errorf("demo: %w", err)
		}
		sky := predict.NewSky(tles, d.MinElevation)
		loc := predict.Location{Lat: d.HomeLatitude, Lon: d.HomeLongitude, Alt: d.AltitudeMeters}
		opts.Signal = skySignal(sky, loc, a.log)
		a.log.Printf("demo: signal quality from %d satellites in %s", sky.Size(), d.TLEFile)
	}

	flight, err := demo.NewFlight(demo.FlightOptions{
		HomeLat:        d.HomeLatitude,
		HomeLon:        d.HomeLongitude,
		AltitudeM:      d.AltitudeMeters,
		GroundSpeedKmh: d.GroundSpeedKmh,
		FixAfter:       config.Seconds(d.FixAfterSeconds),
		RateHz:         a.cfg.FlightController.StreamRateHz,
		Log:            a.log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("demo: %w", err)
	}
	a.log.Printf("demo mode: simulated flight around %.4f,%.4f", d.HomeLatitude, d.HomeLongitude)
	return isbd.NewSim(opts), flight, nil
}

// skySignal derives the simulated signal strength from the passes in
// progress over the home point.
func skySignal(sky *predict.Sky, loc predict.Location, logger *log.Logger) func(time.Time) int {
	return func(t time.Time) int {
		passes, err := sky.Overhead(loc, t)
		if err != nil {
			logger.Printf("demo: signal prediction failed: %v", err)
			return 0
		}
		return predict.Bars(passes)
	}
}

// attach builds the controller on top of the given devices.
func (a *App) attach(src telemetry.Source, tr isbd.Transport, ring isbd.RingLine) error {
	cfg := a.cfg

	t := mission.DefaultTiming()
	t.StartDelay = config.Seconds(cfg.Device.StartDelaySeconds)
	t.GPSLockTimeout = config.Seconds(cfg.Device.GPSLockTimeoutSeconds)
	t.ConfigTimeout = config.Seconds(cfg.Device.ConfigTimeoutSeconds)
	t.ConfigTimeoutDwell = config.Seconds(cfg.Device.ConfigTimeoutDwellSeconds)
	t.FeedbackDwell = config.Seconds(cfg.Device.FeedbackDwellSeconds)
	t.LoopInterval = config.Millis(cfg.Device.LoopIntervalMS)
	t.RequestInterval = config.Seconds(cfg.FlightController.RequestIntervalSeconds)
	t.IngestInterval = config.Millis(cfg.FlightController.IngestIntervalMS)
	if cfg.Modem.RingPollMS > 0 {
		t.RingPoll = config.Millis(cfg.Modem.RingPollMS)
	}

	c, err := mission.New(mission.Options{
		Source:    src,
		Transport: tr,
		RingLine:  ring,
		Light:     a.light(),
		Timing:    t,
		MaxFrame:  cfg.Modem.MaxFrameBytes,
		Upload: uplink.Settings{
			UploadEnabled:  cfg.Device.UploadEnabled,
			UploadInterval: config.Seconds(cfg.Device.UploadIntervalSeconds),
		},
		MinInterval:     config.Seconds(cfg.Device.MinUploadIntervalSeconds),
		DefaultInterval: config.Seconds(cfg.Device.DefaultUploadIntervalSeconds),
		DistanceKm:      cfg.Device.DistanceTriggerKm,
		Debug:           cfg.Logging.Level == "debug",
		Session:         a.session,
		Log:             a.log,
		Emit:            a.wsHub.BroadcastJSON,
		Observer:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.controller = c
	return nil
}

// light mirrors every colour of the status light onto the event stream.
func (a *App) light() indicator.Light {
	return indicator.LightFunc(func(c indicator.Color) {
		a.wsHub.BroadcastJSON(telemetry.ColorChange{
			Event: a.event(telemetry.EventColor),
			Color: c.String(),
			Hex:   c.Hex(),
		})
	})
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Load().(string)
	if old == newState {
		return
	}
	a.state.Store(newState)

	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: a.event(telemetry.EventDaemon),
		From:  old,
		To:    newState,
	})
}

func (a *App) event(t telemetry.EventType) telemetry.Event {
	return telemetry.Event{
		Type:      t,
		TS:        telemetry.NowTS(),
		Component: "blackboxd",
		Session:   a.session,
	}
}

func (a *App) mode() string {
	if a.cfg.Demo.Enabled {
		return "demo"
	}
	return "live"
}
