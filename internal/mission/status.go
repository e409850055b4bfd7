package mission

import (
	"fmt"
	"time"

	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/telemetry"
	"github.com/large-farva/blackbox/internal/uplink"
)

// Status is the published view of the controller for the HTTP surface.
type Status struct {
	Phase             string             `json:"phase"`
	State             string             `json:"state"`
	Light             indicator.Snapshot `json:"light"`
	GPSFix            bool               `json:"gps_fix"`
	Configured        bool               `json:"configured"`
	UploadEnabled     bool               `json:"upload_enabled"`
	UploadIntervalMS  int64              `json:"upload_interval_ms"`
	PendingAttitude   bool               `json:"pending_attitude"`
	PendingPosition   bool               `json:"pending_position"`
	CaptureTimestamp  uint32             `json:"capture_timestamp"`
	SignalBars        int                `json:"signal_bars"`
	Dispatch          uplink.Stats       `json:"dispatch"`
	ConfigExchanges   int                `json:"config_exchanges"`
	MalformedReplies  int                `json:"malformed_replies"`
	LastDispatch      string             `json:"last_dispatch,omitempty"`
	LastDispatchError string             `json:"last_dispatch_error,omitempty"`
	DistanceKm        float64            `json:"distance_km"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Status returns the most recently published status. It is safe to call
// from any goroutine.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// publish snapshots the controller state for readers on other goroutines.
func (c *Controller) publish() {
	s := c.config.Settings()
	attitude, position := c.agg.Pending()
	exchanges, malformed := c.config.Counts()
	st := &Status{
		Phase:             c.phase,
		State:             c.ind.State().String(),
		Light:             c.ind.Snapshot(),
		GPSFix:            c.gpsFix,
		Configured:        s.Configured,
		UploadEnabled:     s.UploadEnabled,
		UploadIntervalMS:  s.UploadInterval.Milliseconds(),
		PendingAttitude:   attitude,
		PendingPosition:   position,
		CaptureTimestamp:  c.captureTS,
		SignalBars:        c.signal,
		Dispatch:          c.disp.Stats(),
		ConfigExchanges:   exchanges,
		MalformedReplies:  malformed,
		LastDispatchError: c.lastDispatchErr,
		UpdatedAt:         c.clock.Now(),
	}
	if !c.lastDispatch.IsZero() {
		st.LastDispatch = telemetry.FormatTS(c.lastDispatch)
	}
	if c.distance != nil {
		st.DistanceKm = c.distance.Accumulated()
	}
	c.status.Store(st)
}

func (c *Controller) beat() {
	c.publish()
	c.emit(telemetry.Heartbeat{
		Event:         c.event(telemetry.EventHeartbeat),
		State:         c.ind.State().String(),
		UptimeSeconds: int64(c.clock.Now().Sub(c.started).Seconds()),
	})
}

func (c *Controller) event(t telemetry.EventType) telemetry.Event {
	return telemetry.Event{
		Type:      t,
		TS:        telemetry.FormatTS(c.clock.Now()),
		Component: "mission",
		Session:   c.opts.Session,
	}
}

func (c *Controller) emit(v any) {
	if c.opts.Emit != nil {
		c.opts.Emit(v)
	}
}

func (c *Controller) emitDispatch(ok bool, n int, err error) {
	ev := telemetry.Dispatch{Event: c.event(telemetry.EventDispatch), OK: ok, Bytes: n}
	if err != nil {
		ev.Reason = err.Error()
	}
	c.emit(ev)
}

// logf writes to the daemon log and mirrors the line to event clients.
func (c *Controller) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Print(msg)
	c.emit(telemetry.LogLine{
		Event:   c.event(telemetry.EventLog),
		Level:   level,
		Message: msg,
	})
}
