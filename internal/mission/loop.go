package mission

import (
	"context"
	"errors"
	"fmt"

	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/telemetry"
	"github.com/large-farva/blackbox/internal/uplink"
)

// Step runs one steady-state iteration. The order is fixed: heartbeat,
// stream request, ingest, upload, configuration poll, hold expiry, light,
// commands.
func (c *Controller) Step(ctx context.Context) {
	c.heartbeat.Tick(c.clock.Now())
	c.request.Tick(c.clock.Now())
	c.ingest.Tick(c.clock.Now())

	if c.config.Settings().UploadEnabled && c.upload.Tick(c.clock.Now()) {
		_ = c.uploadFrame(ctx)
	}
	if c.configPoll.Tick(c.clock.Now()) {
		c.pollConfig(ctx)
	}

	c.expireHold(c.clock.Now())
	c.ind.Tick()
	c.drainCommands(ctx)
}

func (c *Controller) requestStreams() {
	if err := c.opts.Source.RequestStreams(); err != nil {
		c.logf("warn", "mavlink: request streams: %v", err)
	}
}

func (c *Controller) ingestSamples() {
	c.drain()
	if ts, err := c.opts.Transport.SystemTime(); err == nil {
		c.captureTS = uint32(ts.Unix())
	} else {
		c.log.Printf("isbd: system time: %v", err)
	}
	c.settle()
}

// drain offers every queued sample to the aggregator and reports whether a
// position sample was among them.
func (c *Controller) drain() (position bool) {
	samples := c.opts.Source.Samples()
	for {
		select {
		case s, ok := <-samples:
			if !ok {
				return position
			}
			if c.offer(s) && s.Kind == telemetry.KindPosition {
				position = true
			}
		default:
			return position
		}
	}
}

func (c *Controller) offer(s telemetry.Sample) bool {
	if err := c.agg.Offer(s); err != nil {
		c.log.Printf("mission: %v", err)
		return false
	}
	c.obs.Sample(s.Kind)

	if s.Kind == telemetry.KindPosition && c.distance != nil {
		at := s.Received
		if at.IsZero() {
			at = c.clock.Now()
		}
		c.distance.Tick(s.GroundSpeedKmh, at)
	}

	if c.opts.Debug {
		c.log.Printf("mavlink: %s %s", s.Kind, s.Summary)
		c.emit(telemetry.SampleReceived{
			Event:   c.event(telemetry.EventSample),
			Kind:    s.Kind.String(),
			Bytes:   len(s.Encoded),
			Summary: s.Summary,
		})
	}
	return true
}

func (c *Controller) distanceReached() {
	c.logf("info", "mission: %.2f km travelled", c.opts.DistanceKm)
	c.emit(telemetry.DistanceMark{
		Event:       c.event(telemetry.EventDistance),
		ThresholdKm: c.opts.DistanceKm,
	})
}

// uploadFrame combines the pending samples and sends them. A frame missing
// only its position sample is reported as NoGpsFix.
func (c *Controller) uploadFrame(ctx context.Context) error {
	attitude, position := c.agg.Pending()
	frame, ok := c.agg.TryCombine(c.captureTS)
	if !ok {
		err := fmt.Errorf("%w: attitude=%t position=%t", uplink.ErrIncompleteFrame, attitude, position)
		c.obs.Dispatch("incomplete", 0)
		if attitude && !position {
			c.logf("warn", "mission: no GPS fix, not sending telemetry")
			c.holdState(indicator.NoGpsFix, c.t.NoFixDwell)
		} else {
			c.log.Printf("mission: nothing to upload: %v", err)
			c.settle()
		}
		c.emitDispatch(false, 0, err)
		return err
	}

	c.hold = false
	c.ind.SetState(indicator.SendingTelemetry)
	err := c.disp.Dispatch(ctx, frame)
	c.lastDispatch = c.clock.Now()

	switch {
	case err == nil:
		c.lastDispatchErr = ""
		c.obs.Dispatch("sent", frame.Len())
		c.holdState(indicator.InFlightSbdSuccess, c.t.FeedbackDwell)
	case errors.Is(err, uplink.ErrOversizeFrame):
		c.lastDispatchErr = err.Error()
		c.obs.Dispatch("oversize", frame.Len())
		c.logf("error", "mission: dropped frame: %v", err)
		c.settle()
	default:
		c.lastDispatchErr = err.Error()
		c.obs.Dispatch("failed", frame.Len())
		c.logf("warn", "mission: upload failed: %v", err)
		c.holdState(indicator.InFlightSbdFailed, c.t.FeedbackDwell)
	}

	c.querySignal()
	c.emitDispatch(err == nil, frame.Len(), err)
	c.publish()
	return err
}

func (c *Controller) querySignal() {
	bars, err := c.opts.Transport.SignalQuality()
	if err != nil {
		c.log.Printf("isbd: signal quality: %v", err)
		return
	}
	c.signal = bars
	c.obs.Signal(bars)
}

// pollConfig runs the configuration exchange when the ground server has
// something pending.
func (c *Controller) pollConfig(ctx context.Context) {
	if !c.config.Pending() {
		return
	}
	c.exchange(ctx)
}

func (c *Controller) exchange(ctx context.Context) error {
	c.hold = false
	c.ind.SetState(indicator.SendReceiveConfig)
	got, err := c.config.Exchange(ctx, c.gpsFix)
	c.afterExchange(got, err)
	c.settle()
	return err
}

func (c *Controller) afterExchange(got bool, err error) {
	if !got {
		if err != nil {
			c.logf("warn", "uplink: configuration exchange failed: %v", err)
		}
		return
	}
	accepted := err == nil
	c.obs.ConfigExchange(accepted)

	s := c.config.Settings()
	if c.upload != nil {
		c.upload.SetInterval(s.UploadInterval)
	}
	c.emit(telemetry.ConfigUpdate{
		Event:            c.event(telemetry.EventConfig),
		Configured:       s.Configured,
		UploadEnabled:    s.UploadEnabled,
		UploadIntervalMS: s.UploadInterval.Milliseconds(),
		Accepted:         accepted,
	})
	c.publish()
}
