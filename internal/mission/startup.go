package mission

import (
	"context"
	"errors"
	"time"

	"github.com/large-farva/blackbox/internal/indicator"
	"github.com/large-farva/blackbox/internal/isbd"
	"github.com/large-farva/blackbox/internal/scheduler"
)

// Run executes the startup sequence once and then the steady-state loop
// until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if err := c.Startup(ctx); err != nil {
		c.logf("info", "mission: startup interrupted: %v", err)
		return
	}
	for ctx.Err() == nil {
		c.Step(ctx)
		c.clock.Sleep(c.t.LoopInterval)
	}
	c.logf("info", "mission: loop stopped")
}

// Startup runs the bounded startup sequence. Only cancellation of ctx stops
// it early; the GPS and configuration waits time out and carry on.
func (c *Controller) Startup(ctx context.Context) error {
	c.started = c.clock.Now()
	c.heartbeat = scheduler.NewTimeTrigger(c.t.Heartbeat, c.started, c.beat)
	c.installWaitFunc(ctx)

	c.logf("info", "mission: start delay %s", c.t.StartDelay)
	c.ind.SetState(indicator.StartDelay)
	if err := c.delay(ctx, c.t.StartDelay); err != nil {
		return err
	}

	c.ind.SetState(indicator.WaitingForGpsLock)
	if err := c.waitForGPS(ctx); err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}

	c.startRingWatcher(ctx)

	c.ind.SetState(indicator.SendingBootupMessage)
	if err := c.sendBootup(ctx); err != nil {
		return err
	}

	c.ind.SetState(indicator.SendReceiveConfig)
	// Discard any ring seen before the ground server knew we were up.
	c.ring.Store(false)
	if err := c.awaitConfig(ctx); err != nil {
		if !errors.Is(err, ErrTimeout) {
			return err
		}
		c.ind.SetState(indicator.ConfigTimeout)
		if err := c.delay(ctx, c.t.ConfigTimeoutDwell); err != nil {
			return err
		}
	}

	c.requestStreams()
	c.arm(c.clock.Now())
	c.phase = "steady"
	// Step replaces it with the derived state once the hold expires.
	c.holdState(indicator.ReadyForTakeoff, c.t.ReadyDwell)
	c.publish()
	c.logf("info", "mission: startup complete in %s", c.clock.Now().Sub(c.started).Truncate(time.Millisecond))
	return nil
}

// installWaitFunc keeps the light and heartbeat alive while the transport
// blocks in a session.
func (c *Controller) installWaitFunc(ctx context.Context) {
	w, ok := c.opts.Transport.(interface{ SetWaitFunc(isbd.WaitFunc) })
	if !ok {
		return
	}
	w.SetWaitFunc(func() bool {
		c.ind.Tick()
		c.heartbeat.Tick(c.clock.Now())
		return ctx.Err() == nil
	})
}

// delay is the startup form of waiting: the light keeps blinking and the
// heartbeat keeps firing.
func (c *Controller) delay(ctx context.Context, d time.Duration) error {
	err := c.ind.DelayWhileTicking(ctx, d)
	c.heartbeat.Tick(c.clock.Now())
	return err
}

func (c *Controller) waitForGPS(ctx context.Context) error {
	start := c.clock.Now()
	for {
		if err := c.opts.Source.RequestPosition(); err != nil {
			c.logf("warn", "mavlink: request position: %v", err)
		}
		// Any position message counts as a fix; its fix-type field is not
		// inspected.
		if c.drain() {
			c.gpsFix = true
			c.logf("info", "mission: position received after %s", c.clock.Now().Sub(start).Truncate(time.Millisecond))
			return nil
		}
		if err := c.delay(ctx, c.t.GPSPoll); err != nil {
			return err
		}
		if c.clock.Now().Sub(start) > c.t.GPSLockTimeout {
			c.logf("warn", "mission: no position within %s, continuing without a fix", c.t.GPSLockTimeout)
			return ErrTimeout
		}
	}
}

func (c *Controller) sendBootup(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := c.disp.Bootup(ctx)
		if err == nil {
			c.logf("info", "uplink: bootup message sent after %d attempt(s)", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logf("warn", "uplink: bootup attempt %d failed: %v", attempt, err)
		if err := c.delay(ctx, c.t.BootupRetry); err != nil {
			return err
		}
	}
}

func (c *Controller) awaitConfig(ctx context.Context) error {
	start := c.clock.Now()
	for {
		got, err := c.config.Poll(ctx, c.gpsFix)
		c.afterExchange(got, err)
		if c.config.Settings().Configured {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.clock.Now().Sub(start) > c.t.ConfigTimeout {
			c.logf("warn", "mission: no configuration within %s, using upload_enabled=%t interval=%s",
				c.t.ConfigTimeout, c.config.Settings().UploadEnabled, c.config.Settings().UploadInterval)
			return ErrTimeout
		}
		if err := c.delay(ctx, c.t.ConfigPoll); err != nil {
			return err
		}
	}
}

// arm creates the steady-state triggers with their first interval starting
// at now.
func (c *Controller) arm(now time.Time) {
	c.request = scheduler.NewTimeTrigger(c.t.RequestInterval, now, c.requestStreams)
	c.ingest = scheduler.NewTimeTrigger(c.t.IngestInterval, now, c.ingestSamples)
	c.configPoll = scheduler.NewTimeTrigger(c.t.ConfigInterval, now, nil)
	c.upload = scheduler.NewTimeTrigger(c.config.Settings().UploadInterval, now, nil)
	if c.opts.DistanceKm > 0 {
		c.distance = scheduler.NewDistanceTrigger(c.opts.DistanceKm, now, c.distanceReached)
	}
}

// startRingWatcher polls the ring line on a real ticker. Only a fresh
// assertion raises the ring flag; a line asserted before the watcher starts
// or held asserted after an exchange does not.
func (c *Controller) startRingWatcher(ctx context.Context) {
	if c.opts.RingLine == nil || c.t.RingPoll <= 0 {
		return
	}
	last, _ := c.opts.RingLine.RingLine()
	go func() {
		t := time.NewTicker(c.t.RingPoll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				last = c.watchRing(last)
			}
		}
	}()
}

// watchRing reads the line once and raises the ring flag on a false to true
// transition. It returns the level to compare against next time.
func (c *Controller) watchRing(last bool) bool {
	on, err := c.opts.RingLine.RingLine()
	if err != nil {
		return last
	}
	if on && !last {
		c.ring.Store(true)
	}
	return on
}
