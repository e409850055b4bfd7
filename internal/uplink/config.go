package uplink

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/large-farva/blackbox/internal/isbd"
)

const (
	// DefaultMinInterval is the floor an accepted interval must exceed.
	DefaultMinInterval = 15 * time.Second
	// DefaultInterval replaces intervals at or below the floor.
	DefaultInterval = 60 * time.Second
)

// Settings are the two negotiated parameters plus the configured latch.
type Settings struct {
	UploadEnabled  bool          `json:"upload_enabled"`
	UploadInterval time.Duration `json:"upload_interval"`
	Configured     bool          `json:"configured"`
}

// Request is the status packet sent to the ground server.
func Request(gpsFix bool) string {
	return "config,GPSFix=" + strconv.FormatBool(gpsFix) + ","
}

// ParseReply parses "<1|0>,<seconds>,...". The interval is taken when it
// exceeds floor and replaced by fallback otherwise.
func ParseReply(reply []byte, floor, fallback time.Duration) (enabled bool, interval time.Duration, err error) {
	if len(reply) < 2 || (reply[0] != '1' && reply[0] != '0') || reply[1] != ',' {
		return false, 0, fmt.Errorf("%w: %q", ErrMalformedReply, reply)
	}
	enabled = reply[0] == '1'

	digits := reply[2:]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	if end == 0 {
		return false, 0, fmt.Errorf("%w: no interval in %q", ErrMalformedReply, reply)
	}
	secs, perr := strconv.ParseUint(string(digits[:end]), 10, 32)
	if perr != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrMalformedReply, perr)
	}

	interval = time.Duration(secs) * time.Second
	if interval <= floor {
		interval = fallback
	}
	return enabled, interval, nil
}

// ConfigOptions set the interval policy.
type ConfigOptions struct {
	MinInterval     time.Duration
	DefaultInterval time.Duration
	// Initial holds the settings in force before any reply.
	Initial Settings
	Log     *log.Logger
}

// ConfigProtocol runs the configuration exchange whenever the ground server
// has something for the device.
type ConfigProtocol struct {
	transport  isbd.Transport
	dispatcher *Dispatcher
	ring       *atomic.Bool
	opts       ConfigOptions
	log        *log.Logger

	settings  Settings
	rx        [isbd.MaxMT]byte
	exchanges int
	malformed int
}

// NewConfigProtocol wires the protocol to the transport, the dispatcher's
// inbound buffer, and the ring flag set by the ring watcher.
func NewConfigProtocol(t isbd.Transport, d *Dispatcher, ring *atomic.Bool, opts ConfigOptions) *ConfigProtocol {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.Initial.UploadInterval <= 0 {
		opts.Initial.UploadInterval = opts.DefaultInterval
	}
	opts.Initial.Configured = false
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	return &ConfigProtocol{
		transport:  t,
		dispatcher: d,
		ring:       ring,
		opts:       opts,
		log:        opts.Log,
		settings:   opts.Initial,
	}
}

// Settings returns the settings currently in force.
func (c *ConfigProtocol) Settings() Settings { return c.settings }

// Pending reports whether any entry condition holds. A ring latched by the
// modem stays latched so the following session can answer it.
func (c *ConfigProtocol) Pending() bool {
	ring := c.transport.RingAsserted()
	return ring || c.ring.Load() || c.transport.WaitingMessages() > 0 || c.dispatcher.HasInbound()
}

// Poll runs one exchange if the ground server has something for the device.
// It reports whether a reply was received. A malformed reply still counts as
// received; the error then wraps ErrMalformedReply and the settings are
// unchanged.
func (c *ConfigProtocol) Poll(ctx context.Context, gpsFix bool) (bool, error) {
	if !c.Pending() {
		return false, nil
	}
	return c.Exchange(ctx, gpsFix)
}

// Exchange sends the status packet and applies the reply without checking
// the entry conditions.
func (c *ConfigProtocol) Exchange(ctx context.Context, gpsFix bool) (bool, error) {
	n, err := c.transport.SendReceiveText(ctx, Request(gpsFix), c.rx[:])
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	c.exchanges++

	reply := c.rx[:n]
	if buffered, ok := c.dispatcher.TakeInbound(); ok {
		reply = buffered
	}
	applyErr := c.apply(reply)

	// The ring line stays asserted until it is read once more after the
	// message has been downloaded.
	c.transport.RingAsserted()
	c.ring.Store(false)

	return true, applyErr
}

func (c *ConfigProtocol) apply(reply []byte) error {
	enabled, interval, err := ParseReply(reply, c.opts.MinInterval, c.opts.DefaultInterval)
	if err != nil {
		c.malformed++
		c.log.Printf("uplink: discarding configuration reply: %v", err)
		return err
	}
	c.settings = Settings{UploadEnabled: enabled, UploadInterval: interval, Configured: true}
	c.log.Printf("uplink: configured upload_enabled=%t interval=%s", enabled, interval)
	return nil
}

// Counts returns the number of completed and malformed exchanges.
func (c *ConfigProtocol) Counts() (exchanges, malformed int) {
	return c.exchanges, c.malformed
}
