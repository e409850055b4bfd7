package mavlink

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/large-farva/blackbox/internal/clock"
	"github.com/large-farva/blackbox/internal/telemetry"
)

// Options describe the serial link to the flight controller.
type Options struct {
	Device string
	Baud   int
	// SystemID and ComponentID identify this device on the MAVLink bus.
	SystemID    byte
	ComponentID byte
	// TargetSystem is the flight controller's system id.
	TargetSystem byte
	// StreamRateHz is the requested rate of attitude and position messages.
	StreamRateHz float64
	Clock        clock.Clock
	Log          *log.Logger
}

// sampleBuffer bounds the samples held between loop iterations. When full
// the oldest sample is dropped; the aggregator only keeps the newest of each
// kind anyway.
const sampleBuffer = 64

// Link is a telemetry.Source backed by a MAVLink serial endpoint.
type Link struct {
	node    *gomavlib.Node
	codec   *Codec
	opts    Options
	log     *log.Logger
	clock   clock.Clock
	samples chan telemetry.Sample

	closeOnce sync.Once
	done      chan struct{}
}

// Open connects to the flight controller and starts reading.
func Open(opts Options) (*Link, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.StreamRateHz <= 0 {
		opts.StreamRateHz = 2
	}

	codec, err := NewCodec(opts.SystemID, opts.ComponentID)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{Device: opts.Device, Baud: opts.Baud},
		},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    opts.SystemID,
		OutComponentID: opts.ComponentID,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: open %s: %w", opts.Device, err)
	}

	l := &Link{
		node:    node,
		codec:   codec,
		opts:    opts,
		log:     opts.Log,
		clock:   opts.Clock,
		samples: make(chan telemetry.Sample, sampleBuffer),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *Link) readLoop() {
	for evt := range l.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			s, ok, err := l.codec.Sample(e.Message(), l.clock.Now())
			if err != nil {
				l.log.Printf("mavlink: %v", err)
				continue
			}
			if ok {
				Deliver(l.samples, s)
			}
		case *gomavlib.EventChannelOpen:
			l.log.Printf("mavlink: link up")
		case *gomavlib.EventChannelClose:
			l.log.Printf("mavlink: link down")
		case *gomavlib.EventParseError:
			l.log.Printf("mavlink: parse error: %v", e.Error)
		}
	}
	close(l.samples)
}

// Deliver pushes s onto ch, discarding the oldest queued sample when ch is
// full.
func Deliver(ch chan telemetry.Sample, s telemetry.Sample) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Samples returns the channel of decoded samples. It is closed when the link
// is closed.
func (l *Link) Samples() <-chan telemetry.Sample { return l.samples }

// RequestStreams asks the flight controller to stream ATTITUDE and
// GLOBAL_POSITION_INT at the configured rate.
func (l *Link) RequestStreams() error {
	interval := float32(1e6 / l.opts.StreamRateHz)
	for _, id := range []uint32{uint32(telemetry.KindAttitude), uint32(telemetry.KindPosition)} {
		l.write(&common.MessageCommandLong{
			TargetSystem:    l.opts.TargetSystem,
			TargetComponent: 1,
			Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
			Param1:          float32(id),
			Param2:          interval,
		})
	}
	return nil
}

// RequestPosition asks for a single GLOBAL_POSITION_INT.
func (l *Link) RequestPosition() error {
	l.write(&common.MessageCommandLong{
		TargetSystem:    l.opts.TargetSystem,
		TargetComponent: 1,
		Command:         common.MAV_CMD_REQUEST_MESSAGE,
		Param1:          float32(telemetry.KindPosition),
	})
	return nil
}

func (l *Link) write(msg message.Message) {
	l.node.WriteMessageAll(msg)
}

// Close stops the node. The samples channel is closed once the reader exits.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.node.Close()
		close(l.done)
	})
	return nil
}
