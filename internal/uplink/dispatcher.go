// Package uplink moves telemetry frames and the configuration handshake over
// the satellite transport. It never retries on its own; the transport's
// bounded retry is the only retry.
package uplink

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/large-farva/blackbox/internal/isbd"
	"github.com/large-farva/blackbox/internal/telemetry"
)

// DefaultMaxFrame leaves headroom under the network's MO limit.
const DefaultMaxFrame = 100

// BootupMessage announces a power-on to the ground server.
const BootupMessage = "bootup,"

// Stats counts dispatch outcomes since start.
type Stats struct {
	Sent      int   `json:"sent"`
	Failed    int   `json:"failed"`
	Oversize  int   `json:"oversize"`
	BytesSent int64 `json:"bytes_sent"`
	Inbound   int   `json:"inbound"`
}

// Dispatcher sends frames through the transport from a fixed outbound buffer
// and keeps any reply that arrives with them for the configuration protocol.
type Dispatcher struct {
	transport isbd.Transport
	maxFrame  int
	log       *log.Logger

	out [isbd.MaxMO]byte
	in  [isbd.MaxMT]byte

	inLen  int
	inFull bool
	stats  Stats
}

// NewDispatcher returns a dispatcher that rejects frames longer than
// maxFrame, which must be below isbd.MaxMO.
func NewDispatcher(t isbd.Transport, maxFrame int, logger *log.Logger) (*Dispatcher, error) {
	if maxFrame <= 0 || maxFrame >= isbd.MaxMO {
		return nil, fmt.Errorf("uplink: max frame %d must be between 1 and %d", maxFrame, isbd.MaxMO-1)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{transport: t, maxFrame: maxFrame, log: logger}, nil
}

// MaxFrame returns the configured size limit.
func (d *Dispatcher) MaxFrame() int { return d.maxFrame }

// Dispatch sends f once through the transport. Oversize frames are dropped
// before the transport is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, f telemetry.Frame) error {
	n := f.Len()
	if n > d.maxFrame {
		d.stats.Oversize++
		return fmt.Errorf("%w: %d > %d bytes", ErrOversizeFrame, n, d.maxFrame)
	}
	if _, err := f.PutInto(d.out[:d.maxFrame]); err != nil {
		d.stats.Oversize++
		return fmt.Errorf("%w: %v", ErrOversizeFrame, err)
	}

	rx, err := d.transport.SendReceiveBinary(ctx, d.out[:n], d.in[:])
	if err != nil {
		d.stats.Failed++
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	d.stats.Sent++
	d.stats.BytesSent += int64(n)
	d.log.Printf("uplink: sent %s frame", humanize.Bytes(uint64(n)))
	d.keep(rx)
	return nil
}

// Bootup sends the bootup announcement. A reply that comes back with it is
// kept like any other unsolicited reply.
func (d *Dispatcher) Bootup(ctx context.Context) error {
	rx, err := d.transport.SendReceiveText(ctx, BootupMessage, d.in[:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	d.keep(rx)
	return nil
}

func (d *Dispatcher) keep(n int) {
	if n <= 0 {
		return
	}
	d.inLen = n
	d.inFull = true
	d.stats.Inbound++
	d.log.Printf("uplink: kept %s unsolicited reply", humanize.Bytes(uint64(n)))
}

// HasInbound reports whether a reply is waiting in the inbound buffer.
func (d *Dispatcher) HasInbound() bool { return d.inFull }

// TakeInbound returns a copy of the buffered reply and empties the buffer.
func (d *Dispatcher) TakeInbound() ([]byte, bool) {
	if !d.inFull {
		return nil, false
	}
	out := make([]byte, d.inLen)
	copy(out, d.in[:d.inLen])
	d.inLen = 0
	d.inFull = false
	return out, true
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() Stats { return d.stats }
