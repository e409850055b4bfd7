// Package isbd talks to an Iridium short-burst-data modem. Modem drives a
// real 9602/9603 over a serial port with AT commands; Sim stands in for the
// modem and the ground server on a bench.
package isbd

import (
	"context"
	"time"
)

// MaxMO is the largest mobile-originated message the network accepts.
const MaxMO = 340

// MaxMT is the largest mobile-terminated message the network delivers.
const MaxMT = 270

// Transport is the blocking send/receive primitive used by the uplink. Both
// send calls retry internally within their own bounds; callers never retry.
type Transport interface {
	// SendReceiveBinary sends tx and copies any waiting inbound message into
	// rx, returning its length.
	SendReceiveBinary(ctx context.Context, tx, rx []byte) (int, error)
	// SendReceiveText is SendReceiveBinary for an ASCII message.
	SendReceiveText(ctx context.Context, tx string, rx []byte) (int, error)
	// RingAsserted reports a pending ring alert. Depending on the
	// implementation the alert is acknowledged by the read itself or by the
	// next session.
	RingAsserted() bool
	// WaitingMessages is the inbound queue depth reported by the network
	// during the last session.
	WaitingMessages() int
	// SystemTime is the network time kept by the modem.
	SystemTime() (time.Time, error)
	// SignalQuality is the signal strength in bars, 0 to 5.
	SignalQuality() (int, error)
}

// RingLine reports the raw state of the ring indicator line. It is polled
// from a separate goroutine and must not use the command channel.
type RingLine interface {
	RingLine() (bool, error)
}

// WaitFunc is called repeatedly while the modem waits on the network. It
// keeps the caller's UI alive; returning false aborts the operation.
type WaitFunc func() bool

// Epoch is the Iridium system time epoch.
var Epoch = time.Date(2014, time.May, 11, 14, 23, 55, 0, time.UTC)

// tick is the resolution of the Iridium system time counter.
const tick = 90 * time.Millisecond

// timeFromTicks converts an Iridium system time counter to wall time.
func timeFromTicks(ticks uint32) time.Time {
	return Epoch.Add(time.Duration(ticks) * tick)
}

// barsFromCSQ clamps a +CSQ reading to the 0-5 scale.
func barsFromCSQ(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}
