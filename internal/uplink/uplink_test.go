package uplink

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/large-farva/blackbox/internal/isbd"
	"github.com/large-farva/blackbox/internal/telemetry"
)

// fakeTransport records every call and replays scripted replies.
type fakeTransport struct {
	binary  [][]byte
	text    []string
	replies []string
	err     error
	ring    []bool
	ringHit int
	waiting int
}

func (f *fakeTransport) reply(rx []byte) int {
	if len(f.replies) == 0 {
		return 0
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return copy(rx, r)
}

func (f *fakeTransport) SendReceiveBinary(_ context.Context, tx, rx []byte) (int, error) {
	f.binary = append(f.binary, append([]byte(nil), tx...))
	if f.err != nil {
		return 0, f.err
	}
	return f.reply(rx), nil
}

func (f *fakeTransport) SendReceiveText(_ context.Context, tx string, rx []byte) (int, error) {
	f.text = append(f.text, tx)
	if f.err != nil {
		return 0, f.err
	}
	return f.reply(rx), nil
}

func (f *fakeTransport) RingAsserted() bool {
	f.ringHit++
	if len(f.ring) == 0 {
		return false
	}
	r := f.ring[0]
	f.ring = f.ring[1:]
	return r
}

func (f *fakeTransport) WaitingMessages() int           { return f.waiting }
func (f *fakeTransport) SystemTime() (time.Time, error) { return time.Unix(0, 0), nil }
func (f *fakeTransport) SignalQuality() (int, error)    { return 5, nil }

func frameOf(n int) telemetry.Frame {
	return telemetry.Frame{Attitude: make([]byte, n/2), Position: make([]byte, n-n/2-telemetry.TimestampSize)}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		in       string
		enabled  bool
		interval time.Duration
		bad      bool
	}{
		{in: "1,120,", enabled: true, interval: 120 * time.Second},
		{in: "0,300,", enabled: false, interval: 300 * time.Second},
		// 30 s is above the default 15 s floor and is kept. Rejecting it
		// needs a floor of 30 s, see TestParseReplyFloorIsConfigurable.
		{in: "1,30,", enabled: true, interval: 30 * time.Second},
		{in: "1,16", enabled: true, interval: 16 * time.Second},
		{in: "1,15,", enabled: true, interval: DefaultInterval},
		{in: "0,5,", enabled: false, interval: DefaultInterval},
		{in: "1,0,", enabled: true, interval: DefaultInterval},
		{in: "x,120,", bad: true},
		{in: "", bad: true},
		{in: "1", bad: true},
		{in: "1,,", bad: true},
		{in: "1,abc,", bad: true},
		{in: "2,120,", bad: true},
		{in: "1,99999999999,", bad: true},
	}

	for _, tc := range cases {
		enabled, interval, err := ParseReply([]byte(tc.in), DefaultMinInterval, DefaultInterval)
		if tc.bad {
			if !errors.Is(err, ErrMalformedReply) {
				t.Fatalf("%q: expected ErrMalformedReply, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if enabled != tc.enabled || interval != tc.interval {
			t.Fatalf("%q: got (%v, %s), want (%v, %s)", tc.in, enabled, interval, tc.enabled, tc.interval)
		}
	}
}

func TestParseReplyFloorIsConfigurable(t *testing.T) {
	_, interval, err := ParseReply([]byte("1,30,"), 30*time.Second, DefaultInterval)
	if err != nil {
		t.Fatal(err)
	}
	if interval != DefaultInterval {
		t.Fatalf("interval at the floor = %s, want default", interval)
	}
}

func TestRequest(t *testing.T) {
	if got := Request(true); got != "config,GPSFix=true," {
		t.Fatalf("Request(true) = %q", got)
	}
	if got := Request(false); got != "config,GPSFix=false," {
		t.Fatalf("Request(false) = %q", got)
	}
}

func TestDispatchOversizeNeverReachesTransport(t *testing.T) {
	tr := &fakeTransport{}
	d, err := NewDispatcher(tr, DefaultMaxFrame, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{DefaultMaxFrame + 1, 200, isbd.MaxMO, isbd.MaxMO + 50} {
		err := d.Dispatch(context.Background(), frameOf(n))
		if !errors.Is(err, ErrOversizeFrame) {
			t.Fatalf("len %d: expected ErrOversizeFrame, got %v", n, err)
		}
	}
	if len(tr.binary) != 0 {
		t.Fatalf("transport saw %d oversize frames", len(tr.binary))
	}
	if d.Stats().Oversize != 4 {
		t.Fatalf("oversize count = %d", d.Stats().Oversize)
	}
}

func TestDispatchSendsEncodedFrame(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := NewDispatcher(tr, DefaultMaxFrame, nil)

	f := telemetry.Frame{Attitude: []byte{1, 2}, Position: []byte{3}, Timestamp: 0x0A0B0C0D}
	if err := d.Dispatch(context.Background(), f); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := []byte{1, 2, 3, 0x0D, 0x0C, 0x0B, 0x0A}
	if len(tr.binary) != 1 || !bytes.Equal(tr.binary[0], want) {
		t.Fatalf("sent %x, want %x", tr.binary, want)
	}

	// Exactly at the limit is allowed.
	if err := d.Dispatch(context.Background(), frameOf(DefaultMaxFrame)); err != nil {
		t.Fatalf("frame at the limit: %v", err)
	}
}

func TestDispatchTransportFailure(t *testing.T) {
	tr := &fakeTransport{err: &isbd.Error{Op: "send binary", Code: isbd.SendReceiveTimeout}}
	d, _ := NewDispatcher(tr, DefaultMaxFrame, nil)

	err := d.Dispatch(context.Background(), frameOf(20))
	if !errors.Is(err, ErrTransport) || isbd.CodeOf(err) != isbd.SendReceiveTimeout {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if len(tr.binary) != 1 {
		t.Fatalf("dispatcher retried: %d sends", len(tr.binary))
	}
}

func TestDispatchKeepsUnsolicitedReply(t *testing.T) {
	tr := &fakeTransport{replies: []string{"0,90,"}}
	d, _ := NewDispatcher(tr, DefaultMaxFrame, nil)

	if err := d.Dispatch(context.Background(), frameOf(20)); err != nil {
		t.Fatal(err)
	}
	if !d.HasInbound() {
		t.Fatal("reply not kept")
	}
	got, ok := d.TakeInbound()
	if !ok || string(got) != "0,90," {
		t.Fatalf("TakeInbound = %q, %v", got, ok)
	}
	if d.HasInbound() {
		t.Fatal("buffer not emptied")
	}
}

func TestNewDispatcherRejectsLimitAtNetworkMax(t *testing.T) {
	if _, err := NewDispatcher(&fakeTransport{}, isbd.MaxMO, nil); err == nil {
		t.Fatal("expected error for a limit without headroom")
	}
}

func newProtocol(tr *fakeTransport) (*ConfigProtocol, *Dispatcher, *atomic.Bool) {
	d, _ := NewDispatcher(tr, DefaultMaxFrame, nil)
	ring := &atomic.Bool{}
	return NewConfigProtocol(tr, d, ring, ConfigOptions{}), d, ring
}

func TestPollIdleWithoutEntryCondition(t *testing.T) {
	tr := &fakeTransport{}
	c, _, _ := newProtocol(tr)

	got, err := c.Poll(context.Background(), true)
	if got || err != nil {
		t.Fatalf("Poll = %v, %v", got, err)
	}
	if len(tr.text) != 0 {
		t.Fatal("sent a request with nothing pending")
	}
}

func TestPollOnRingFlag(t *testing.T) {
	tr := &fakeTransport{replies: []string{"1,120,"}}
	c, _, ring := newProtocol(tr)
	ring.Store(true)

	got, err := c.Poll(context.Background(), true)
	if !got || err != nil {
		t.Fatalf("Poll = %v, %v", got, err)
	}
	if tr.text[0] != "config,GPSFix=true," {
		t.Fatalf("request %q", tr.text[0])
	}

	s := c.Settings()
	if !s.Configured || !s.UploadEnabled || s.UploadInterval != 120*time.Second {
		t.Fatalf("settings %+v", s)
	}
	if ring.Load() {
		t.Fatal("ring flag not cleared")
	}
	// One read to decide, one more to release the ring line.
	if tr.ringHit != 2 {
		t.Fatalf("ring checked %d times, want 2", tr.ringHit)
	}
}

func TestPollPrefersBufferedReply(t *testing.T) {
	tr := &fakeTransport{replies: []string{"0,45,", "1,200,"}}
	c, d, _ := newProtocol(tr)

	if err := d.Dispatch(context.Background(), frameOf(20)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Poll(context.Background(), false); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	s := c.Settings()
	if s.UploadEnabled || s.UploadInterval != 45*time.Second {
		t.Fatalf("expected buffered reply to win, got %+v", s)
	}
	if d.HasInbound() {
		t.Fatal("buffered reply not consumed")
	}
}

func TestPollMalformedKeepsSettings(t *testing.T) {
	tr := &fakeTransport{waiting: 1, replies: []string{"1,120,", "x,120,"}}
	c, _, _ := newProtocol(tr)

	if _, err := c.Poll(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	before := c.Settings()

	got, err := c.Poll(context.Background(), true)
	if !got || !errors.Is(err, ErrMalformedReply) {
		t.Fatalf("Poll = %v, %v", got, err)
	}
	if c.Settings() != before {
		t.Fatalf("settings changed: %+v -> %+v", before, c.Settings())
	}
	if _, malformed := c.Counts(); malformed != 1 {
		t.Fatalf("malformed = %d", malformed)
	}
}

func TestMalformedFirstReplyLeavesUnconfigured(t *testing.T) {
	tr := &fakeTransport{waiting: 1, replies: []string{"x,120,"}}
	c, _, _ := newProtocol(tr)

	_, _ = c.Poll(context.Background(), false)
	if c.Settings().Configured {
		t.Fatal("configured latched on a malformed reply")
	}
}

func TestPollTransportFailureKeepsRing(t *testing.T) {
	tr := &fakeTransport{err: &isbd.Error{Op: "send text", Code: isbd.NoNetwork}}
	c, _, ring := newProtocol(tr)
	ring.Store(true)

	got, err := c.Poll(context.Background(), true)
	if got || !errors.Is(err, ErrTransport) {
		t.Fatalf("Poll = %v, %v", got, err)
	}
	if !ring.Load() {
		t.Fatal("ring flag cleared without a reply")
	}
}

func TestBootupKeepsReply(t *testing.T) {
	tr := &fakeTransport{replies: []string{"1,60,"}}
	d, _ := NewDispatcher(tr, DefaultMaxFrame, nil)

	if err := d.Bootup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.text[0] != BootupMessage || !d.HasInbound() {
		t.Fatalf("text=%v inbound=%v", tr.text, d.HasInbound())
	}
}
