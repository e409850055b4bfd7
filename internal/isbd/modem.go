package isbd

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/large-farva/blackbox/internal/clock"
)

// Port is the part of a serial port the modem driver needs. serial.Port
// satisfies it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// Options tune the session retry behaviour.
type Options struct {
	// Attempts bounds the number of SBDIX sessions per send.
	Attempts int
	// Timeout bounds a whole send/receive including retries.
	Timeout time.Duration
	// Backoff is the pause between failed sessions.
	Backoff time.Duration
	Clock   clock.Clock
	Log     *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Log == nil {
		o.Log = log.New(io.Discard, "", 0)
	}
	return o
}

const (
	readPoll       = 100 * time.Millisecond
	commandTimeout = 10 * time.Second
	csqTimeout     = 60 * time.Second
	sessionTimeout = 90 * time.Second
)

var (
	termOK    = []byte("OK\r\n")
	termError = []byte("ERROR\r\n")
	termReady = []byte("READY\r\n")
	ringToken = []byte("SBDRING")
)

// Modem drives an SBD modem with AT commands. Command calls must come from a
// single goroutine; RingLine may be polled from another.
type Modem struct {
	port  Port
	opts  Options
	log   *log.Logger
	clock clock.Clock

	mu        sync.Mutex
	wait      WaitFunc
	pending   []byte
	waiting   int
	ringAlert bool
	lastRI    bool
}

// Open opens the named serial port and wraps it in a Modem.
func Open(name string, baud int, opts Options) (*Modem, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("isbd: open %s: %w", name, err)
	}
	return New(p, opts), nil
}

// New wraps an already open port.
func New(p Port, opts Options) *Modem {
	opts = opts.withDefaults()
	_ = p.SetReadTimeout(readPoll)
	return &Modem{port: p, opts: opts, log: opts.Log, clock: opts.Clock}
}

// SetWaitFunc installs fn to be called while the modem waits.
func (m *Modem) SetWaitFunc(fn WaitFunc) {
	m.mu.Lock()
	m.wait = fn
	m.mu.Unlock()
}

// Close releases the serial port.
func (m *Modem) Close() error {
	return m.port.Close()
}

// Begin wakes the modem and configures it for SBD use: echo off, no flow
// control, ring alerts on.
func (m *Modem) Begin(ctx context.Context) error {
	var err error
	for range 3 {
		if _, err = m.command(ctx, "AT", commandTimeout); err == nil {
			break
		}
	}
	if err != nil {
		return opError("begin", NoModemDetected, err)
	}
	for _, cmd := range []string{"ATE0", "AT&D0", "AT&K0", "AT+SBDMTA=1"} {
		if _, err := m.command(ctx, cmd, commandTimeout); err != nil {
			return opError("begin", ProtocolError, fmt.Errorf("%s: %w", cmd, err))
		}
	}
	m.log.Printf("isbd: modem ready")
	return nil
}

// SignalQuality queries AT+CSQ.
func (m *Modem) SignalQuality() (int, error) {
	resp, err := m.command(context.Background(), "AT+CSQ", csqTimeout)
	if err != nil {
		return 0, opError("signal quality", ProtocolError, err)
	}
	v, ok := field(resp, "+CSQ:")
	if !ok {
		return 0, opError("signal quality", ProtocolError, fmt.Errorf("unexpected reply %q", resp))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, opError("signal quality", ProtocolError, err)
	}
	return barsFromCSQ(n), nil
}

// SystemTime queries AT-MSSTM.
func (m *Modem) SystemTime() (time.Time, error) {
	resp, err := m.command(context.Background(), "AT-MSSTM", commandTimeout)
	if err != nil {
		return time.Time{}, opError("system time", ProtocolError, err)
	}
	v, ok := field(resp, "-MSSTM:")
	if !ok {
		return time.Time{}, opError("system time", ProtocolError, fmt.Errorf("unexpected reply %q", resp))
	}
	if strings.Contains(v, "no network") {
		return time.Time{}, opError("system time", NoNetwork, nil)
	}
	ticks, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return time.Time{}, opError("system time", ProtocolError, err)
	}
	return timeFromTicks(uint32(ticks)), nil
}

// RingLine reads the ring indicator line.
func (m *Modem) RingLine() (bool, error) {
	bits, err := m.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.RI, nil
}

// RingAsserted reports a ring alert seen on the command channel or a fresh
// assertion of the ring line. The alert stays latched until a session
// answers it with AT+SBDIXA.
func (m *Modem) RingAsserted() bool {
	line, err := m.RingLine()
	if err != nil {
		m.log.Printf("isbd: read ring line: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if line && !m.lastRI {
		m.ringAlert = true
	}
	m.lastRI = line
	return m.ringAlert
}

// WaitingMessages returns the MT queue depth from the last session.
func (m *Modem) WaitingMessages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

// SendReceiveBinary loads tx with AT+SBDWB and runs SBD sessions until one
// succeeds or the attempt and time bounds run out.
func (m *Modem) SendReceiveBinary(ctx context.Context, tx, rx []byte) (int, error) {
	if len(tx) > MaxMO {
		return 0, opError("send binary", MessageTooLong, nil)
	}
	return m.sendReceive(ctx, "send binary", func(deadline time.Time) error {
		return m.loadBinary(ctx, tx, deadline)
	}, rx)
}

// SendReceiveText loads tx with AT+SBDWT and runs SBD sessions like
// SendReceiveBinary.
func (m *Modem) SendReceiveText(ctx context.Context, tx string, rx []byte) (int, error) {
	if len(tx) > MaxMO {
		return 0, opError("send text", MessageTooLong, nil)
	}
	return m.sendReceive(ctx, "send text", func(deadline time.Time) error {
		_, err := m.commandUntil(ctx, "AT+SBDWT="+tx, deadline)
		return err
	}, rx)
}

func (m *Modem) sendReceive(ctx context.Context, op string, load func(time.Time) error, rx []byte) (int, error) {
	deadline := m.clock.Now().Add(m.opts.Timeout)

	if err := load(deadline); err != nil {
		return 0, m.wrap(op, err)
	}

	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		if m.clock.Now().After(deadline) {
			break
		}

		m.mu.Lock()
		answer := m.ringAlert
		m.mu.Unlock()
		cmd := "AT+SBDIX"
		if answer {
			cmd = "AT+SBDIXA"
		}

		resp, err := m.commandUntil(ctx, cmd, minTime(deadline, m.clock.Now().Add(sessionTimeout)))
		if err != nil {
			return 0, m.wrap(op, err)
		}
		st, err := parseSBDIX(resp)
		if err != nil {
			return 0, opError(op, ProtocolError, err)
		}

		m.mu.Lock()
		m.waiting = st.mtQueued
		if answer {
			m.ringAlert = false
		}
		m.mu.Unlock()

		if st.moStatus <= 4 {
			n := 0
			if st.mtStatus == 1 && st.mtLength > 0 {
				n, err = m.readMT(ctx, rx, deadline)
			}
			if _, clearErr := m.commandUntil(ctx, "AT+SBDD0", m.clock.Now().Add(commandTimeout)); clearErr != nil {
				m.log.Printf("isbd: clear MO buffer: %v", clearErr)
			}
			if err != nil {
				return 0, m.wrap(op, err)
			}
			return n, nil
		}

		m.log.Printf("isbd: session %d/%d failed with MO status %d", attempt, m.opts.Attempts, st.moStatus)
		if !m.pause(ctx, m.opts.Backoff, deadline) {
			return 0, opError(op, Cancelled, ctx.Err())
		}
	}
	return 0, opError(op, SendReceiveTimeout, nil)
}

func (m *Modem) loadBinary(ctx context.Context, tx []byte, deadline time.Time) error {
	if err := m.write(fmt.Sprintf("AT+SBDWB=%d\r", len(tx))); err != nil {
		return err
	}
	if _, err := m.readUntil(ctx, deadline, termReady, termError); err != nil {
		return err
	}

	var sum uint16
	for _, b := range tx {
		sum += uint16(b)
	}
	buf := make([]byte, 0, len(tx)+2)
	buf = append(buf, tx...)
	buf = binary.BigEndian.AppendUint16(buf, sum)
	if _, err := m.port.Write(buf); err != nil {
		return opError("load", SerialFailure, err)
	}

	resp, err := m.readUntil(ctx, deadline, termOK, termError)
	if err != nil {
		return err
	}
	switch strings.TrimSpace(strings.TrimSuffix(resp, "OK\r\n")) {
	case "0":
		return nil
	case "1":
		return opError("load", ProtocolError, errors.New("write timeout"))
	case "2":
		return opError("load", ProtocolError, errors.New("checksum mismatch"))
	default:
		return opError("load", ProtocolError, fmt.Errorf("unexpected reply %q", resp))
	}
}

// readMT reads the MT buffer with AT+SBDRB: a 2-byte length, the payload,
// then a 2-byte checksum.
func (m *Modem) readMT(ctx context.Context, rx []byte, deadline time.Time) (int, error) {
	if err := m.write("AT+SBDRB\r"); err != nil {
		return 0, err
	}
	hdr, err := m.readExact(ctx, 2, deadline)
	if err != nil {
		return 0, err
	}
	size := int(binary.BigEndian.Uint16(hdr))
	body, err := m.readExact(ctx, size+2, deadline)
	if err != nil {
		return 0, err
	}
	if _, err := m.readUntil(ctx, deadline, termOK, termError); err != nil {
		return 0, err
	}

	payload := body[:size]
	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	if sum != binary.BigEndian.Uint16(body[size:]) {
		return 0, opError("read", ProtocolError, errors.New("MT checksum mismatch"))
	}
	if size > len(rx) {
		return 0, opError("read", RXOverflow, fmt.Errorf("%d byte message, %d byte buffer", size, len(rx)))
	}
	return copy(rx, payload), nil
}

func (m *Modem) command(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return m.commandUntil(ctx, cmd, m.clock.Now().Add(timeout))
}

// commandUntil sends cmd and returns everything the modem printed before OK.
func (m *Modem) commandUntil(ctx context.Context, cmd string, deadline time.Time) (string, error) {
	if err := m.write(cmd + "\r"); err != nil {
		return "", err
	}
	resp, err := m.readUntil(ctx, deadline, termOK, termError)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimSuffix(resp, "OK\r\n")), nil
}

func (m *Modem) write(s string) error {
	if _, err := m.port.Write([]byte(s)); err != nil {
		return opError("write", SerialFailure, err)
	}
	return nil
}

// readUntil accumulates input until one of terms appears and returns the text
// up to and including it. ERROR is reported as a protocol error.
func (m *Modem) readUntil(ctx context.Context, deadline time.Time, terms ...[]byte) (string, error) {
	for {
		for _, t := range terms {
			if i := bytes.Index(m.pending, t); i >= 0 {
				end := i + len(t)
				out := string(m.pending[:end])
				m.pending = append(m.pending[:0], m.pending[end:]...)
				if bytes.Equal(t, termError) {
					return out, opError("read", ProtocolError, errors.New("modem returned ERROR"))
				}
				return out, nil
			}
		}
		if err := m.fill(ctx, deadline); err != nil {
			return "", err
		}
	}
}

func (m *Modem) readExact(ctx context.Context, n int, deadline time.Time) ([]byte, error) {
	for len(m.pending) < n {
		if err := m.fill(ctx, deadline); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, m.pending)
	m.pending = append(m.pending[:0], m.pending[n:]...)
	return out, nil
}

// fill performs one bounded read, invoking the wait callback between reads.
func (m *Modem) fill(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return opError("read", Cancelled, err)
	}
	if m.clock.Now().After(deadline) {
		return opError("read", SendReceiveTimeout, nil)
	}
	if !m.callWait() {
		return opError("read", Cancelled, nil)
	}

	buf := make([]byte, 256)
	n, err := m.port.Read(buf)
	if err != nil {
		return opError("read", SerialFailure, err)
	}
	if n == 0 {
		return nil
	}
	m.pending = append(m.pending, buf[:n]...)
	if i := bytes.Index(m.pending, ringToken); i >= 0 {
		m.mu.Lock()
		m.ringAlert = true
		m.mu.Unlock()
		m.pending = append(m.pending[:i], m.pending[i+len(ringToken):]...)
	}
	return nil
}

// pause waits d while keeping the wait callback running.
func (m *Modem) pause(ctx context.Context, d time.Duration, deadline time.Time) bool {
	until := minTime(m.clock.Now().Add(d), deadline)
	for m.clock.Now().Before(until) {
		if ctx.Err() != nil || !m.callWait() {
			return false
		}
		m.clock.Sleep(readPoll)
	}
	return true
}

func (m *Modem) callWait() bool {
	m.mu.Lock()
	fn := m.wait
	m.mu.Unlock()
	return fn == nil || fn()
}

func (m *Modem) wrap(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Code: e.Code, Err: err}
	}
	return opError(op, ProtocolError, err)
}

type sbdixStatus struct {
	moStatus int
	momsn    int
	mtStatus int
	mtmsn    int
	mtLength int
	mtQueued int
}

// parseSBDIX parses "+SBDIX: <MO status>, <MOMSN>, <MT status>, <MTMSN>,
// <MT length>, <MT queued>".
func parseSBDIX(resp string) (sbdixStatus, error) {
	v, ok := field(resp, "+SBDIX:")
	if !ok {
		return sbdixStatus{}, fmt.Errorf("no +SBDIX in %q", resp)
	}
	parts := strings.Split(v, ",")
	if len(parts) != 6 {
		return sbdixStatus{}, fmt.Errorf("malformed +SBDIX %q", v)
	}
	var nums [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return sbdixStatus{}, fmt.Errorf("malformed +SBDIX %q: %w", v, err)
		}
		nums[i] = n
	}
	return sbdixStatus{nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]}, nil
}

// field returns the trimmed text following prefix on the line that starts
// with it.
func field(resp, prefix string) (string, bool) {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
