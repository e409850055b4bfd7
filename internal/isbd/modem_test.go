package isbd

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/large-farva/blackbox/internal/clock"
)

// fakePort plays the modem side of the AT dialogue.
type fakePort struct {
	mu       sync.Mutex
	out      bytes.Buffer
	commands []string
	loaded   []byte
	binary   int
	sbdix    []string
	mt       []byte
	ri       bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.binary > 0 {
		f.loaded = append([]byte(nil), p[:len(p)-2]...)
		f.binary = 0
		f.out.WriteString("0\r\n\r\nOK\r\n")
		return len(p), nil
	}

	cmd := strings.TrimSuffix(string(p), "\r")
	f.commands = append(f.commands, cmd)
	switch {
	case strings.HasPrefix(cmd, "AT+SBDWB="):
		n, _ := strconv.Atoi(strings.TrimPrefix(cmd, "AT+SBDWB="))
		f.binary = n + 2
		f.out.WriteString("READY\r\n")
	case cmd == "AT+SBDIX" || cmd == "AT+SBDIXA":
		reply := "+SBDIX: 0, 1, 0, 0, 0, 0"
		if len(f.sbdix) > 0 {
			reply, f.sbdix = f.sbdix[0], f.sbdix[1:]
		}
		f.out.WriteString(reply + "\r\n\r\nOK\r\n")
	case cmd == "AT+SBDRB":
		var sum uint16
		for _, b := range f.mt {
			sum += uint16(b)
		}
		f.out.Write(binary.BigEndian.AppendUint16(nil, uint16(len(f.mt))))
		f.out.Write(f.mt)
		f.out.Write(binary.BigEndian.AppendUint16(nil, sum))
		f.out.WriteString("\r\nOK\r\n")
	case cmd == "AT+CSQ":
		f.out.WriteString("\r\n+CSQ:4\r\n\r\nOK\r\n")
	case cmd == "AT-MSSTM":
		f.out.WriteString("\r\n-MSSTM: 0000000a\r\n\r\nOK\r\n")
	case cmd == "AT+BAD":
		f.out.WriteString("ERROR\r\n")
	default:
		f.out.WriteString("OK\r\n")
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, io.EOF
	}
	return f.out.Read(p)
}

func (f *fakePort) Close() error                       { return nil }
func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &serial.ModemStatusBits{RI: f.ri}, nil
}

func newTestModem(p *fakePort) (*Modem, *clock.Manual) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(p, Options{Attempts: 3, Backoff: time.Second, Clock: clk}), clk
}

func TestBeginConfiguresModem(t *testing.T) {
	p := &fakePort{}
	m, _ := newTestModem(p)

	if err := m.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	want := []string{"AT", "ATE0", "AT&D0", "AT&K0", "AT+SBDMTA=1"}
	if strings.Join(p.commands, "|") != strings.Join(want, "|") {
		t.Fatalf("commands = %v", p.commands)
	}
}

func TestSendReceiveBinaryLoadsAndReadsMT(t *testing.T) {
	p := &fakePort{
		sbdix: []string{"+SBDIX: 0, 12, 1, 3, 5, 2"},
		mt:    []byte("1,30,"),
	}
	m, _ := newTestModem(p)

	rx := make([]byte, MaxMT)
	n, err := m.SendReceiveBinary(context.Background(), []byte{1, 2, 3}, rx)
	if err != nil {
		t.Fatalf("SendReceiveBinary: %v", err)
	}
	if string(rx[:n]) != "1,30," {
		t.Fatalf("rx = %q", rx[:n])
	}
	if !bytes.Equal(p.loaded, []byte{1, 2, 3}) {
		t.Fatalf("loaded = %v", p.loaded)
	}
	if m.WaitingMessages() != 2 {
		t.Fatalf("waiting = %d, want 2", m.WaitingMessages())
	}
}

func TestSendReceiveRetriesFailedSessions(t *testing.T) {
	p := &fakePort{sbdix: []string{
		"+SBDIX: 32, 1, 0, 0, 0, 0",
		"+SBDIX: 1, 2, 0, 0, 0, 0",
	}}
	m, clk := newTestModem(p)
	start := clk.Now()

	waits := 0
	m.SetWaitFunc(func() bool { waits++; return true })

	n, err := m.SendReceiveText(context.Background(), "bootup,", make([]byte, 8))
	if err != nil || n != 0 {
		t.Fatalf("SendReceiveText = %d, %v", n, err)
	}
	if clk.Now().Sub(start) < time.Second {
		t.Fatal("expected a backoff between sessions")
	}
	if waits == 0 {
		t.Fatal("wait callback never ran")
	}
	if p.commands[0] != "AT+SBDWT=bootup," {
		t.Fatalf("first command %q", p.commands[0])
	}
}

func TestSendReceiveGivesUpAfterAttempts(t *testing.T) {
	p := &fakePort{sbdix: []string{
		"+SBDIX: 32, 1, 0, 0, 0, 0",
		"+SBDIX: 32, 1, 0, 0, 0, 0",
		"+SBDIX: 32, 1, 0, 0, 0, 0",
	}}
	m, _ := newTestModem(p)

	_, err := m.SendReceiveBinary(context.Background(), []byte{9}, nil)
	if CodeOf(err) != SendReceiveTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

func TestSendReceiveRejectsOversize(t *testing.T) {
	m, _ := newTestModem(&fakePort{})
	_, err := m.SendReceiveBinary(context.Background(), make([]byte, MaxMO+1), nil)
	var e *Error
	if !errors.As(err, &e) || e.Code != MessageTooLong {
		t.Fatalf("expected MessageTooLong, got %v", err)
	}
}

func TestCommandErrorIsProtocolError(t *testing.T) {
	m, _ := newTestModem(&fakePort{})
	_, err := m.command(context.Background(), "AT+BAD", time.Second)
	if CodeOf(err) != ProtocolError {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	p := &fakePort{ri: true}
	m, _ := newTestModem(p)

	bars, err := m.SignalQuality()
	if err != nil || bars != 4 {
		t.Fatalf("SignalQuality = %d, %v", bars, err)
	}

	ts, err := m.SystemTime()
	if err != nil {
		t.Fatalf("SystemTime: %v", err)
	}
	if want := Epoch.Add(900 * time.Millisecond); !ts.Equal(want) {
		t.Fatalf("SystemTime = %s, want %s", ts, want)
	}

	if !m.RingAsserted() {
		t.Fatal("expected ring from RI line")
	}
}

func TestRingAlertAnsweredBySession(t *testing.T) {
	p := &fakePort{}
	p.out.WriteString("SBDRING\r\n")
	m, _ := newTestModem(p)

	if _, err := m.SignalQuality(); err != nil {
		t.Fatalf("SignalQuality: %v", err)
	}
	if !m.RingAsserted() || !m.RingAsserted() {
		t.Fatal("ring alert not latched until a session")
	}

	if _, err := m.SendReceiveText(context.Background(), "config,GPSFix=true,", make([]byte, MaxMT)); err != nil {
		t.Fatalf("SendReceiveText: %v", err)
	}
	if !slices.Contains(p.commands, "AT+SBDIXA") {
		t.Fatalf("ring not answered: %v", p.commands)
	}
	if m.RingAsserted() {
		t.Fatal("ring alert still latched after the answering session")
	}
}

func TestRingLineHeldCountsOnce(t *testing.T) {
	p := &fakePort{ri: true}
	m, _ := newTestModem(p)

	if !m.RingAsserted() {
		t.Fatal("ring line assertion missed")
	}
	if _, err := m.SendReceiveText(context.Background(), "config,GPSFix=true,", make([]byte, MaxMT)); err != nil {
		t.Fatalf("SendReceiveText: %v", err)
	}
	if m.RingAsserted() {
		t.Fatal("line held asserted raised a second alert")
	}

	p.mu.Lock()
	p.ri = false
	p.mu.Unlock()
	m.RingAsserted()
	p.mu.Lock()
	p.ri = true
	p.mu.Unlock()
	if !m.RingAsserted() {
		t.Fatal("new assertion missed")
	}
}

func TestParseSBDIX(t *testing.T) {
	st, err := parseSBDIX("+SBDIX: 2, 7, 1, 4, 11, 3")
	if err != nil {
		t.Fatalf("parseSBDIX: %v", err)
	}
	if st.moStatus != 2 || st.mtStatus != 1 || st.mtLength != 11 || st.mtQueued != 3 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := parseSBDIX("+SBDIX: 2, 7"); err == nil {
		t.Fatal("expected error for short reply")
	}
}
