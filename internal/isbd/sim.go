package isbd

import (
	"context"
	"io"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/blackbox/internal/clock"
)

// SimOptions script the simulated ground server.
type SimOptions struct {
	// ConfigReply is queued for the device once RingAfter has elapsed since
	// the bootup message.
	ConfigReply string
	RingAfter   time.Duration
	// FailureRate is the probability that a session fails.
	FailureRate float64
	// Latency is how long a session takes.
	Latency time.Duration
	// Signal returns the signal strength at a time. Nil means a constant
	// four bars.
	Signal func(time.Time) int
	Seed   uint64
	Clock  clock.Clock
	Log    *log.Logger
}

// Sim is an in-process stand-in for the modem and the ground server. It
// accepts bootup and config messages, queues a configuration reply after a
// delay, asserts ring when a reply is waiting, and randomly fails sessions.
type Sim struct {
	opts  SimOptions
	clock clock.Clock
	log   *log.Logger

	mu       sync.Mutex
	rnd      *rand.Rand
	wait     WaitFunc
	bootedAt time.Time
	queue    [][]byte
	ring     bool
	sent     [][]byte
	sessions int
	failures int
}

// NewSim returns a simulator with the given script.
func NewSim(opts SimOptions) *Sim {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	return &Sim{
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Log,
		rnd:   rand.New(rand.NewPCG(opts.Seed, 0x5bd1e995)),
	}
}

// SetWaitFunc installs fn to be called while a session is in progress.
func (s *Sim) SetWaitFunc(fn WaitFunc) {
	s.mu.Lock()
	s.wait = fn
	s.mu.Unlock()
}

// Queue places an inbound message in the MT queue and raises ring.
func (s *Sim) Queue(msg string) {
	s.mu.Lock()
	s.queue = append(s.queue, []byte(msg))
	s.ring = true
	s.mu.Unlock()
}

func (s *Sim) SendReceiveBinary(ctx context.Context, tx, rx []byte) (int, error) {
	if len(tx) > MaxMO {
		return 0, opError("send binary", MessageTooLong, nil)
	}
	return s.session(ctx, "send binary", tx, rx)
}

func (s *Sim) SendReceiveText(ctx context.Context, tx string, rx []byte) (int, error) {
	if len(tx) > MaxMO {
		return 0, opError("send text", MessageTooLong, nil)
	}
	return s.session(ctx, "send text", []byte(tx), rx)
}

func (s *Sim) session(ctx context.Context, op string, tx, rx []byte) (int, error) {
	if err := s.linger(ctx); err != nil {
		return 0, opError(op, Cancelled, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	s.promote()

	if s.signalLocked() == 0 {
		s.failures++
		return 0, opError(op, NoNetwork, nil)
	}
	if s.rnd.Float64() < s.opts.FailureRate {
		s.failures++
		return 0, opError(op, SendReceiveTimeout, nil)
	}

	s.sent = append(s.sent, append([]byte(nil), tx...))
	if strings.HasPrefix(string(tx), "bootup,") && s.bootedAt.IsZero() {
		s.bootedAt = s.clock.Now()
	}

	if len(s.queue) == 0 {
		return 0, nil
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	if len(msg) > len(rx) {
		return 0, opError(op, RXOverflow, nil)
	}
	return copy(rx, msg), nil
}

// linger simulates session latency while keeping the wait callback running.
func (s *Sim) linger(ctx context.Context) error {
	s.mu.Lock()
	fn := s.wait
	s.mu.Unlock()

	until := s.clock.Now().Add(s.opts.Latency)
	for s.clock.Now().Before(until) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if fn != nil && !fn() {
			return context.Canceled
		}
		s.clock.Sleep(readPoll)
	}
	return nil
}

// promote queues the scripted configuration reply once it is due.
func (s *Sim) promote() {
	if s.opts.ConfigReply == "" || s.bootedAt.IsZero() {
		return
	}
	if s.clock.Now().Sub(s.bootedAt) < s.opts.RingAfter {
		return
	}
	s.queue = append(s.queue, []byte(s.opts.ConfigReply))
	s.ring = true
	s.opts.ConfigReply = ""
	s.log.Printf("isbd: sim queued configuration reply")
}

// RingAsserted reports and clears the simulated ring.
func (s *Sim) RingAsserted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promote()
	r := s.ring
	s.ring = false
	return r
}

// RingLine reports the simulated ring without clearing it.
func (s *Sim) RingLine() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promote()
	return s.ring, nil
}

func (s *Sim) WaitingMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sim) SystemTime() (time.Time, error) {
	return s.clock.Now().UTC().Truncate(tick), nil
}

func (s *Sim) SignalQuality() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalLocked(), nil
}

func (s *Sim) signalLocked() int {
	if s.opts.Signal == nil {
		return 4
	}
	return barsFromCSQ(s.opts.Signal(s.clock.Now()))
}

// Sent returns every message the ground server received.
func (s *Sim) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Stats returns the session and failure counts.
func (s *Sim) Stats() (sessions, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions, s.failures
}
