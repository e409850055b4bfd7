package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the numeric message identifier of a sample. The values are the
// MAVLink message ids of the two messages the device forwards.
type Kind uint32

const (
	KindAttitude Kind = 30
	KindPosition Kind = 33
)

func (k Kind) String() string {
	switch k {
	case KindAttitude:
		return "attitude"
	case KindPosition:
		return "position"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// ErrUnknownKind is returned when a sample is neither attitude nor position.
var ErrUnknownKind = errors.New("telemetry: unknown sample kind")

// Sample is one decoded telemetry message together with its wire encoding.
type Sample struct {
	Kind Kind
	// Encoded is the message exactly as it will be placed in a frame.
	Encoded []byte
	// Received is when the sample was read from the flight controller.
	Received time.Time
	// GroundSpeedKmh is the horizontal speed carried by position samples.
	GroundSpeedKmh float64
	// Summary is a short human-readable rendering for logs.
	Summary string
}

// Source yields decoded samples. Implementations deliver samples on the
// channel returned by Samples until Close is called.
type Source interface {
	Samples() <-chan Sample
	// RequestStreams asks the flight controller to stream attitude and
	// position messages.
	RequestStreams() error
	// RequestPosition asks for a single position message.
	RequestPosition() error
	Close() error
}
