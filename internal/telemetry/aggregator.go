package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TimestampSize is the length of the capture timestamp that trails a frame.
const TimestampSize = 4

// ErrFrameTooLarge is returned by Frame.PutInto when dst is too short.
var ErrFrameTooLarge = errors.New("telemetry: frame does not fit buffer")

// Frame is one outbound unit: attitude bytes, position bytes, then the
// capture time as a little-endian uint32 of unix seconds.
type Frame struct {
	Attitude  []byte
	Position  []byte
	Timestamp uint32
}

// Len is the encoded length of the frame.
func (f Frame) Len() int {
	return len(f.Attitude) + len(f.Position) + TimestampSize
}

// PutInto writes the encoded frame to the front of dst and returns the number
// of bytes written. dst is left untouched when it is too short.
func (f Frame) PutInto(dst []byte) (int, error) {
	n := f.Len()
	if n > len(dst) {
		return 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, len(dst))
	}
	off := copy(dst, f.Attitude)
	off += copy(dst[off:], f.Position)
	binary.LittleEndian.PutUint32(dst[off:], f.Timestamp)
	return n, nil
}

// Bytes returns a freshly allocated encoding of the frame.
func (f Frame) Bytes() []byte {
	b := make([]byte, f.Len())
	_, _ = f.PutInto(b)
	return b
}

type slot struct {
	sample Sample
	filled bool
}

// Aggregator holds at most one pending sample per kind. A newer sample of
// the same kind replaces the pending one.
type Aggregator struct {
	attitude slot
	position slot
}

// Offer stores s in the slot for its kind.
func (a *Aggregator) Offer(s Sample) error {
	switch s.Kind {
	case KindAttitude:
		a.attitude = slot{sample: s, filled: true}
	case KindPosition:
		a.position = slot{sample: s, filled: true}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, s.Kind)
	}
	return nil
}

// TryCombine builds a frame stamped with ts when both slots are filled and
// empties them. Otherwise it returns false and leaves both slots as they are.
func (a *Aggregator) TryCombine(ts uint32) (Frame, bool) {
	if !a.attitude.filled || !a.position.filled {
		return Frame{}, false
	}
	f := Frame{
		Attitude:  a.attitude.sample.Encoded,
		Position:  a.position.sample.Encoded,
		Timestamp: ts,
	}
	a.attitude = slot{}
	a.position = slot{}
	return f, true
}

// Pending reports which slots currently hold a sample.
func (a *Aggregator) Pending() (attitude, position bool) {
	return a.attitude.filled, a.position.filled
}

// Latest returns the pending sample of kind k, if any.
func (a *Aggregator) Latest(k Kind) (Sample, bool) {
	switch k {
	case KindAttitude:
		return a.attitude.sample, a.attitude.filled
	case KindPosition:
		return a.position.sample, a.position.filled
	}
	return Sample{}, false
}
