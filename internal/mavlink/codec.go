// Package mavlink reads attitude and position telemetry from the flight
// controller and turns it into samples for the aggregator. Messages are kept
// in their MAVLink v2 wire encoding so frames can be decoded on the ground
// with any MAVLink tooling.
package mavlink

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/large-farva/blackbox/internal/telemetry"
)

// Codec encodes decoded messages back into MAVLink v2 frames. It is not safe
// for concurrent use.
type Codec struct {
	buf bytes.Buffer
	w   *frame.Writer
}

// NewCodec returns a codec that stamps frames with the given ids.
func NewCodec(systemID, componentID byte) (*Codec, error) {
	drw, err := dialect.NewReadWriter(common.Dialect)
	if err != nil {
		return nil, fmt.Errorf("mavlink: dialect: %w", err)
	}
	c := &Codec{}
	c.w, err = frame.NewWriter(frame.WriterConf{
		Writer:         &c.buf,
		DialectRW:      drw,
		OutVersion:     frame.V2,
		OutSystemID:    systemID,
		OutComponentID: componentID,
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: writer: %w", err)
	}
	return c, nil
}

// Encode returns the wire encoding of msg.
func (c *Codec) Encode(msg message.Message) ([]byte, error) {
	c.buf.Reset()
	if err := c.w.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("mavlink: encode %T: %w", msg, err)
	}
	return bytes.Clone(c.buf.Bytes()), nil
}

// Sample converts msg into a telemetry sample. Messages other than ATTITUDE
// and GLOBAL_POSITION_INT are ignored.
func (c *Codec) Sample(msg message.Message, received time.Time) (telemetry.Sample, bool, error) {
	var s telemetry.Sample
	switch m := msg.(type) {
	case *common.MessageAttitude:
		s = telemetry.Sample{
			Kind: telemetry.KindAttitude,
			Summary: fmt.Sprintf("roll=%.1f° pitch=%.1f° yaw=%.1f°",
				degrees(m.Roll), degrees(m.Pitch), degrees(m.Yaw)),
		}
	case *common.MessageGlobalPositionInt:
		s = telemetry.Sample{
			Kind:           telemetry.KindPosition,
			GroundSpeedKmh: GroundSpeedKmh(m),
			Summary: fmt.Sprintf("lat=%.6f lon=%.6f alt=%.1fm rel=%.1fm hdg=%.1f°",
				float64(m.Lat)/1e7, float64(m.Lon)/1e7,
				float64(m.Alt)/1000, float64(m.RelativeAlt)/1000, float64(m.Hdg)/100),
		}
	default:
		return telemetry.Sample{}, false, nil
	}

	b, err := c.Encode(msg)
	if err != nil {
		return telemetry.Sample{}, false, err
	}
	s.Encoded = b
	s.Received = received
	return s, true, nil
}

// GroundSpeedKmh is the horizontal speed of a position message. Velocities
// are reported in cm/s.
func GroundSpeedKmh(m *common.MessageGlobalPositionInt) float64 {
	cms := math.Hypot(float64(m.Vx), float64(m.Vy))
	return cms * 0.036
}

func degrees(rad float32) float64 {
	return float64(rad) * 180 / math.Pi
}
