package uplink

import "errors"

var (
	// ErrOversizeFrame means a frame exceeded the configured maximum and was
	// dropped without being transmitted.
	ErrOversizeFrame = errors.New("uplink: frame exceeds maximum size")
	// ErrIncompleteFrame means an upload was due but a sample kind was
	// missing.
	ErrIncompleteFrame = errors.New("uplink: frame incomplete")
	// ErrTransport means the modem failed after its own retries.
	ErrTransport = errors.New("uplink: transport failed")
	// ErrMalformedReply means a configuration reply could not be parsed.
	ErrMalformedReply = errors.New("uplink: malformed configuration reply")
)
