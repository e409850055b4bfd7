// Package telemetry holds the flight sample types, the two-slot aggregator
// that pairs them into outbound frames, and the typed events that flow over
// the WebSocket connection between blackboxd and its clients.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventLog       EventType = "log"
	EventColor     EventType = "color"
	EventDispatch  EventType = "dispatch"
	EventConfig    EventType = "config"
	EventSample    EventType = "sample"
	EventDistance  EventType = "distance"
	EventDaemon    EventType = "daemon"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
	Session   string    `json:"session,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return FormatTS(time.Now())
}

// FormatTS formats t the way every event timestamp is formatted.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent every second from the control loop so clients can detect
// that the loop is alive, not just the HTTP server.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the operating state changes
// (e.g. SEND_RECEIVE_CONFIG -> IN_FLIGHT).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ColorChange mirrors every transition of the status light.
type ColorChange struct {
	Event
	Color string `json:"color"`
	Hex   string `json:"hex"`
}

// Dispatch reports the outcome of one upload attempt.
type Dispatch struct {
	Event
	OK     bool   `json:"ok"`
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason,omitempty"`
}

// ConfigUpdate reports the negotiated upload settings after a handshake.
type ConfigUpdate struct {
	Event
	Configured       bool  `json:"configured"`
	UploadEnabled    bool  `json:"upload_enabled"`
	UploadIntervalMS int64 `json:"upload_interval_ms"`
	Accepted         bool  `json:"accepted"`
}

// SampleReceived is emitted for each sample offered to the aggregator when
// debug logging is on.
type SampleReceived struct {
	Event
	Kind    string `json:"kind"`
	Bytes   int    `json:"bytes"`
	Summary string `json:"summary"`
}

// DistanceMark is emitted each time the distance trigger fires.
type DistanceMark struct {
	Event
	ThresholdKm float64 `json:"threshold_km"`
}
