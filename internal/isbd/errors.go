package isbd

import (
	"errors"
	"fmt"
)

// Code is a short-burst-data session result code.
type Code int

const (
	Success Code = iota
	AlreadyAwake
	SerialFailure
	ProtocolError
	Cancelled
	NoModemDetected
	SBDIXFatal
	SendReceiveTimeout
	RXOverflow
	Reentrant
	IsAsleep
	NoSleepPin
	NoNetwork
	MessageTooLong
)

var codeNames = map[Code]string{
	Success:            "success",
	AlreadyAwake:       "already awake",
	SerialFailure:      "serial failure",
	ProtocolError:      "protocol error",
	Cancelled:          "cancelled",
	NoModemDetected:    "no modem detected",
	SBDIXFatal:         "SBDIX fatal error",
	SendReceiveTimeout: "send/receive timeout",
	RXOverflow:         "receive buffer overflow",
	Reentrant:          "reentrant call",
	IsAsleep:           "modem asleep",
	NoSleepPin:         "no sleep pin",
	NoNetwork:          "no network service",
	MessageTooLong:     "message too long",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code %d", int(c))
}

// Error is a failed modem operation.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("isbd: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("isbd: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the session code from err, or Success when err is nil.
// Errors that did not come from the modem report ProtocolError.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ProtocolError
}

func opError(op string, code Code, err error) error {
	return &Error{Op: op, Code: code, Err: err}
}
