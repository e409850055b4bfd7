package indicator

// State is the device operating phase shown on the light.
type State int

const (
	StartDelay State = iota
	InFlight
	WaitingForGpsLock
	SendingBootupMessage
	SendReceiveConfig
	ReadyForTakeoff
	SendingTelemetry
	ConfigTimeout
	InFlightDefault
	InFlightNoUpload
	InFlightSbdFailed
	InFlightSbdSuccess
	NoGpsFix

	numStates
)

var stateNames = [numStates]string{
	StartDelay:           "START_DELAY",
	InFlight:             "IN_FLIGHT",
	WaitingForGpsLock:    "WAITING_FOR_GPS_LOCK",
	SendingBootupMessage: "SENDING_BOOTUP_MESSAGE",
	SendReceiveConfig:    "SEND_RECEIVE_CONFIG",
	ReadyForTakeoff:      "READY_FOR_TAKEOFF",
	SendingTelemetry:     "SENDING_TELEMETRY",
	ConfigTimeout:        "CONFIG_TIMEOUT",
	InFlightDefault:      "IN_FLIGHT_DEFAULT",
	InFlightNoUpload:     "IN_FLIGHT_NO_UPLOAD",
	InFlightSbdFailed:    "IN_FLIGHT_SBD_FAILED",
	InFlightSbdSuccess:   "IN_FLIGHT_SBD_SUCCESS",
	NoGpsFix:             "NO_GPS_FIX",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool { return s >= 0 && s < numStates }

// States returns every state in declaration order.
func States() []State {
	out := make([]State, numStates)
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// InFlightState reports whether s is one of the steady-state sub-states or
// a transient shown during steady state.
func (s State) InFlightState() bool {
	switch s {
	case InFlight, InFlightDefault, InFlightNoUpload, InFlightSbdFailed, InFlightSbdSuccess, NoGpsFix, SendingTelemetry:
		return true
	}
	return false
}
