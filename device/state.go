package device

// State is the lifecycle state of a device record.  Devices move through a
// fixed state machine; the registry rejects any transition not present in
// validTransitions.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRegistered
	StateActive
	StateDisconnecting
	StateClosed
	StateError

	invalidStateString = "!!INVALID DEVICE STATE!!"
)

var validTransitions = map[State][]State{
	StateConnecting:     {StateAuthenticating, StateError, StateClosed},
	StateAuthenticating: {StateRegistered, StateError, StateClosed},
	StateRegistered:     {StateActive, StateDisconnecting, StateError},
	StateActive:         {StateDisconnecting, StateError, StateRegistered},
	StateDisconnecting:  {StateClosed},
	StateError:          {StateConnecting, StateClosed, StateActive},
	StateClosed:         {},
}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateRegistered:
		return "REGISTERED"
	case StateActive:
		return "ACTIVE"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return invalidStateString
	}
}

// CanTransition tests whether the edge from this state to next is permitted.
func (s State) CanTransition(next State) bool {
	for _, candidate := range validTransitions[s] {
		if candidate == next {
			return true
		}
	}

	return false
}

// Routable tests whether a device in this state accepts CDP routing.
// Only ACTIVE devices do.
func (s State) Routable() bool {
	return s == StateActive
}
