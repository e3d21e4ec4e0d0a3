package device

// EventType is the type of device-related event
type EventType uint8

const (
	// Register fires when a device record is installed in the registry.
	Register EventType = iota

	// StateChanged fires on every accepted state transition.
	StateChanged

	// Unregister fires when a device record is removed from the registry,
	// whether administratively, on disconnect, or by the stale sweep.
	Unregister

	// Conflict fires when a second registration evicts an existing record
	// under the same id.  The event's Device is the evicted record.
	Conflict

	InvalidEventString string = "!!INVALID DEVICE EVENT TYPE!!"
)

func (et EventType) String() string {
	switch et {
	case Register:
		return "Register"
	case StateChanged:
		return "StateChanged"
	case Unregister:
		return "Unregister"
	case Conflict:
		return "Conflict"
	default:
		return InvalidEventString
	}
}

// Event represents a single occurrence of interest for registry observers.
// Instances should be considered immutable by application code and must not
// be stored across calls to a listener.
type Event struct {
	// Type describes the kind of this event.  This field is always set.
	Type EventType

	// Device refers to the device, possibly closed, for which this event is
	// being dispatched.  This field is always set.
	Device *Device

	// OldState and NewState are only meaningful for StateChanged events.
	OldState State
	NewState State
}

// Listener is an event sink.  Listeners are invoked synchronously on the
// goroutine performing the registry mutation and must not block.
type Listener func(*Event)
