package device

import (
	"fmt"
)

// ErrorClass partitions relay errors into the broad categories used for
// logging and for deciding recoverability.
type ErrorClass string

const (
	ClassNetwork  ErrorClass = "network"
	ClassProtocol ErrorClass = "protocol"
	ClassState    ErrorClass = "state"
	ClassResource ErrorClass = "resource"
	ClassTimeout  ErrorClass = "timeout"
	ClassBusiness ErrorClass = "business"
)

// Error codes surfaced to CDP clients in "<CODE>: <text>" form.
const (
	CodeDeviceNotFound           = "DEVICE_NOT_FOUND"
	CodeDeviceNotActive          = "DEVICE_NOT_ACTIVE"
	CodeDeviceUnavailable        = "DEVICE_UNAVAILABLE"
	CodeInvalidRegistrationState = "INVALID_REGISTRATION_STATE"
	CodeInvalidStateTransition   = "INVALID_STATE_TRANSITION"
	CodeQueueFull                = "QUEUE_FULL"
	CodeLockTimeout              = "LOCK_TIMEOUT"
	CodeMessageTimeout           = "MESSAGE_TIMEOUT"
	CodeMaxRetriesExceeded       = "MAX_RETRIES_EXCEEDED"
	CodeValidationFailed         = "CAPABILITY_VALIDATION_FAILED"
)

// Error carries the relay's error metadata: the taxonomy class, the stable
// code surfaced to clients, and whether the condition is recoverable.
type Error struct {
	Class       ErrorClass `json:"type"`
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	ID          ID         `json:"deviceId,omitempty"`
	Recoverable bool       `json:"recoverable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDeviceNotFoundError(id ID) *Error {
	return &Error{
		Class:   ClassState,
		Code:    CodeDeviceNotFound,
		Message: fmt.Sprintf("no device exists with id [%s]", id),
		ID:      id,
	}
}

func NewDeviceNotActiveError(id ID, state State) *Error {
	return &Error{
		Class:       ClassState,
		Code:        CodeDeviceNotActive,
		Message:     fmt.Sprintf("device [%s] is %s", id, state),
		ID:          id,
		Recoverable: true,
	}
}

func NewDeviceUnavailableError(id ID) *Error {
	return &Error{
		Class:       ClassNetwork,
		Code:        CodeDeviceUnavailable,
		Message:     fmt.Sprintf("device [%s] is no longer reachable", id),
		ID:          id,
		Recoverable: true,
	}
}

func NewInvalidRegistrationStateError(id ID, state State) *Error {
	return &Error{
		Class:   ClassState,
		Code:    CodeInvalidRegistrationState,
		Message: fmt.Sprintf("device [%s] cannot register while %s", id, state),
		ID:      id,
	}
}

func NewInvalidStateTransitionError(id ID, from, to State) *Error {
	return &Error{
		Class:   ClassState,
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("device [%s] cannot move from %s to %s", id, from, to),
		ID:      id,
	}
}

func NewLockTimeoutError(id ID) *Error {
	return &Error{
		Class:       ClassResource,
		Code:        CodeLockTimeout,
		Message:     fmt.Sprintf("could not lock device [%s]", id),
		ID:          id,
		Recoverable: true,
	}
}

func NewQueueFullError(id ID, size int) *Error {
	return &Error{
		Class:       ClassResource,
		Code:        CodeQueueFull,
		Message:     fmt.Sprintf("device [%s] queue is at capacity (%d)", id, size),
		ID:          id,
		Recoverable: true,
	}
}

func NewMessageTimeoutError(id ID, method string) *Error {
	return &Error{
		Class:       ClassTimeout,
		Code:        CodeMessageTimeout,
		Message:     fmt.Sprintf("no response for %s from device [%s]", method, id),
		ID:          id,
		Recoverable: true,
	}
}

func NewMaxRetriesExceededError(id ID, method string) *Error {
	return &Error{
		Class:   ClassTimeout,
		Code:    CodeMaxRetriesExceeded,
		Message: fmt.Sprintf("gave up retrying %s against device [%s]", method, id),
		ID:      id,
	}
}

func NewValidationError(id ID, text string) *Error {
	return &Error{
		Class:   ClassBusiness,
		Code:    CodeValidationFailed,
		Message: text,
		ID:      id,
	}
}
