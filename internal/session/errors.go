package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a controller
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrorKind classifies session failures
type ErrorKind int

const (
	AcquisitionFailure     ErrorKind = iota + 1 // A device or the transport could not be obtained
	TransportError                              // The remote connection failed while active
	InvalidStateTransition                      // An operation was requested in the wrong state
)

func (k ErrorKind) String() string {
	switch k {
	case AcquisitionFailure:
		return "acquisition_failure"
	case TransportError:
		return "transport_error"
	case InvalidStateTransition:
		return "invalid_state_transition"
	default:
		return "unknown"
	}
}

var (
	errStoppedDuringStart = errors.New("session stopped during start")
	errRemoteClosed       = errors.New("remote closed the session")
)

// Error is a session-level failure
type Error struct {
	Kind ErrorKind
	Op   string // resource or step that failed, e.g. "microphone"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns a short message fit for display
func (e *Error) UserMessage() string {
	switch e.Kind {
	case AcquisitionFailure:
		return fmt.Sprintf("Could not start the session: %s unavailable.", e.Op)
	case TransportError:
		return "Connection to the voice service was lost."
	case InvalidStateTransition:
		return "The session is busy, try again."
	default:
		return "Something went wrong."
	}
}
