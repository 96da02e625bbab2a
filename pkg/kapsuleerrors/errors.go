// Package kapsuleerrors defines the closed error taxonomy shared by every
// layer of the daemon, from the Incus backend client up to the exported
// D-Bus methods.
package kapsuleerrors

import "github.com/pkg/errors"

// Kind identifies the class of failure. The set is closed: callers should
// switch exhaustively or fall back to Internal.
type Kind int

const (
	// Unknown is the zero value. No constructor in this package produces
	// it; it stands for errors that carry no Kind, such as errors from
	// outside this package.
	Unknown Kind = iota
	// ContainerNotFound means the target container does not exist.
	ContainerNotFound
	// ContainerAlreadyExists means create was requested for an extant name.
	ContainerAlreadyExists
	// ContainerRunning means delete without force was requested on a
	// running container.
	ContainerRunning
	// ContainerInvalidState means the requested state transition is not
	// allowed from the container's current state.
	ContainerInvalidState
	// BackendError means the Incus API answered with a non-success
	// envelope.
	BackendError
	// BackendUnavailable means the Incus socket could not be reached or
	// retries were exhausted.
	BackendUnavailable
	// Timeout means a bounded wait exceeded its ceiling.
	Timeout
	// UnknownCaller means the bus caller's identity could not be resolved.
	UnknownCaller
	// CallerGone means the caller process exited before resolution
	// completed.
	CallerGone
	// InvalidArgument means a method argument failed validation.
	InvalidArgument
	// Cancelled means operation cancellation was observed.
	Cancelled
	// Internal means a bug or invariant violation. It is surfaced to the
	// caller like any other kind; nothing in the daemon logs it at a level
	// of its own.
	Internal
)

func (k Kind) String() string {
	switch k {
	case ContainerNotFound:
		return "ContainerNotFound"
	case ContainerAlreadyExists:
		return "ContainerAlreadyExists"
	case ContainerRunning:
		return "ContainerRunning"
	case ContainerInvalidState:
		return "ContainerInvalidState"
	case BackendError:
		return "BackendError"
	case BackendUnavailable:
		return "BackendUnavailable"
	case Timeout:
		return "Timeout"
	case UnknownCaller:
		return "UnknownCaller"
	case CallerGone:
		return "CallerGone"
	case InvalidArgument:
		return "InvalidArgument"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the daemon. BackendError
// additionally carries the Incus HTTP status code.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStatus attaches a backend HTTP status code to a BackendError.
func WithStatus(cause error, status int, message string) *Error {
	return &Error{Kind: BackendError, Message: message, StatusCode: status, Cause: cause}
}

// Is reports whether err carries the given Kind. Mirrors compose-v2's
// Is*Error sentinel-check helpers, generalized to the closed Kind enum.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a ContainerNotFound error.
func IsNotFound(err error) bool { return Is(err, ContainerNotFound) }

// IsAlreadyExists reports whether err is a ContainerAlreadyExists error.
func IsAlreadyExists(err error) bool { return Is(err, ContainerAlreadyExists) }

// IsRunning reports whether err is a ContainerRunning error.
func IsRunning(err error) bool { return Is(err, ContainerRunning) }

// IsCancelled reports whether err is a Cancelled error.
func IsCancelled(err error) bool { return Is(err, Cancelled) }

// IsTimeout reports whether err is a Timeout error.
func IsTimeout(err error) bool { return Is(err, Timeout) }
