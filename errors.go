package arbiter

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConnection reports a device that is absent, refused, or went away
	// while the operation was in flight.
	ErrConnection = errors.New("connection error")
	// ErrTimeout reports a deadline that elapsed before the operation completed.
	ErrTimeout = errors.New("timeout")
	// ErrCanceled reports an operation abandoned because the arbiter was closed.
	ErrCanceled = errors.New("operation canceled")
	// ErrMalformed reports received bytes that are not the requested unit type.
	ErrMalformed = errors.New("malformed data")
	// ErrInvalidConfig reports a PortConfig that cannot be opened as given.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Causes reported inside an OpError. ErrNotOpen comes with ErrConnection,
// ErrClosed with ErrCanceled.
var (
	ErrNotOpen = errors.New("arbiter not open")
	ErrClosed  = errors.New("arbiter closed")
)

// OpError describes a failed arbiter operation.
type OpError struct {
	Op     string // "open", "transmit", "receive", ...
	Device string
	Kind   error // one of ErrConnection, ErrTimeout, ErrCanceled, ErrMalformed
	Err    error // underlying cause, may be nil
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Device != "" {
		s += " " + e.Device
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() error { return e.Err }

// Is matches the error kind; the cause is reached through Unwrap.
func (e *OpError) Is(target error) bool { return target == e.Kind }

// Timeout reports whether the error is a deadline expiry.
func (e *OpError) Timeout() bool { return e.Kind == ErrTimeout }

func opError(op, device string, kind, cause error) error {
	return &OpError{Op: op, Device: device, Kind: kind, Err: cause}
}

// connError wraps a transport failure, keeping the cause reachable.
func connError(op, device string, cause error) error {
	if cause == nil {
		cause = errors.New("device disconnected")
	}
	return opError(op, device, ErrConnection, cause)
}

func timeoutError(op, device string, sent, total int) error {
	if total == 0 {
		return opError(op, device, ErrTimeout, nil)
	}
	return opError(op, device, ErrTimeout, fmt.Errorf("%d of %d bytes written", sent, total))
}
