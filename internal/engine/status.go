package engine

import (
	"errors"
	"fmt"
)

// Status classifies why an engine call failed.
type Status int

// Status values returned by engine calls.
const (
	Success Status = iota
	Uninitialized
	InvalidParameter
	InvalidState
	UnsupportedParameter
	UnsupportedHardware
	OutOfMemory
	ReallocationRequired
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Uninitialized:
		return "uninitialized"
	case InvalidParameter:
		return "invalid parameter"
	case InvalidState:
		return "invalid state"
	case UnsupportedParameter:
		return "unsupported parameter"
	case UnsupportedHardware:
		return "unsupported hardware"
	case OutOfMemory:
		return "out of memory"
	case ReallocationRequired:
		return "reallocation required"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Error implements error so a Status can be used as an errors.Is target.
func (s Status) Error() string {
	return s.String()
}

// Error is returned by every failing engine call.
type Error struct {
	Op     string // Engine call that failed, e.g. "define_fully_connected".
	Status Status
	Detail string
	Err    error // Underlying cause, if any.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed: %s: %s", e.Op, e.Status, e.Detail)
}

// Is reports whether target is the Status carried by e.
func (e *Error) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusOf extracts the Status from err. A nil error is Success and an
// error that did not come from the engine is InvalidParameter.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return InvalidParameter
}

// OpOf returns the failing engine call recorded in err, or "" if err did not come from the engine.
func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

func newError(op string, status Status, format string, args ...any) *Error {
	return &Error{
		Op:     op,
		Status: status,
		Detail: fmt.Sprintf(format, args...),
	}
}

func wrapError(op string, status Status, err error) *Error {
	return &Error{
		Op:     op,
		Status: status,
		Detail: err.Error(),
		Err:    err,
	}
}
