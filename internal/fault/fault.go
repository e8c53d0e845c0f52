// Package fault defines the error kinds callers can distinguish across the
// quality engine: validation, conflict, forbidden, invalid_state,
// invalid_version, approved_content, cap_exceeded, timeout, unavailable,
// internal. Storage constraint races surface as conflict; invariant
// violations inside the core surface as internal and are never worked
// around silently.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies an error class a caller can branch on.
type Kind string

const (
	Validation      Kind = "validation"
	Conflict        Kind = "conflict"
	Forbidden       Kind = "forbidden"
	InvalidState    Kind = "invalid_state"
	InvalidVersion  Kind = "invalid_version"
	ApprovedContent Kind = "approved_content"
	CapExceeded     Kind = "cap_exceeded"
	Timeout         Kind = "timeout"
	Unavailable     Kind = "unavailable"
	Internal        Kind = "internal"
)

// Error wraps an underlying error with a kind and a caller-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or empty when err carries no fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
