// Package errs defines the typed error kinds shared across the agent's
// components so that HTTP handlers, the mixing loop, and the relayer queue
// can branch on failure class without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the rest of the system needs to react
// to it; see spec section 7 for the propagation policy tied to each kind.
type Kind int

const (
	// Other is the zero value: an error with no particular handling policy.
	Other Kind = iota
	BadInput
	NotFound
	Conflict
	IoTimeout
	IoNetwork
	IoDisk
	ChainUnavailable
	ChainRejected
	Capacity
	Integrity
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "BadInput"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case IoTimeout:
		return "IoError(Timeout)"
	case IoNetwork:
		return "IoError(Network)"
	case IoDisk:
		return "IoError(Disk)"
	case ChainUnavailable:
		return "ChainUnavailable"
	case ChainRejected:
		return "ChainRejected"
	case Capacity:
		return "Capacity"
	case Integrity:
		return "Integrity"
	default:
		return "Error"
	}
}

// Error is the concrete error type produced by Wrap. Op names the
// operation that failed (e.g. "depositbook.add"); Reason carries
// additional detail for ChainRejected per spec.md's {reason} payload.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Reason, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap adds context to err, tagging it with kind. It returns nil if err is
// nil, matching the teacher's pkg/utils.Wrap convention.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapReason is Wrap plus a structured reason, used for ChainRejected.
func WrapReason(kind Kind, op, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// New creates a bare typed error with no wrapped cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, returning Other if err isn't (or doesn't
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}
