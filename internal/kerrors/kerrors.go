// Package kerrors defines the typed result values returned across every
// kernel package boundary. Nothing in the core raises panics or sentinel
// string errors for control flow — the RPC layer maps a Kind to a JSON-RPC
// error code exactly once, in internal/rpc.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the RPC boundary and for callers that need to
// branch on failure category without parsing messages.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthorized    Kind = "unauthorized"
	SetupRequired   Kind = "setup-required"
	NotFound        Kind = "not-found"
	AmbiguousPrefix Kind = "ambiguous-id-prefix"
	Conflict        Kind = "conflict"
	DeliveryFailed  Kind = "delivery-failed"
	Internal        Kind = "internal"
)

// Error is the typed error value every kernel package returns.
type Error struct {
	Kind    Kind
	Message string
	Data    any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a structured payload (e.g. ambiguous-id candidate list,
// delivery-failure classification) surfaced verbatim in the RPC error's
// "data" field.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// Wrap annotates an Error with the underlying cause, preserved for %w-style
// unwrapping while keeping the typed Kind at the front of the chain.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// Of reports whether err (or any error it wraps) is a *kerrors.Error of kind.
func Of(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
