// Package domain holds the entity types and sentinel error taxonomy shared
// across the repository gateway, the deployment controller, the daemons, and
// the REST validators.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on failure category without
// string-matching messages.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInvalidInput         Kind = "invalid_input"
	KindWrongEnvironment     Kind = "wrong_environment"
	KindPromotionGateFailure Kind = "promotion_gate_failure"
	KindAmbiguousVersion     Kind = "ambiguous_target_version"
	KindNothingToAct         Kind = "nothing_to_act"
	KindInvariantViolation   Kind = "invariant_violation"
	KindConflict             Kind = "conflict"
	KindTransportFailure     Kind = "transport_failure"
	KindAuthorizationDenied  Kind = "authorization_denied"
	KindFatal                Kind = "fatal"
)

// Error is the taxonomy-tagged error type propagated by every core
// subsystem. Wrap an underlying cause with %w so errors.Unwrap keeps working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrNotFound is returned by gateway finders for "get one by unique key"
// lookups that fail to resolve any row.
var ErrNotFound = NewError(KindNotFound, "entity not found")
