package operations

import (
	"errors"
	"fmt"
)

// Kind classifies operation lifecycle errors so that transport layers can
// translate them into their own error representations
type Kind string

const (
	// KindNotFound means the operation id is unknown to the registry
	KindNotFound Kind = "not_found"
	// KindInvalidTransition means a lifecycle method was called from a
	// status that does not permit it
	KindInvalidTransition Kind = "invalid_transition"
	// KindNotReady means results were requested before the operation
	// reached a terminal status
	KindNotReady Kind = "not_ready"
	// KindConnectivity means the remote executor could not be reached
	// after exhausting retries
	KindConnectivity Kind = "connectivity"
)

// Error is the error type returned by the registry and the bridge
type Error struct {
	Kind    Kind
	Op      string // registry method that failed, e.g. "complete"
	ID      string // operation id, empty when not applicable
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "unknown operation error"
	}
	if e.ID != "" {
		return fmt.Sprintf("[%s] %s %s: %s", e.Kind, e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewNotFound creates a not-found error for the given operation id
func NewNotFound(op, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      op,
		ID:      id,
		Message: "operation not found",
	}
}

// NewInvalidTransition creates a state machine violation error
func NewInvalidTransition(op, id string, from Status, want ...Status) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Op:      op,
		ID:      id,
		Message: fmt.Sprintf("not permitted from status %q (requires %v)", from, want),
	}
}

// NewNotReady creates an error for reading results before termination
func NewNotReady(id string, status Status) *Error {
	return &Error{
		Kind:    KindNotReady,
		Op:      "results",
		ID:      id,
		Message: fmt.Sprintf("operation still %s, results not available", status),
	}
}

// NewConnectivity creates an executor connectivity error
func NewConnectivity(id string, cause error) *Error {
	return &Error{
		Kind:    KindConnectivity,
		Op:      "bridge",
		ID:      id,
		Message: "remote executor unreachable",
		Cause:   cause,
	}
}

// KindOf returns the kind of err, or "" for non-operation errors
func KindOf(err error) Kind {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalidTransition reports whether err is a state machine violation
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }

// IsNotReady reports whether err is a premature results read
func IsNotReady(err error) bool { return KindOf(err) == KindNotReady }

// IsConnectivity reports whether err is an executor connectivity failure
func IsConnectivity(err error) bool { return KindOf(err) == KindConnectivity }
