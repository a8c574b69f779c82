package fiduciarygate

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrTransactionBlocked is returned when an evaluation results in a
	// BLOCK decision.
	ErrTransactionBlocked = errors.New("transaction blocked")

	// ErrSessionNotFound is returned when the server does not know the
	// session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrServerUnreachable is returned when the Fiduciary Gate server
	// cannot be contacted and the client is configured to fail closed.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is the base error type for server-side failures.
type APIError struct {
	// StatusCode is the HTTP status the server returned.
	StatusCode int
	// Body is the raw response body, for diagnostics.
	Body string
}

// Error returns the error message.
func (e *APIError) Error() string {
	return fmt.Sprintf("fiduciarygate: server returned %d: %s", e.StatusCode, e.Body)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrSessionNotFound) for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrSessionNotFound && e.StatusCode == 404
}

// TransactionBlockedError is returned when an evaluation results in a
// BLOCK decision. It carries the breaker state and, when the breaker
// tripped, the escalation now pending human review.
type TransactionBlockedError struct {
	// State is the circuit-breaker state after the evaluation.
	State State
	// Reason explains the block.
	Reason string
	// EvaluationID is the audit-trail identifier.
	EvaluationID string
	// EscalationID references the pending human review, if any.
	EscalationID string
	// Response is the full server response.
	Response *EvaluateResponse
}

// Error returns a human-readable description of the block.
func (e *TransactionBlockedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transaction blocked (%s): %s", e.State, e.Reason)
	}
	return fmt.Sprintf("transaction blocked (%s)", e.State)
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrTransactionBlocked).
func (e *TransactionBlockedError) Is(target error) bool {
	return target == ErrTransactionBlocked
}

// ServerUnreachableError is returned when the server cannot be contacted
// and the client fails closed.
type ServerUnreachableError struct {
	// Cause is the underlying transport error.
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target error.
// It supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
