package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure crossing a component boundary.
type Kind string

const (
	// KindTransient covers RPC timeouts, network errors and stale blockhashes.
	// Components retry these inside their own attempt budget.
	KindTransient Kind = "transient"
	// KindProviderRejected covers out-of-range amounts and invalid addresses.
	KindProviderRejected Kind = "provider_rejected"
	// KindTimeoutExhausted covers deposits never seen and confirmations never observed.
	KindTimeoutExhausted Kind = "timeout_exhausted"
	// KindInvariantViolation covers duplicate processing attempts. Absorbed, never surfaced.
	KindInvariantViolation Kind = "invariant_violation"
)

// Error is the classified error the orchestrator reports to its callers.
type Error struct {
	Kind    Kind
	Op      string
	Message string // user-actionable text
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindTransient when err was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// UserMessage returns the user-facing text of a classified error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
