package ledger

import "errors"

var (
	// ErrNotFound is returned when a requested user or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same signature
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTerminal is returned when advancing a record that already landed or failed.
	ErrTerminal = errors.New("record is in a terminal stage")

	// ErrInvalidTransition is returned when a transition would move a record
	// backwards.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
