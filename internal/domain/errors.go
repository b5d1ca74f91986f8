package domain

import "errors"

// Sentinel errors shared across the engine. Callers classify failures
// with errors.Is rather than string matching.
var (
	// ErrNotFound marks lookups for records that do not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks rejected caller input.
	ErrInvalidInput = errors.New("invalid input")
)
