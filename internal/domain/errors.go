package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an unknown dataset name.
	ErrNotFound = errors.New("dataset not found")
	// ErrInvalidRequest signals a malformed query request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownColumn signals a reference to a column that does not exist.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidClip signals a degenerate clip range (max <= min).
	ErrInvalidClip = errors.New("invalid clip range")
	// ErrIndexUnavailable signals an ANN prefilter request against a dataset
	// loaded without its index.
	ErrIndexUnavailable = errors.New("ann index not loaded")
	// ErrCorruptData signals persisted dataset files inconsistent with their
	// sidecar metadata.
	ErrCorruptData = errors.New("corrupt dataset")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// UnknownColumnError wraps ErrUnknownColumn with the column and the request
// field that referenced it.
type UnknownColumnError struct {
	Column string
	Field  string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("%s: %q referenced by %s", ErrUnknownColumn.Error(), e.Column, e.Field)
}

// Unwrap matches both sentinels: an unknown column reference is one kind
// of invalid request.
func (e *UnknownColumnError) Unwrap() []error {
	return []error{ErrUnknownColumn, ErrInvalidRequest}
}

// NewUnknownColumn creates an unknown column error.
func NewUnknownColumn(column, field string) error {
	return &UnknownColumnError{Column: column, Field: field}
}
