package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored, or violates a database constraint.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidCursor is returned when a pagination cursor cannot be decoded,
	// was issued by a different query, or uses an unsupported encoding version.
	// Callers should restart pagination from an empty cursor.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrStoreUnavailable is returned when the underlying database cannot be
	// reached or refuses the connection. No retry is attempted by the store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTaskEntryNotFound indicates that the requested task entry does not exist.
	ErrTaskEntryNotFound = fmt.Errorf("%w: task entry", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task_entry")
	Operation string // The operation that failed (e.g., "put", "scan")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// BatchError reports a bulk write that failed part way through. Applied is the
// number of entities written before the failure; those writes are not undone.
type BatchError struct {
	Operation string
	Applied   int
	Total     int
	Err       error
}

// Error implements the error interface for BatchError.
func (e *BatchError) Error() string {
	return fmt.Sprintf("%s applied to %d of %d entities: %v", e.Operation, e.Applied, e.Total, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *BatchError) Unwrap() error {
	return e.Err
}
