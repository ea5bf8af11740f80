package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/store"
)

// TaskEntryNotFoundError is returned by strict lookups that find no live
// entry. It matches store.ErrTaskEntryNotFound and store.ErrNotFound.
type TaskEntryNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *TaskEntryNotFoundError) Error() string {
	return fmt.Sprintf("task entry %q not found", e.ID)
}

// Unwrap returns store.ErrTaskEntryNotFound.
func (e *TaskEntryNotFoundError) Unwrap() error {
	return store.ErrTaskEntryNotFound
}

// TaskServiceError wraps unexpected errors from the task services with the
// operation that failed.
type TaskServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError wraps err for operation. Errors the caller is expected
// to branch on are returned unchanged.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	var notFound *TaskEntryNotFoundError
	var batchErr *store.BatchError
	switch {
	case errors.As(err, &notFound),
		errors.As(err, &batchErr),
		domain.IsValidationError(err),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrInvalidCursor):
		return err
	}

	return &TaskServiceError{Operation: operation, Message: message, Err: err}
}
