package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists indicates a create collided with an existing id.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrInvalidQuery indicates a query the store cannot serve, such as an
	// In predicate over more than MaxInValues values.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrTransient marks network or availability failures that may succeed on retry.
	ErrTransient = errors.New("transient store failure")
)

// TransientError wraps a retryable failure of a single store operation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// Transient wraps err so that errors.Is(err, ErrTransient) reports true.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
