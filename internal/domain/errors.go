package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

var (
	// ErrNotReady means no bound directory connection exists right now.
	// The background reconnect loop retries on its own.
	ErrNotReady = errors.New("directory unavailable: no bound connection")

	// ErrTimeout means a directory search exceeded its budget. Retryable.
	ErrTimeout = errors.New("directory search timed out")

	// ErrInvalidInput is returned for requests that are rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreFailure matches every StoreError via errors.Is.
	ErrStoreFailure = errors.New("store failure")
)

// StoreError wraps a database failure. It is fatal for the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// InvalidInput annotates ErrInvalidInput with a reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// IsRetryable reports whether err is a directory condition the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrTimeout)
}
