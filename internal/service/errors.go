package service

import (
	"errors"
	"fmt"
)

var (
	// ErrAuctionNotFound is returned when the referenced auction does not exist
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrPersistence marks transient storage failures; callers may retry with backoff
	ErrPersistence = errors.New("persistence failure")
	// ErrUnknownTemplate marks a job whose template key is not registered
	ErrUnknownTemplate = errors.New("unknown notification template")
	// ErrMissingTemplateParam marks a job lacking a parameter its template needs
	ErrMissingTemplateParam = errors.New("missing template parameter")
	// ErrProviderFailure wraps errors returned by the messaging provider
	ErrProviderFailure = errors.New("messaging provider failure")
	// ErrNotificationNotFound is returned when a job does not exist
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotRequeueable is returned when re-queueing a job that has not failed
	ErrNotRequeueable = errors.New("notification is not in failed status")

	errWriteContention = errors.New("settlement state changed concurrently")
)

// PersistenceError wraps a storage error with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports PersistenceError as ErrPersistence
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
