package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload rejects the whole request; nothing was written.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrStorage marks a failed store write. Earlier writes of the same
	// payload are not rolled back.
	ErrStorage = errors.New("storage error")
	// ErrShuttingDown is returned once the pipeline stopped accepting payloads.
	ErrShuttingDown = errors.New("ingest pipeline is shutting down")
)

// StorageError reports which ingest step failed.
type StorageError struct {
	Step string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Step, e.Err)
}

// Unwrap exposes both ErrStorage and the underlying cause to errors.Is.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
