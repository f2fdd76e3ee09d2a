package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by Tail when no entry has been appended yet.
	ErrEmpty = errors.New("ledger is empty")

	// ErrNotFound is returned by Get for an index past the tail.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrEmptyOperation rejects an append without an operation label.
	ErrEmptyOperation = errors.New("operation must not be empty")

	// ErrInvalidRange rejects a negative or inverted index range.
	ErrInvalidRange = errors.New("invalid index range")

	// ErrInvalidPayload rejects data that cannot be encoded as JSON.
	ErrInvalidPayload = errors.New("payload is not JSON-representable")
)

// noIndex marks errors that are not tied to a specific entry.
const noIndex = -1

// ValidationError reports a rejected caller input. The ledger is unchanged.
type ValidationError struct {
	Op    string
	Index int64
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("ledger %s at index %d: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError reports a failed durable read or write. A failed append
// leaves no visible entry behind.
type StorageError struct {
	Op    string
	Index int64
	Err   error
}

func (e *StorageError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("ledger storage %s at index %d: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("ledger storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func validationErr(op string, index int64, err error) error {
	return &ValidationError{Op: op, Index: index, Err: err}
}

func storageErr(op string, index int64, err error) error {
	return &StorageError{Op: op, Index: index, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
