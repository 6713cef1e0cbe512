package tree

import (
	"errors"
	"fmt"

	"github.com/systemshift/cattree/internal/store"
)

// Error taxonomy shared by both encodings. Callers test with errors.Is.
var (
	// ErrNotFound is returned when an operation names an id that is not
	// indexed.
	ErrNotFound = errors.New("category not found")

	// ErrInvalidRelocation is returned for a move that would make a node its
	// own ancestor, or a single-node move of a node that has children.
	ErrInvalidRelocation = errors.New("invalid relocation")

	// ErrStoreFailure marks a failure of the row store. The mutation that hit
	// it has been rolled back.
	ErrStoreFailure = errors.New("store failure")

	// ErrExists is returned when inserting an id that is already indexed.
	ErrExists = errors.New("category already indexed")

	// ErrInvariant is returned by Check when the row set is inconsistent.
	ErrInvariant = errors.New("index invariant violated")
)

// StoreError wraps a backend error raised during Op.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Op + ": " + ErrStoreFailure.Error() + ": " + e.Err.Error()
}

// Unwrap returns the backend error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStoreFailure.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// Classify maps err onto the taxonomy. Taxonomy errors pass through,
// store.ErrNotFound becomes ErrNotFound and anything else is a StoreError.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidRelocation),
		errors.Is(err, ErrExists),
		errors.Is(err, ErrInvariant),
		errors.Is(err, ErrStoreFailure):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return &StoreError{Op: op, Err: err}
	}
}

// InvariantError lists every violation found by Check.
type InvariantError struct {
	Index      Kind
	Violations []string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s index: %d invariant violation(s)", e.Index, len(e.Violations))
	if len(e.Violations) > 0 {
		msg += ": " + e.Violations[0]
	}
	return msg
}

// Is makes every InvariantError match ErrInvariant.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}
