/*
errors.go - Centralized store-level error types

PURPOSE:
  All store error types in one place for consistency and discoverability.
  Domain packages define their own business errors (attendance/errors.go)
  and wrap these when a store call fails.

ERROR CATEGORIES:
  1. Path errors - Malformed or reserved path segments
  2. Store errors - Timeouts and partially applied batches

USAGE:
  if generic.IsRetryable(err) {
      // retry the whole reconcile call
  }

SEE ALSO:
  - store.go: Uses these errors
  - attendance/errors.go: Domain errors
*/
package generic

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPath is returned for empty segments or reserved characters.
	ErrInvalidPath = errors.New("invalid store path")

	// ErrStoreTimeout is returned when a store call did not complete before
	// its deadline. Nothing from the call is assumed applied.
	ErrStoreTimeout = errors.New("store timeout")

	// ErrPartialWrite is returned by non-atomic stores when a batch failed
	// after some of its updates were applied.
	ErrPartialWrite = errors.New("batch partially applied")

	// ErrStoreUnavailable is returned when the store cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PathError reports the offending path and segment.
type PathError struct {
	Path    string
	Segment string
}

func (e *PathError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("invalid store path %q", e.Path)
	}
	return fmt.Sprintf("invalid store path %q: bad segment %q", e.Path, e.Segment)
}

func (e *PathError) Unwrap() error {
	return ErrInvalidPath
}

// PartialWriteError reports how far a non-atomic batch got.
type PartialWriteError struct {
	Applied int
	Total   int
	Cause   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("batch partially applied (%d/%d): %v", e.Applied, e.Total, e.Cause)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// FromContext maps a context error to ErrStoreTimeout.
// Other errors are returned unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrStoreTimeout, err)
	}
	return err
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreTimeout) ||
		errors.Is(err, ErrPartialWrite) ||
		errors.Is(err, ErrStoreUnavailable)
}
