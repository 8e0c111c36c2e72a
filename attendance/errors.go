/*
errors.go - Attendance domain errors

ERROR CATEGORIES:
  1. Input errors - surfaced to the operator for correction, never retried
     ErrUserNotFound, ErrUserInactive, ErrInvalidScan, ErrAmbiguousEvent,
     ErrEventNotFound, ErrEventNotApplicable, ErrInvalidEvent
  2. State-conflict errors - benign double scans or missing history,
     never retried automatically
     ErrSessionAlreadyClosed, ErrNoOpenSession
  3. Store errors - see generic/errors.go; the caller retries the whole scan

LocationRequired is not an error: it is the OutcomeLocationRequired result.

USAGE:
  res, err := engine.Reconcile(ctx, req)
  switch {
  case errors.Is(err, attendance.ErrNoOpenSession):
      // "no open session, contact an administrator"
  case generic.IsRetryable(err):
      // retry reconcile with the same request
  }
*/
package attendance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserInactive  = errors.New("user is inactive")
	ErrInvalidScan   = errors.New("invalid scan request")
	ErrInvalidEvent  = errors.New("invalid event")
	ErrEventNotFound = errors.New("event not found")

	// ErrEventNotApplicable is returned when an explicit event hint does not
	// cover the scan date.
	ErrEventNotApplicable = errors.New("event does not cover scan date")

	// ErrAmbiguousEvent is returned when several events match and no hint was given.
	// The resolver never guesses.
	ErrAmbiguousEvent = errors.New("ambiguous event")

	ErrSessionAlreadyClosed = errors.New("session already closed")
	ErrNoOpenSession        = errors.New("no open session")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AmbiguousEventError lists the candidates the operator must choose from.
type AmbiguousEventError struct {
	Date       generic.Date
	Location   string
	Candidates []string
}

func (e *AmbiguousEventError) Error() string {
	return fmt.Sprintf("ambiguous event on %s at %q: candidates %s",
		e.Date, e.Location, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousEventError) Unwrap() error {
	return ErrAmbiguousEvent
}

// SessionClosedError identifies the session that was already closed.
type SessionClosedError struct {
	UserID     string
	SessionKey string
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s for user %s already closed", e.SessionKey, e.UserID)
}

func (e *SessionClosedError) Unwrap() error {
	return ErrSessionAlreadyClosed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsInputError returns true if the operator must correct the scan.
func IsInputError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrUserInactive) ||
		errors.Is(err, ErrInvalidScan) ||
		errors.Is(err, ErrAmbiguousEvent) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrEventNotApplicable) ||
		errors.Is(err, ErrInvalidEvent)
}

// IsConflict returns true for double scans and missing open sessions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSessionAlreadyClosed) ||
		errors.Is(err, ErrNoOpenSession)
}
