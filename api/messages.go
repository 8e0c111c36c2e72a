package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
	"github.com/warp/attendance-engine/padrino"
)

// outcomeMessage is the short text shown at the scanning station.
func outcomeMessage(res attendance.Result) string {
	switch res.Outcome {
	case attendance.OutcomeOpened:
		if res.Late {
			return fmt.Sprintf("Clock-in recorded, %d minutes late", res.MinutesLate)
		}
		return "Clock-in recorded"
	case attendance.OutcomeClosed:
		return fmt.Sprintf("Clock-out recorded, %.2f hours", res.HoursWorked)
	case attendance.OutcomeLocationRequired:
		return "Select a location and scan again"
	case attendance.OutcomeNoOp:
		return "Already clocked in, no action needed"
	default:
		return string(res.Outcome)
	}
}

// apiError is an error mapped for the HTTP response.
type apiError struct {
	Status  int
	Code    string
	Message string
}

// classify maps domain and store errors to status, code and message.
func classify(err error) apiError {
	switch {
	case errors.Is(err, attendance.ErrUserNotFound):
		return apiError{http.StatusNotFound, "user_not_found", "User not found"}
	case errors.Is(err, attendance.ErrUserInactive):
		return apiError{http.StatusForbidden, "user_inactive", "User is inactive"}
	case errors.Is(err, attendance.ErrInvalidScan):
		return apiError{http.StatusBadRequest, "invalid_scan", "Invalid scan"}
	case errors.Is(err, attendance.ErrAmbiguousEvent):
		return apiError{http.StatusConflict, "ambiguous_event", "Several events match this scan, choose one"}
	case errors.Is(err, attendance.ErrEventNotFound):
		return apiError{http.StatusNotFound, "event_not_found", "Event not found"}
	case errors.Is(err, attendance.ErrEventNotApplicable):
		return apiError{http.StatusUnprocessableEntity, "event_not_applicable", "The selected event does not take place on this date"}
	case errors.Is(err, attendance.ErrInvalidEvent):
		return apiError{http.StatusBadRequest, "invalid_event", "Invalid event"}
	case errors.Is(err, attendance.ErrSessionAlreadyClosed):
		return apiError{http.StatusConflict, "session_already_closed", "Already clocked out, no action needed"}
	case errors.Is(err, attendance.ErrNoOpenSession):
		return apiError{http.StatusConflict, "no_open_session", "No open clock-in found, contact an administrator"}
	case errors.Is(err, padrino.ErrInvalidPolicy), errors.Is(err, padrino.ErrNonMonotonicThresholds):
		return apiError{http.StatusBadRequest, "invalid_thresholds", "Invalid eligibility thresholds"}
	case errors.Is(err, generic.ErrInvalidPath):
		return apiError{http.StatusBadRequest, "invalid_key", "Identifier contains reserved characters"}
	case generic.IsRetryable(err):
		return apiError{http.StatusServiceUnavailable, "store_unavailable", "The store is busy, try again"}
	default:
		return apiError{http.StatusInternalServerError, "internal", "Internal error"}
	}
}

// writeDomainError writes err using classify. Ambiguous events list their candidates.
func writeDomainError(w http.ResponseWriter, err error) {
	ae := classify(err)
	resp := ErrorResponse{Error: ae.Message, Code: ae.Code, Details: err.Error()}
	var amb *attendance.AmbiguousEventError
	if errors.As(err, &amb) {
		resp.Candidates = amb.Candidates
	}
	writeJSON(w, ae.Status, resp)
}
