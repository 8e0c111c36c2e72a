/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stored tree shape from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  decodeAndValidate, which rejects unknown shapes with 400 and lists the
  failing fields.

SEE ALSO:
  - handlers.go: Uses these types
  - messages.go: Human-readable outcome and error texts
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// SCANS
// =============================================================================

// ScanRequest is the body of POST /api/scans. Timestamp defaults to now.
type ScanRequest struct {
	UserID       string `json:"user_id" validate:"required,max=64"`
	Mode         string `json:"mode" validate:"required,oneof=in out"`
	Timestamp    string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Location     string `json:"location,omitempty" validate:"omitempty,max=120"`
	CategoryHint string `json:"category_hint,omitempty" validate:"omitempty,max=64"`
	EventHint    string `json:"event_hint,omitempty" validate:"omitempty,max=64"`
}

// ScanResultDTO is the reconcile result plus a display message.
type ScanResultDTO struct {
	Outcome      string    `json:"outcome"`
	Message      string    `json:"message"`
	UserID       string    `json:"user_id"`
	SessionKey   string    `json:"session_key,omitempty"`
	Location     string    `json:"location,omitempty"`
	Date         string    `json:"date,omitempty"`
	ClockIn      string    `json:"clock_in,omitempty"`
	ClockOut     string    `json:"clock_out,omitempty"`
	Category     string    `json:"category,omitempty"`
	EventID      string    `json:"event_id,omitempty"`
	EventTitle   string    `json:"event_title,omitempty"`
	Late         bool      `json:"late"`
	MinutesLate  int       `json:"minutes_late,omitempty"`
	HoursWorked  float64   `json:"hours_worked,omitempty"`
	HoursClamped bool      `json:"hours_clamped,omitempty"`
	FoundBy      string    `json:"found_by,omitempty"`
	Attempts     int       `json:"attempts"`
	Stats        *StatsDTO `json:"stats,omitempty"`
}

// =============================================================================
// USERS
// =============================================================================

// StatsDTO mirrors attendance.Stats.
type StatsDTO struct {
	DaysPresent    int     `json:"days_present"`
	DaysAbsent     int     `json:"days_absent"`
	DaysLate       int     `json:"days_late"`
	TotalHours     float64 `json:"total_hours"`
	OnTimeRate     float64 `json:"on_time_rate"`
	AttendanceRate float64 `json:"attendance_rate"`
	LastClockIn    string  `json:"last_clock_in,omitempty"`
	LastClockOut   string  `json:"last_clock_out,omitempty"`
}

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location string   `json:"location,omitempty"`
	Status   string   `json:"status"`
	Stats    StatsDTO `json:"stats"`
}

// CreateUserRequest creates or updates a user profile.
type CreateUserRequest struct {
	ID       string `json:"id" validate:"required,max=64,excludesall=.#$[]/"`
	Name     string `json:"name" validate:"required,max=120"`
	Location string `json:"location,omitempty" validate:"omitempty,max=120"`
	Status   string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// SessionDTO is one entry of a user's session index.
type SessionDTO struct {
	Key        string `json:"key"`
	ClockIn    string `json:"clock_in"`
	ClockOut   string `json:"clock_out,omitempty"`
	Location   string `json:"location"`
	Date       string `json:"date"`
	EventID    string `json:"event_id,omitempty"`
	Category   string `json:"category,omitempty"`
	Open       bool   `json:"open"`
	AutoClosed bool   `json:"auto_closed,omitempty"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents a scheduled event.
type EventDTO struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Start        string          `json:"start"`
	End          string          `json:"end"`
	Location     string          `json:"location,omitempty"`
	Category     string          `json:"category"`
	Participants map[string]bool `json:"participants,omitempty"`
}

// CreateEventRequest creates an event. End defaults to Start.
type CreateEventRequest struct {
	ID       string `json:"id" validate:"required,max=64,excludesall=.#$[]/"`
	Title    string `json:"title" validate:"required,max=200"`
	Start    string `json:"start" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	End      string `json:"end,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Location string `json:"location,omitempty" validate:"omitempty,max=120"`
	Category string `json:"category" validate:"required,max=64,excludesall=.#$[]/"`
}

// InviteRequest schedules users for an event.
type InviteRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required"`
}

// CategoryDTO describes a registered category.
type CategoryDTO struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	MultiDay bool   `json:"multi_day"`
	Tracked  bool   `json:"tracked"`
}

// =============================================================================
// ADMIN
// =============================================================================

// AuditEntryDTO is one reconcile attempt.
type AuditEntryDTO struct {
	ID         string `json:"id"`
	At         string `json:"at"`
	UserID     string `json:"user_id"`
	Mode       string `json:"mode"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
	SessionKey string `json:"session_key,omitempty"`
	Location   string `json:"location,omitempty"`
	Attempts   int    `json:"attempts"`
}

// SweepRequest optionally overrides the lookback window.
type SweepRequest struct {
	LookbackDays int `json:"lookback_days,omitempty" validate:"omitempty,min=1,max=366"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Details    string   `json:"details,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toStatsDTO(s attendance.Stats) StatsDTO {
	return StatsDTO{
		DaysPresent:    s.DaysPresent,
		DaysAbsent:     s.DaysAbsent,
		DaysLate:       s.DaysLate,
		TotalHours:     s.TotalHours,
		OnTimeRate:     s.OnTimeRate,
		AttendanceRate: s.AttendanceRate,
		LastClockIn:    formatTimePtr(s.LastClockIn),
		LastClockOut:   formatTimePtr(s.LastClockOut),
	}
}

func toUserDTO(u attendance.User) UserDTO {
	status := u.Status
	if status == "" {
		status = attendance.StatusActive
	}
	return UserDTO{
		ID:       u.ID,
		Name:     u.Name,
		Location: u.Location,
		Status:   string(status),
		Stats:    toStatsDTO(u.Stats),
	}
}

func toEventDTO(e attendance.ScheduledEvent) EventDTO {
	return EventDTO{
		ID:           e.ID,
		Title:        e.Title,
		Start:        formatTime(e.Start),
		End:          formatTime(e.End),
		Location:     e.Location,
		Category:     string(e.Category),
		Participants: e.Participants,
	}
}

func toScanResultDTO(res attendance.Result, attempts int) ScanResultDTO {
	dto := ScanResultDTO{
		Outcome:      string(res.Outcome),
		Message:      outcomeMessage(res),
		UserID:       res.UserID,
		SessionKey:   res.SessionKey,
		Location:     res.Location,
		Date:         string(res.Date),
		ClockIn:      formatTime(res.ClockInTime),
		ClockOut:     formatTimePtr(res.ClockOutTime),
		Category:     string(res.Category),
		Late:         res.Late,
		MinutesLate:  res.MinutesLate,
		HoursWorked:  res.HoursWorked,
		HoursClamped: res.HoursClamped,
		FoundBy:      string(res.FoundBy),
		Attempts:     attempts,
	}
	if res.Event != nil {
		dto.EventID = res.Event.ID
		dto.EventTitle = res.Event.Title
	}
	if res.Outcome != attendance.OutcomeLocationRequired {
		stats := toStatsDTO(res.Stats)
		dto.Stats = &stats
	}
	return dto
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		At:         formatTime(e.At),
		UserID:     e.UserID,
		Mode:       e.Mode,
		Outcome:    e.Outcome,
		Error:      e.Error,
		SessionKey: e.SessionKey,
		Location:   e.Location,
		Attempts:   e.Attempts,
	}
}
