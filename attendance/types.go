// Package attendance implements the attendance event reconciliation engine.
// It turns clock-in / clock-out scans into sessions, attendance records,
// event participation and per-user statistics on top of a generic.TreeStore.
package attendance

import (
	"fmt"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// USER
// =============================================================================

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// User is stored at users/{id}.
type User struct {
	ID       string                             `json:"-"`
	Name     string                             `json:"name"`
	Location string                             `json:"location,omitempty"`
	Status   UserStatus                         `json:"status,omitempty"`
	Stats    Stats                              `json:"stats"`
	Sessions map[string]SessionEntry            `json:"sessions,omitempty"`
	Events   map[Category]map[string]EventEntry `json:"events,omitempty"`
}

// Active treats an empty status as active.
func (u *User) Active() bool { return u.Status != StatusInactive }

// Stats are derived counters, mutated only by the StatsAggregator and the absence sweep.
type Stats struct {
	DaysPresent    int        `json:"daysPresent"`
	DaysAbsent     int        `json:"daysAbsent"`
	DaysLate       int        `json:"daysLate"`
	TotalHours     float64    `json:"totalHours"`
	OnTimeRate     float64    `json:"onTimeRate"`
	AttendanceRate float64    `json:"attendanceRate"`
	LastClockIn    *time.Time `json:"lastClockIn,omitempty"`
	LastClockOut   *time.Time `json:"lastClockOut,omitempty"`
}

// SessionEntry is the user's own index of a session, stored at users/{id}/sessions/{key}.
// Location, LocationKey and Date locate the matching attendance record.
type SessionEntry struct {
	ClockInTime  time.Time  `json:"clockInTime"`
	ClockOutTime *time.Time `json:"clockOutTime,omitempty"`
	Location     string     `json:"location"`
	LocationKey  string     `json:"locationKey"`
	Date         string     `json:"date"`
	EventID      string     `json:"eventId,omitempty"`
	Category     Category   `json:"category,omitempty"`
	AutoClosed   bool       `json:"autoClosed,omitempty"`
}

func (s SessionEntry) Open() bool { return s.ClockOutTime == nil }

// EventEntry links a user to one scheduled event instance,
// stored at users/{id}/events/{category}/{instanceId}.
type EventEntry struct {
	Date         string     `json:"date"`
	Scheduled    bool       `json:"scheduled"`
	Attended     bool       `json:"attended"`
	MarkedAbsent bool       `json:"markedAbsent"`
	AttendedAt   *time.Time `json:"attendedAt,omitempty"`
	EventID      string     `json:"eventId,omitempty"`
}

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

// AttendanceRecord is stored at attendance/{locationKey}/{date}/{sessionKey}.
// It carries denormalized user and event fields because the store has no joins.
type AttendanceRecord struct {
	UserID       string     `json:"userId"`
	UserName     string     `json:"userName,omitempty"`
	ClockInTime  time.Time  `json:"clockInTime"`
	ClockOutTime *time.Time `json:"clockOutTime,omitempty"`
	HoursWorked  *float64   `json:"hoursWorked,omitempty"`
	HoursClamped bool       `json:"hoursClamped,omitempty"`
	EventType    Category   `json:"eventType"`
	EventID      string     `json:"eventId,omitempty"`
	EventTitle   string     `json:"eventTitle,omitempty"`
	Location     string     `json:"location"`
	Late         bool       `json:"late"`
	MinutesLate  int        `json:"minutesLate,omitempty"`
	AutoClosed   bool       `json:"autoClosed,omitempty"`
}

func (r AttendanceRecord) Open() bool { return r.ClockOutTime == nil && !r.ClockInTime.IsZero() }

// =============================================================================
// SCHEDULED EVENT
// =============================================================================

// ScheduledEvent is stored at events/{id}. Only Participants changes after creation.
type ScheduledEvent struct {
	ID           string          `json:"-"`
	Title        string          `json:"title"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Location     string          `json:"location,omitempty"`
	Category     Category        `json:"category"`
	Participants map[string]bool `json:"participants,omitempty"`
}

// StartDate and EndDate are calendar days in loc.
func (e ScheduledEvent) StartDate(loc *time.Location) generic.Date { return generic.DateOf(e.Start, loc) }
func (e ScheduledEvent) EndDate(loc *time.Location) generic.Date   { return generic.DateOf(e.End, loc) }

// Covers reports whether date falls inside [start date, end date].
func (e ScheduledEvent) Covers(date generic.Date, loc *time.Location) bool {
	end := e.EndDate(loc)
	if e.End.IsZero() || end.Before(e.StartDate(loc)) {
		end = e.StartDate(loc)
	}
	return date.Between(e.StartDate(loc), end)
}

// AtLocation matches normalized names; an event without location matches everywhere.
func (e ScheduledEvent) AtLocation(location string) bool {
	if NormalizeLocation(e.Location) == "" || NormalizeLocation(location) == "" {
		return true
	}
	return SameLocation(e.Location, location)
}

// Validate checks the invariants enforced when an event is saved.
func (e ScheduledEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	}
	if !e.End.IsZero() && e.End.Before(e.Start) {
		return fmt.Errorf("%w: end before start", ErrInvalidEvent)
	}
	if e.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidEvent)
	}
	if generic.SafeKey(string(e.Category)) != string(e.Category) {
		return fmt.Errorf("%w: category %q contains reserved characters", ErrInvalidEvent, e.Category)
	}
	return nil
}

// =============================================================================
// SCAN REQUEST / RESULT
// =============================================================================

type Mode string

const (
	ModeIn  Mode = "in"
	ModeOut Mode = "out"
)

// ScanRequest is the immutable input of one reconcile call.
type ScanRequest struct {
	UserID       string
	Mode         Mode
	Timestamp    time.Time // zero means "now" from the engine clock
	Location     string
	CategoryHint Category
	EventHint    string
}

type Outcome string

const (
	OutcomeOpened           Outcome = "opened"
	OutcomeClosed           Outcome = "closed"
	OutcomeLocationRequired Outcome = "location_required"
	OutcomeNoOp             Outcome = "noop"
)

// Result describes what a reconcile call did.
type Result struct {
	Outcome      Outcome
	UserID       string
	SessionKey   string
	Location     string
	Date         generic.Date
	ClockInTime  time.Time
	ClockOutTime *time.Time
	Category     Category
	Event        *ScheduledEvent
	Late         bool
	MinutesLate  int
	HoursWorked  float64
	HoursClamped bool
	FoundBy      SearchStep
	Stats        Stats
}

// SessionKey orders lexicographically the same as chronologically. The user
// suffix keeps keys of users clocking in at the same instant apart.
func SessionKey(t time.Time, userID string) string {
	return fmt.Sprintf("%013d-%s", t.UnixMilli(), generic.SafeKey(userID))
}
