package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// CLOCK - "Now" in the organizational timezone
// =============================================================================

// Clock supplies the current instant in the organizational timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// OrgClock is the production clock pinned to one timezone.
type OrgClock struct {
	Loc *time.Location
}

// NewOrgClock loads the named IANA zone. An empty name means UTC.
func NewOrgClock(zone string) (*OrgClock, error) {
	if zone == "" {
		return &OrgClock{Loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &OrgClock{Loc: loc}, nil
}

func (c *OrgClock) Now() time.Time { return time.Now().In(c.Location()) }

func (c *OrgClock) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// FixedClock always returns the same instant. Used by tests and demo scenarios.
type FixedClock struct {
	At  time.Time
	Loc *time.Location
}

func (c *FixedClock) Now() time.Time { return c.At.In(c.Location()) }

func (c *FixedClock) Location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// Set moves the fixed clock.
func (c *FixedClock) Set(t time.Time) { c.At = t }

// =============================================================================
// DATE - Civil calendar date used for bucketing
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day in the organizational timezone, e.g. "2025-03-02".
type Date string

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// ParseDate validates s as YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date(s), nil
}

// Start returns midnight of the date in loc.
func (d Date) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// At returns the instant at hh:mm on the date in loc.
func (d Date) At(hour, minute int, loc *time.Location) time.Time {
	s := d.Start(loc)
	return time.Date(s.Year(), s.Month(), s.Day(), hour, minute, 0, 0, s.Location())
}

func (d Date) AddDays(n int) Date {
	return Date(d.Start(time.UTC).AddDate(0, 0, n).Format(DateLayout))
}

func (d Date) Prev() Date                 { return d.AddDays(-1) }
func (d Date) String() string             { return string(d) }
func (d Date) IsZero() bool               { return d == "" }
func (d Date) Before(other Date) bool     { return d < other }
func (d Date) After(other Date) bool      { return d > other }
func (d Date) Between(from, to Date) bool { return d >= from && d <= to }

// DatesBetween lists every date in [from, to]. Empty if to is before from.
func DatesBetween(from, to Date) []Date {
	var out []Date
	for d := from; d <= to; d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// =============================================================================
// TIME OF DAY
// =============================================================================

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (use HH:MM): %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
