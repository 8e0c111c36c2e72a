package attendance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// STATS AGGREGATOR - Incremental per-user counters
// =============================================================================

const (
	DefaultGracePeriod = 15 * time.Minute
	DefaultStartTime   = "09:00"
)

var (
	hundred  = decimal.NewFromInt(100)
	minHours = decimal.RequireFromString("0.1")
	maxHours = decimal.NewFromInt(24)
)

// LatenessConfig configures when a clock-in counts as late.
type LatenessConfig struct {
	Grace          time.Duration       // tolerance after the expected start
	DefaultStart   string              // HH:MM used when no event resolved
	CategoryStarts map[Category]string // HH:MM per category, overrides DefaultStart
}

type clockTime struct{ hour, minute int }

// StatsAggregator applies the update rules for each successful open and close.
// Counters only grow; corrections are an administrative operation.
type StatsAggregator struct {
	Loc            *time.Location
	Grace          time.Duration
	defaultStart   clockTime
	categoryStarts map[Category]clockTime
}

func NewStatsAggregator(cfg LatenessConfig, loc *time.Location) (*StatsAggregator, error) {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGracePeriod
	}
	if cfg.DefaultStart == "" {
		cfg.DefaultStart = DefaultStartTime
	}
	h, m, err := generic.ParseClockTime(cfg.DefaultStart)
	if err != nil {
		return nil, err
	}
	a := &StatsAggregator{
		Loc:            loc,
		Grace:          cfg.Grace,
		defaultStart:   clockTime{h, m},
		categoryStarts: make(map[Category]clockTime, len(cfg.CategoryStarts)),
	}
	for c, s := range cfg.CategoryStarts {
		h, m, err := generic.ParseClockTime(s)
		if err != nil {
			return nil, fmt.Errorf("start time for %s: %w", c, err)
		}
		a.categoryStarts[c] = clockTime{h, m}
	}
	return a, nil
}

// Lateness of a clock-in relative to its expected start.
type Lateness struct {
	ExpectedStart time.Time
	Late          bool
	MinutesLate   int
}

// Lateness compares clockIn with the resolved event's start. Later days of a
// multi-day event use the event's start time on the scan date. Without an
// event the category's default start (or the global default) applies.
func (a *StatsAggregator) Lateness(clockIn time.Time, event *ScheduledEvent, category Category) Lateness {
	day := generic.DateOf(clockIn, a.Loc)

	var expected time.Time
	switch {
	case event != nil && event.StartDate(a.Loc) == day:
		expected = event.Start
	case event != nil:
		s := event.Start.In(a.loc())
		expected = day.At(s.Hour(), s.Minute(), a.Loc)
	default:
		ct, ok := a.categoryStarts[category]
		if !ok {
			ct = a.defaultStart
		}
		expected = day.At(ct.hour, ct.minute, a.Loc)
	}

	delay := clockIn.Sub(expected)
	l := Lateness{ExpectedStart: expected}
	if delay > a.Grace {
		l.Late = true
		l.MinutesLate = int(delay / time.Minute)
	}
	return l
}

// OnClockIn returns the stats after one more day present.
func (a *StatsAggregator) OnClockIn(prev Stats, at time.Time, late bool) Stats {
	next := prev
	next.DaysPresent++
	if late {
		next.DaysLate++
	}
	next.AttendanceRate = attendanceRate(next.DaysPresent, next.DaysAbsent)
	next.OnTimeRate = percent(next.DaysPresent-next.DaysLate, next.DaysPresent)
	t := at.In(a.loc())
	next.LastClockIn = &t
	return next
}

// OnClockOut adds the session hours.
func (a *StatsAggregator) OnClockOut(prev Stats, hours float64, at time.Time) Stats {
	next := prev
	total := decimal.NewFromFloat(prev.TotalHours).Add(decimal.NewFromFloat(hours)).Round(2)
	next.TotalHours = total.InexactFloat64()
	t := at.In(a.loc())
	next.LastClockOut = &t
	return next
}

// OnAbsence records n newly marked absences.
func (a *StatsAggregator) OnAbsence(prev Stats, n int) Stats {
	next := prev
	next.DaysAbsent += n
	next.AttendanceRate = attendanceRate(next.DaysPresent, next.DaysAbsent)
	return next
}

func (a *StatsAggregator) loc() *time.Location {
	if a.Loc == nil {
		return time.UTC
	}
	return a.Loc
}

func attendanceRate(present, absent int) float64 {
	return percent(present, present+absent)
}

// percent is part/whole*100 rounded to 2 places; 0 when whole is 0.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(whole))).
		Round(2).
		InexactFloat64()
}

// =============================================================================
// HOURS WORKED
// =============================================================================

// HoursWorked is (out - in) in hours, rounded to 2 places and clamped to
// [0.1, 24]. clamped reports whether the raw value fell outside that range
// (clock skew or a missed day); the record is flagged for audit.
func HoursWorked(in, out time.Time) (hours decimal.Decimal, clamped bool) {
	raw := decimal.NewFromInt(out.Sub(in).Milliseconds()).
		Div(decimal.NewFromInt(int64(time.Hour / time.Millisecond)))
	switch {
	case raw.LessThan(minHours):
		return minHours, true
	case raw.GreaterThan(maxHours):
		return maxHours, true
	default:
		return raw.Round(2), false
	}
}
