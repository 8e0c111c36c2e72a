package attendance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
)

func newAggregator(t *testing.T, cfg attendance.LatenessConfig) *attendance.StatsAggregator {
	a, err := attendance.NewStatsAggregator(cfg, orgZone)
	require.NoError(t, err)
	return a
}

// =============================================================================
// LATENESS
// =============================================================================

func TestLateness_Defaults(t *testing.T) {
	a := newAggregator(t, attendance.LatenessConfig{})

	tests := []struct {
		name    string
		clockIn time.Time
		late    bool
		minutes int
	}{
		{"early", at(0, 8, 30), false, 0},
		{"exactly at grace", at(0, 9, 15), false, 0},
		{"one minute past grace", at(0, 9, 16), true, 16},
		{"afternoon", at(0, 14, 0), true, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := a.Lateness(tt.clockIn, nil, attendance.CategoryGeneral)
			assert.Equal(t, tt.late, l.Late)
			assert.Equal(t, tt.minutes, l.MinutesLate)
			assert.True(t, l.ExpectedStart.Equal(at(0, 9, 0)))
		})
	}
}

func TestLateness_EventStartWins(t *testing.T) {
	a := newAggregator(t, attendance.LatenessConfig{Grace: 5 * time.Minute, DefaultStart: "07:00"})
	e := &attendance.ScheduledEvent{ID: "e", Start: at(0, 18, 0), End: at(0, 20, 0), Category: attendance.CategoryWorkshop}

	l := a.Lateness(at(0, 18, 6), e, attendance.CategoryWorkshop)
	assert.True(t, l.Late)
	assert.Equal(t, 6, l.MinutesLate)
}

func TestLateness_CategoryStart(t *testing.T) {
	a := newAggregator(t, attendance.LatenessConfig{
		CategoryStarts: map[attendance.Category]string{attendance.CategoryGroupMeeting: "19:30"},
	})

	assert.False(t, a.Lateness(at(0, 19, 40), nil, attendance.CategoryGroupMeeting).Late)
	assert.True(t, a.Lateness(at(0, 19, 40), nil, attendance.CategoryHacienda).Late, "other categories use the default start")
}

func TestNewStatsAggregator_RejectsBadStart(t *testing.T) {
	_, err := attendance.NewStatsAggregator(attendance.LatenessConfig{DefaultStart: "25:00"}, orgZone)
	assert.Error(t, err)

	_, err = attendance.NewStatsAggregator(attendance.LatenessConfig{
		CategoryStarts: map[attendance.Category]string{attendance.CategoryWorkshop: "7pm"},
	}, orgZone)
	assert.Error(t, err)
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestStats_ClockInAndAbsenceRates(t *testing.T) {
	// GIVEN: 3 days present (1 late) and 1 absence
	// THEN: attendanceRate = 75, onTimeRate = 66.67

	a := newAggregator(t, attendance.LatenessConfig{})
	var s attendance.Stats

	s = a.OnClockIn(s, at(0, 9, 0), false)
	s = a.OnClockIn(s, at(1, 9, 30), true)
	s = a.OnClockIn(s, at(2, 9, 0), false)
	s = a.OnAbsence(s, 1)

	assert.Equal(t, 3, s.DaysPresent)
	assert.Equal(t, 1, s.DaysLate)
	assert.Equal(t, 1, s.DaysAbsent)
	assert.Equal(t, 75.0, s.AttendanceRate)
	assert.Equal(t, 66.67, s.OnTimeRate)
	require.NotNil(t, s.LastClockIn)
	assert.True(t, s.LastClockIn.Equal(at(2, 9, 0)))
}

func TestStats_ZeroDenominators(t *testing.T) {
	a := newAggregator(t, attendance.LatenessConfig{})
	s := a.OnAbsence(attendance.Stats{}, 2)

	assert.Equal(t, 0.0, s.AttendanceRate)
	assert.Equal(t, 0.0, s.OnTimeRate)
}

func TestStats_ClockOutAddsHours(t *testing.T) {
	a := newAggregator(t, attendance.LatenessConfig{})
	s := attendance.Stats{TotalHours: 0.1}

	s = a.OnClockOut(s, 0.2, at(0, 17, 0))
	assert.Equal(t, 0.3, s.TotalHours, "decimal sum, no float drift")
	require.NotNil(t, s.LastClockOut)
}

func TestHoursWorked(t *testing.T) {
	tests := []struct {
		name    string
		in, out time.Time
		want    string
		clamped bool
	}{
		{"normal", at(0, 9, 0), at(0, 17, 30), "8.5", false},
		{"rounded", at(0, 9, 0), at(0, 9, 20), "0.33", false},
		{"too short", at(0, 9, 0), at(0, 9, 1), "0.1", true},
		{"negative", at(0, 9, 0), at(0, 8, 0), "0.1", true},
		{"too long", at(0, 9, 0), at(2, 9, 0), "24", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, clamped := attendance.HoursWorked(tt.in, tt.out)
			assert.Equal(t, tt.want, h.String())
			assert.Equal(t, tt.clamped, clamped)
		})
	}
}
