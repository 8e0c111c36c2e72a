package attendance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_SaveKeepsStatsAndSessions(t *testing.T) {
	// GIVEN: A user with one session
	// WHEN: The profile is saved again with a new name
	// THEN: Name changes, stats and sessions are kept

	f := newFixture(t)
	f.user("u1")
	_, err := f.in("u1", "Aurora", at(0, 8, 0))
	require.NoError(t, err)

	require.NoError(t, f.users.Save(f.ctx, attendance.User{ID: "u1", Name: "Renamed"}))

	u := f.load("u1")
	assert.Equal(t, "Renamed", u.Name)
	assert.Equal(t, 1, u.Stats.DaysPresent)
	assert.Len(t, u.Sessions, 1)
	assert.True(t, u.Active())
}

func TestDirectory_ListAndValidation(t *testing.T) {
	f := newFixture(t)
	f.user("b", "a")

	ids, err := f.users.IDs(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	assert.Error(t, f.users.Save(f.ctx, attendance.User{ID: "a/b", Name: "x"}))
	assert.Error(t, f.users.Save(f.ctx, attendance.User{ID: "c", Name: " "}))

	_, err = f.users.Get(f.ctx, "zz")
	assert.ErrorIs(t, err, attendance.ErrUserNotFound)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_SaveEventValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		e    attendance.ScheduledEvent
	}{
		{"missing id", attendance.ScheduledEvent{Start: at(0, 9, 0), Category: attendance.CategoryWorkshop}},
		{"missing start", attendance.ScheduledEvent{ID: "e", Category: attendance.CategoryWorkshop}},
		{"end before start", attendance.ScheduledEvent{ID: "e", Start: at(0, 9, 0), End: at(0, 8, 0), Category: attendance.CategoryWorkshop}},
		{"missing category", attendance.ScheduledEvent{ID: "e", Start: at(0, 9, 0)}},
		{"single-day category spanning days", attendance.ScheduledEvent{ID: "e", Start: at(0, 9, 0), End: at(1, 9, 0), Category: attendance.CategoryWorkshop}},
		{"reserved id", attendance.ScheduledEvent{ID: "e.1", Start: at(0, 9, 0), Category: attendance.CategoryWorkshop}},
		{"reserved category", attendance.ScheduledEvent{ID: "e", Start: at(0, 9, 0), Category: "taller.avanzado"}},
		{"category with slash", attendance.ScheduledEvent{ID: "e", Start: at(0, 9, 0), Category: "a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.catalog.SaveEvent(f.ctx, tt.e), attendance.ErrInvalidEvent)
		})
	}
}

func TestCatalog_EventsOnCoversMultiDayRange(t *testing.T) {
	f := newFixture(t)
	f.event("retiro", attendance.CategoryRetreat, "Casa", at(0, 8, 0), at(2, 18, 0))
	f.event("taller", attendance.CategoryWorkshop, "Aurora", at(1, 19, 0), at(1, 21, 0))

	day1, err := f.catalog.EventsOn(f.ctx, day0.AddDays(1))
	require.NoError(t, err)
	require.Len(t, day1, 2)
	assert.Equal(t, "retiro", day1[0].ID)
	assert.Equal(t, "taller", day1[1].ID)

	day3, err := f.catalog.EventsOn(f.ctx, day0.AddDays(3))
	require.NoError(t, err)
	assert.Empty(t, day3)
}

func TestCatalog_InviteSchedulesAndKeepsAttendance(t *testing.T) {
	// GIVEN: u1 attended e1 without an invitation
	// WHEN: Inviting u1 and u2 afterwards
	// THEN: u1 stays attended, u2 is scheduled and unattended

	f := newFixture(t)
	f.user("u1", "u2")
	f.event("e1", attendance.CategoryHacienda, "Aurora", at(0, 9, 0), at(0, 13, 0))
	_, err := f.in("u1", "Aurora", at(0, 9, 0))
	require.NoError(t, err)

	require.NoError(t, f.catalog.Invite(f.ctx, "e1", []string{"u1", "u2"}))

	e, err := f.catalog.Event(f.ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u1": true, "u2": false}, e.Participants)

	assert.True(t, f.load("u1").Events[attendance.CategoryHacienda]["e1"].Attended)
	u2 := f.load("u2").Events[attendance.CategoryHacienda]["e1"]
	assert.True(t, u2.Scheduled)
	assert.False(t, u2.Attended)

	assert.ErrorIs(t, f.catalog.Invite(f.ctx, "e1", []string{"ghost"}), attendance.ErrUserNotFound)
	assert.ErrorIs(t, f.catalog.Invite(f.ctx, "nope", []string{"u1"}), attendance.ErrEventNotFound)
}

// =============================================================================
// RESOLVER
// =============================================================================

func TestResolver_EventWithoutLocationMatchesAnywhere(t *testing.T) {
	f := newFixture(t)
	f.event("global", attendance.CategoryGroupMeeting, "", at(0, 19, 0), at(0, 21, 0))
	r := attendance.NewResolver(f.catalog, orgZone)

	e, err := r.Resolve(f.ctx, day0, "Anywhere", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "global", e.ID)

	none, err := r.Resolve(f.ctx, day0.AddDays(1), "Anywhere", "")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResolver_LocationFilter(t *testing.T) {
	f := newFixture(t)
	f.event("a", attendance.CategoryWorkshop, "Aurora", at(0, 19, 0), at(0, 21, 0))
	f.event("b", attendance.CategoryWorkshop, "Centro", at(0, 19, 0), at(0, 21, 0))
	r := attendance.NewResolver(f.catalog, orgZone)

	e, err := r.Resolve(f.ctx, day0, "centro", "")
	require.NoError(t, err)
	assert.Equal(t, "b", e.ID)

	_, err = r.Resolve(f.ctx, day0, "", "")
	assert.ErrorIs(t, err, attendance.ErrAmbiguousEvent, "no location means both candidates")
}
