package attendance

import "github.com/warp/attendance-engine/generic"

// Store layout:
//
//	users/{userId}                              User
//	users/{userId}/stats                        Stats
//	users/{userId}/sessions/{sessionKey}        SessionEntry
//	users/{userId}/events/{category}/{instance} EventEntry
//	attendance/{locationKey}/{date}/{key}       AttendanceRecord
//	events/{eventId}                            ScheduledEvent
//	events/{eventId}/participants/{userId}      bool
//	locations/{locationKey}                     {name}
const (
	rootUsers      = "users"
	rootAttendance = "attendance"
	rootEvents     = "events"
	rootLocations  = "locations"
)

func userPath(userID string) string         { return generic.Join(rootUsers, userID) }
func statsPath(userID string) string        { return generic.Join(rootUsers, userID, "stats") }
func userLocationPath(userID string) string { return generic.Join(rootUsers, userID, "location") }
func sessionsPath(userID string) string     { return generic.Join(rootUsers, userID, "sessions") }
func sessionPath(userID, key string) string { return generic.Join(rootUsers, userID, "sessions", key) }
func userEventsPath(userID string) string   { return generic.Join(rootUsers, userID, "events") }
func dayLogPath(locKey string, d generic.Date) string {
	return generic.Join(rootAttendance, locKey, string(d))
}
func recordPath(locKey string, d generic.Date, key string) string {
	return generic.Join(rootAttendance, locKey, string(d), key)
}
func userEventPath(userID string, c Category, instance string) string {
	return generic.Join(rootUsers, userID, "events", generic.SafeKey(string(c)), instance)
}
func eventPath(eventID string) string { return generic.Join(rootEvents, eventID) }
func participantPath(eventID, userID string) string {
	return generic.Join(rootEvents, eventID, "participants", userID)
}
func locationPath(locKey string) string { return generic.Join(rootLocations, locKey) }

// RecordPath is exported for the report and API packages.
func RecordPath(location string, d generic.Date, key string) string {
	return recordPath(LocationKey(location), d, key)
}
