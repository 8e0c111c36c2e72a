package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// ATTENDANCE RECORDER - Multi-path session writes
// =============================================================================

// Recorder writes sessions as single ordered batches. Every batch puts the
// session-index update last: on a store without atomic batches a failure
// part-way leaves the index unchanged, so the open/closed state seen by the
// finder's first step is always the last thing to change.
type Recorder struct {
	Store  generic.TreeStore
	Stats  *StatsAggregator
	Loc    *time.Location
	Logger *slog.Logger
}

func NewRecorder(store generic.TreeStore, stats *StatsAggregator, loc *time.Location, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: store, Stats: stats, Loc: loc, Logger: logger}
}

// OpenInput describes a clock-in that passed resolution.
type OpenInput struct {
	User      *User
	Location  string
	Timestamp time.Time
	Event     *ScheduledEvent // nil for general attendance
	Category  Category
	Lateness  Lateness
}

// Opened is the outcome of OpenSession. When Existing is set another open
// session inside the day window was detected just before writing; nothing
// was written and Key names that session.
type Opened struct {
	Key        string
	Existing   *OpenSession
	Stats      Stats
	AutoClosed []string
}

// OpenSession creates the attendance record, links the event, applies the
// clock-in stats and adds the session-index entry.
//
// Open index entries older than the day window cannot be closed by a scan
// any more; they are closed here with autoClosed set and contribute no hours.
func (r *Recorder) OpenSession(ctx context.Context, in OpenInput) (Opened, error) {
	userID := in.User.ID
	locKey := LocationKey(in.Location)
	if locKey == "" {
		return Opened{}, fmt.Errorf("%w: location is required to open a session", ErrInvalidScan)
	}
	date := generic.DateOf(in.Timestamp, r.Loc)
	key := SessionKey(in.Timestamp, userID)

	index, err := r.sessionIndex(ctx, userID)
	if err != nil {
		return Opened{}, err
	}
	if existing := openInWindow(userID, index, date); existing != nil {
		return Opened{Key: existing.Key, Existing: existing}, nil
	}
	prevStats, err := r.readStats(ctx, userID)
	if err != nil {
		return Opened{}, err
	}

	record := AttendanceRecord{
		UserID:      userID,
		UserName:    in.User.Name,
		ClockInTime: in.Timestamp,
		EventType:   in.Category,
		Location:    in.Location,
		Late:        in.Lateness.Late,
		MinutesLate: in.Lateness.MinutesLate,
	}
	entry := SessionEntry{
		ClockInTime: in.Timestamp,
		Location:    in.Location,
		LocationKey: locKey,
		Date:        string(date),
		Category:    in.Category,
	}
	if in.Event != nil {
		record.EventID = in.Event.ID
		record.EventTitle = in.Event.Title
		entry.EventID = in.Event.ID
	}
	stats := r.Stats.OnClockIn(prevStats, in.Timestamp, in.Lateness.Late)

	var b generic.Batch
	b.Set(locationPath(locKey), map[string]any{"name": in.Location})
	b.Set(recordPath(locKey, date, key), record)
	b.Set(userLocationPath(userID), in.Location)
	if e := in.Event; e != nil {
		at := in.Timestamp
		b.Set(userEventPath(userID, e.Category, e.ID), EventEntry{
			Date:       string(e.StartDate(r.Loc)),
			Scheduled:  true,
			Attended:   true,
			AttendedAt: &at,
			EventID:    e.ID,
		})
		b.Set(participantPath(e.ID, userID), true)
	}
	b.Set(statsPath(userID), stats)

	closures, closed, err := r.autoClose(ctx, userID, index, key, in.Timestamp)
	if err != nil {
		return Opened{}, err
	}
	b.Append(closures)
	b.Set(sessionPath(userID, key), entry)

	if err := r.Store.BatchWrite(ctx, b); err != nil {
		return Opened{}, fmt.Errorf("open session %s for %s: %w", key, userID, err)
	}
	if len(closed) > 0 {
		r.Logger.Warn("auto-closed stale sessions",
			"user_id", userID, "session_key", key, "closed", closed)
	}
	return Opened{Key: key, Stats: stats, AutoClosed: closed}, nil
}

// CloseInput describes a clock-out against a session found by the Finder.
type CloseInput struct {
	User      *User
	Session   *OpenSession
	Timestamp time.Time
}

// Closure is the outcome of CloseSession.
type Closure struct {
	Hours      float64
	Clamped    bool
	Stats      Stats
	AutoClosed []string
}

// CloseSession stamps the clock-out on the record and the index entry.
// A session found through an attendance log rather than the index gets its
// index entry rewritten in full, repairing the index.
func (r *Recorder) CloseSession(ctx context.Context, in CloseInput) (Closure, error) {
	userID := in.User.ID
	s := in.Session
	closedErr := &SessionClosedError{UserID: userID, SessionKey: s.Key}

	rp := recordPath(s.LocationKey, s.Date, s.Key)
	raw, err := r.Store.Read(ctx, rp)
	if err != nil {
		return Closure{}, fmt.Errorf("read attendance record %s: %w", rp, err)
	}
	var record AttendanceRecord
	if err := generic.Decode(raw, &record); err != nil {
		return Closure{}, fmt.Errorf("decode attendance record %s: %w", rp, err)
	}
	if raw != nil && record.UserID != userID {
		raw = nil
	}
	if raw != nil && record.ClockOutTime != nil {
		return Closure{}, closedErr
	}

	index, err := r.sessionIndex(ctx, userID)
	if err != nil {
		return Closure{}, err
	}
	entry, indexed := index[s.Key]
	if indexed && !entry.Open() {
		return Closure{}, closedErr
	}
	prevStats, err := r.readStats(ctx, userID)
	if err != nil {
		return Closure{}, err
	}

	hours, clamped := HoursWorked(s.ClockInTime, in.Timestamp)
	h := hours.InexactFloat64()
	out := in.Timestamp
	stats := r.Stats.OnClockOut(prevStats, h, out)

	var b generic.Batch
	if raw != nil {
		b.Set(generic.Join(rp, "clockOutTime"), out)
		b.Set(generic.Join(rp, "hoursWorked"), h)
		if clamped {
			b.Set(generic.Join(rp, "hoursClamped"), true)
		}
	}
	b.Set(statsPath(userID), stats)

	closures, closed, err := r.autoClose(ctx, userID, index, s.Key, out)
	if err != nil {
		return Closure{}, err
	}
	b.Append(closures)

	if indexed {
		b.Set(generic.Join(sessionPath(userID, s.Key), "clockOutTime"), out)
	} else {
		b.Set(sessionPath(userID, s.Key), SessionEntry{
			ClockInTime:  s.ClockInTime,
			ClockOutTime: &out,
			Location:     s.Location,
			LocationKey:  s.LocationKey,
			Date:         string(s.Date),
			EventID:      s.EventID,
			Category:     s.Category,
		})
	}

	if err := r.Store.BatchWrite(ctx, b); err != nil {
		return Closure{}, fmt.Errorf("close session %s for %s: %w", s.Key, userID, err)
	}
	if clamped {
		r.Logger.Warn("hours clamped",
			"user_id", userID, "session_key", s.Key, "hours", h)
	}
	if len(closed) > 0 {
		r.Logger.Warn("auto-closed stale sessions",
			"user_id", userID, "session_key", s.Key, "closed", closed)
	}
	return Closure{Hours: h, Clamped: clamped, Stats: stats, AutoClosed: closed}, nil
}

// autoClose builds the updates closing every open index entry except keep.
// Record updates come first, index updates last.
func (r *Recorder) autoClose(ctx context.Context, userID string, index map[string]SessionEntry, keep string, at time.Time) (generic.Batch, []string, error) {
	var keys []string
	for k, e := range index {
		if k != keep && e.Open() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var records, entries generic.Batch
	for _, k := range keys {
		e := index[k]
		if e.LocationKey != "" && e.Date != "" {
			rp := recordPath(e.LocationKey, generic.Date(e.Date), k)
			raw, err := r.Store.Read(ctx, rp)
			if err != nil {
				return generic.Batch{}, nil, fmt.Errorf("read attendance record %s: %w", rp, err)
			}
			var rec AttendanceRecord
			if err := generic.Decode(raw, &rec); err != nil {
				return generic.Batch{}, nil, err
			}
			if raw != nil && rec.UserID == userID && rec.Open() {
				records.Set(generic.Join(rp, "clockOutTime"), at)
				records.Set(generic.Join(rp, "autoClosed"), true)
			}
		}
		entries.Set(generic.Join(sessionPath(userID, k), "clockOutTime"), at)
		entries.Set(generic.Join(sessionPath(userID, k), "autoClosed"), true)
	}
	records.Append(entries)
	return records, keys, nil
}

func (r *Recorder) sessionIndex(ctx context.Context, userID string) (map[string]SessionEntry, error) {
	raw, err := r.Store.Read(ctx, sessionsPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read session index for %s: %w", userID, err)
	}
	index := make(map[string]SessionEntry)
	if err := generic.Decode(raw, &index); err != nil {
		return nil, fmt.Errorf("decode session index for %s: %w", userID, err)
	}
	return index, nil
}

func (r *Recorder) readStats(ctx context.Context, userID string) (Stats, error) {
	raw, err := r.Store.Read(ctx, statsPath(userID))
	if err != nil {
		return Stats{}, fmt.Errorf("read stats for %s: %w", userID, err)
	}
	var s Stats
	if err := generic.Decode(raw, &s); err != nil {
		return Stats{}, fmt.Errorf("decode stats for %s: %w", userID, err)
	}
	return s, nil
}

// openInWindow returns the latest open index entry dated d or the day before.
func openInWindow(userID string, index map[string]SessionEntry, d generic.Date) *OpenSession {
	var matches []OpenSession
	for k, e := range index {
		if !e.Open() || (e.Date != string(d) && e.Date != string(d.Prev())) {
			continue
		}
		matches = append(matches, OpenSession{
			Key:         k,
			UserID:      userID,
			ClockInTime: e.ClockInTime,
			Location:    e.Location,
			LocationKey: e.LocationKey,
			Date:        generic.Date(e.Date),
			EventID:     e.EventID,
			Category:    e.Category,
			FoundBy:     StepSessionIndex,
		})
	}
	return latest(matches)
}
