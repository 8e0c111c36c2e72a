package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// OPEN SESSION FINDER - Locates the user's unmatched clock-in
// =============================================================================

// SearchStep records which step of the chain found the session.
type SearchStep string

const (
	StepSessionIndex SearchStep = "session_index"
	StepLocationLog  SearchStep = "location_log"
	StepGlobalSweep  SearchStep = "global_sweep"
)

// OpenSession is an unmatched clock-in.
type OpenSession struct {
	Key         string
	UserID      string
	ClockInTime time.Time
	Location    string
	LocationKey string
	Date        generic.Date
	EventID     string
	Category    Category
	FoundBy     SearchStep
}

// FindQuery is the input of Find. Location is the scan's location, if any.
type FindQuery struct {
	UserID   string
	AsOf     generic.Date
	Location string
}

// Finder searches, first match wins:
//
//  1. the user's own session index, entries dated AsOf or the day before
//  2. the scan location's attendance log for AsOf
//  3. every registered location's log for AsOf and the day before
//
// Within a step the latest clock-in wins; equal instants fall back to the
// lexicographically greatest session key.
type Finder struct {
	Store generic.TreeStore
}

func NewFinder(store generic.TreeStore) *Finder {
	return &Finder{Store: store}
}

// Find returns nil, nil when no open session exists anywhere.
func (f *Finder) Find(ctx context.Context, q FindQuery) (*OpenSession, error) {
	steps := []func(context.Context, FindQuery) (*OpenSession, error){
		f.fromIndex,
		f.fromLocationLog,
		f.fromGlobalSweep,
	}
	for _, step := range steps {
		found, err := step(ctx, q)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

func (f *Finder) fromIndex(ctx context.Context, q FindQuery) (*OpenSession, error) {
	entries, err := f.sessionIndex(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return openInWindow(q.UserID, entries, q.AsOf), nil
}

func (f *Finder) fromLocationLog(ctx context.Context, q FindQuery) (*OpenSession, error) {
	locKey := LocationKey(q.Location)
	if locKey == "" {
		return nil, nil
	}
	matches, err := f.scanLog(ctx, q.UserID, locKey, q.AsOf, StepLocationLog)
	if err != nil {
		return nil, err
	}
	return latest(matches), nil
}

func (f *Finder) fromGlobalSweep(ctx context.Context, q FindQuery) (*OpenSession, error) {
	locKeys, err := f.knownLocations(ctx)
	if err != nil {
		return nil, err
	}

	var matches []OpenSession
	for _, locKey := range locKeys {
		for _, d := range []generic.Date{q.AsOf, q.AsOf.Prev()} {
			found, err := f.scanLog(ctx, q.UserID, locKey, d, StepGlobalSweep)
			if err != nil {
				return nil, err
			}
			matches = append(matches, found...)
		}
	}
	return latest(matches), nil
}

func (f *Finder) scanLog(ctx context.Context, userID, locKey string, d generic.Date, step SearchStep) ([]OpenSession, error) {
	raw, err := f.Store.Read(ctx, dayLogPath(locKey, d))
	if err != nil {
		return nil, fmt.Errorf("read attendance log %s/%s: %w", locKey, d, err)
	}

	var matches []OpenSession
	for key, node := range generic.Children(raw) {
		var rec AttendanceRecord
		if err := generic.Decode(node, &rec); err != nil {
			return nil, fmt.Errorf("decode attendance record %s: %w", key, err)
		}
		if rec.UserID != userID || !rec.Open() {
			continue
		}
		matches = append(matches, OpenSession{
			Key:         key,
			UserID:      userID,
			ClockInTime: rec.ClockInTime,
			Location:    rec.Location,
			LocationKey: locKey,
			Date:        d,
			EventID:     rec.EventID,
			Category:    rec.EventType,
			FoundBy:     step,
		})
	}
	return matches, nil
}

func (f *Finder) sessionIndex(ctx context.Context, userID string) (map[string]SessionEntry, error) {
	raw, err := f.Store.Read(ctx, sessionsPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read session index for %s: %w", userID, err)
	}
	entries := make(map[string]SessionEntry)
	if err := generic.Decode(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode session index for %s: %w", userID, err)
	}
	return entries, nil
}

func (f *Finder) knownLocations(ctx context.Context) ([]string, error) {
	raw, err := f.Store.Read(ctx, rootLocations)
	if err != nil {
		return nil, fmt.Errorf("read location registry: %w", err)
	}
	keys := make([]string, 0)
	for k := range generic.Children(raw) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// latest picks the most recent clock-in; ties go to the greatest key.
func latest(matches []OpenSession) *OpenSession {
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.ClockInTime.After(best.ClockInTime) ||
			(m.ClockInTime.Equal(best.ClockInTime) && m.Key > best.Key) {
			best = m
		}
	}
	return &best
}
