package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// EVENT CATALOG - Reader of scheduled events
// =============================================================================

// EventCatalog returns candidate scheduled events.
type EventCatalog interface {
	// EventsOn returns events whose [start date, end date] covers date.
	EventsOn(ctx context.Context, date generic.Date) ([]ScheduledEvent, error)

	// Event loads one event; ErrEventNotFound if missing.
	Event(ctx context.Context, id string) (*ScheduledEvent, error)
}

// TreeCatalog reads events/ from the tree store and also handles
// the administrative writes (save, invite).
type TreeCatalog struct {
	Store generic.TreeStore
	Loc   *time.Location
}

func NewTreeCatalog(store generic.TreeStore, loc *time.Location) *TreeCatalog {
	return &TreeCatalog{Store: store, Loc: loc}
}

var _ EventCatalog = (*TreeCatalog)(nil)

func (c *TreeCatalog) Event(ctx context.Context, id string) (*ScheduledEvent, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEventNotFound, err)
	}
	raw, err := c.Store.Read(ctx, eventPath(id))
	if err != nil {
		return nil, fmt.Errorf("read event %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return decodeEvent(id, raw)
}

func (c *TreeCatalog) EventsOn(ctx context.Context, date generic.Date) ([]ScheduledEvent, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []ScheduledEvent
	for _, e := range all {
		if e.StartDate(c.Loc) == date || e.Covers(date, c.Loc) {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns all events ordered by start, then id.
func (c *TreeCatalog) List(ctx context.Context) ([]ScheduledEvent, error) {
	raw, err := c.Store.Read(ctx, rootEvents)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	children := generic.Children(raw)
	events := make([]ScheduledEvent, 0, len(children))
	for id, node := range children {
		e, err := decodeEvent(id, node)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	sortEvents(events)
	return events, nil
}

// SaveEvent writes the immutable event fields. Participants are left untouched.
func (c *TreeCatalog) SaveEvent(ctx context.Context, e ScheduledEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := validateID(e.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.End.IsZero() {
		e.End = e.Start
	}
	if !IsMultiDay(e.Category) && e.EndDate(c.Loc) != e.StartDate(c.Loc) {
		return fmt.Errorf("%w: only multi-day categories may end on a later day", ErrInvalidEvent)
	}

	base := eventPath(e.ID)
	var b generic.Batch
	b.Set(generic.Join(base, "title"), e.Title)
	b.Set(generic.Join(base, "start"), e.Start.In(c.loc()).Format(time.RFC3339))
	b.Set(generic.Join(base, "end"), e.End.In(c.loc()).Format(time.RFC3339))
	b.Set(generic.Join(base, "location"), e.Location)
	b.Set(generic.Join(base, "category"), string(e.Category))
	return c.Store.BatchWrite(ctx, b)
}

// Invite schedules users for an event. Entries already attended are kept as is.
func (c *TreeCatalog) Invite(ctx context.Context, eventID string, userIDs []string) error {
	e, err := c.Event(ctx, eventID)
	if err != nil {
		return err
	}

	var b generic.Batch
	for _, uid := range userIDs {
		if err := validateID(uid); err != nil {
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		name, err := c.Store.Read(ctx, generic.Join(userPath(uid), "name"))
		if err != nil {
			return fmt.Errorf("read user %s: %w", uid, err)
		}
		if name == nil {
			return fmt.Errorf("%w: %s", ErrUserNotFound, uid)
		}

		entryPath := userEventPath(uid, e.Category, e.ID)
		raw, err := c.Store.Read(ctx, entryPath)
		if err != nil {
			return fmt.Errorf("read event entry: %w", err)
		}
		var entry EventEntry
		if err := generic.Decode(raw, &entry); err != nil {
			return err
		}
		if entry.Attended {
			continue
		}
		b.Set(entryPath, EventEntry{
			Date:         string(e.StartDate(c.Loc)),
			Scheduled:    true,
			MarkedAbsent: entry.MarkedAbsent,
			EventID:      e.ID,
		})
		b.Set(participantPath(e.ID, uid), false)
	}
	if b.Len() == 0 {
		return nil
	}
	return c.Store.BatchWrite(ctx, b)
}

func (c *TreeCatalog) loc() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

func decodeEvent(id string, raw any) (*ScheduledEvent, error) {
	var e ScheduledEvent
	if err := generic.Decode(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", id, err)
	}
	e.ID = id
	if e.End.IsZero() {
		e.End = e.Start
	}
	return &e, nil
}

func sortEvents(events []ScheduledEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}
