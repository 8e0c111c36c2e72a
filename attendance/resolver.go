package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// EVENT RESOLVER - Picks exactly one target event for a scan, or none
// =============================================================================

// Resolver applies the matching and tie-break rules:
//
//  1. events starting on the scan date, plus events whose date range covers it
//  2. filtered by normalized location when one is given
//  3. filtered by category when a hint is given
//  4. zero → nil, one → it, more → *AmbiguousEventError
//
// It never guesses among several same-day events.
type Resolver struct {
	Catalog EventCatalog
	Loc     *time.Location
}

func NewResolver(catalog EventCatalog, loc *time.Location) *Resolver {
	return &Resolver{Catalog: catalog, Loc: loc}
}

func (r *Resolver) Resolve(ctx context.Context, date generic.Date, location string, categoryHint Category) (*ScheduledEvent, error) {
	candidates, err := r.Candidates(ctx, date, location, categoryHint)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		e := candidates[0]
		return &e, nil
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return nil, &AmbiguousEventError{Date: date, Location: location, Candidates: ids}
	}
}

// Candidates returns every event that could satisfy the scan, in start order.
func (r *Resolver) Candidates(ctx context.Context, date generic.Date, location string, categoryHint Category) ([]ScheduledEvent, error) {
	events, err := r.Catalog.EventsOn(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", date, err)
	}

	var out []ScheduledEvent
	for _, e := range events {
		if e.StartDate(r.Loc) != date && !e.Covers(date, r.Loc) {
			continue
		}
		if location != "" && !e.AtLocation(location) {
			continue
		}
		if categoryHint != "" && e.Category != categoryHint {
			continue
		}
		out = append(out, e)
	}
	sortEvents(out)
	return out, nil
}

// Hinted loads an explicitly chosen event and checks it covers the scan date.
func (r *Resolver) Hinted(ctx context.Context, eventID string, date generic.Date) (*ScheduledEvent, error) {
	e, err := r.Catalog.Event(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !e.Covers(date, r.Loc) {
		return nil, fmt.Errorf("%w: %s on %s", ErrEventNotApplicable, eventID, date)
	}
	return e, nil
}
