/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  members, events and scans. Scans go through the same Reconcile path as
  POST /api/scans, so every scenario leaves the tree in a state the engine
  itself produced.

AVAILABLE SCENARIOS:
  basic-day:      One hacienda today, one punctual member, one late member
  padrino-ranks:  Two weeks of past events, three members at different tiers
  overnight:      Clock-in late yesterday, clock-out after midnight
  ambiguous-day:  Two events at one location on the same day

HOW SCENARIOS WORK:
  1. Reset the store
  2. Create users and events, invite participants
  3. Replay scans with fixed timestamps relative to today
  4. Optionally run the absence sweep

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "padrino-ranks"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-day",
		Name:        "Basic Day",
		Description: "One hacienda today: a punctual member who clocked out and a late member still inside",
	},
	{
		ID:          "padrino-ranks",
		Name:        "Padrino Ranks",
		Description: "Two weeks of haciendas, workshops and group meetings; members end at tiers 4, 3 and 1",
	},
	{
		ID:          "overnight",
		Name:        "Overnight Shift",
		Description: "Clock-in at 22:00 yesterday, clock-out at 02:00 today closes the same session",
	},
	{
		ID:          "ambiguous-day",
		Name:        "Ambiguous Day",
		Description: "A workshop and a group meeting at the same place today; scans must name the event",
	},
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"basic-day":     loadBasicDay,
	"padrino-ranks": loadPadrinoRanks,
	"overnight":     loadOvernight,
	"ambiguous-day": loadAmbiguousDay,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if h.Resetter == nil {
		return errors.New("store does not support reset")
	}
	return h.Resetter.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	demoHacienda = "Hacienda San Miguel"
	demoCentro   = "Centro Comunitario"
)

func loadBasicDay(ctx context.Context, h *Handler) error {
	loc := h.Clock.Location()
	today := generic.DateOf(h.Clock.Now(), loc)

	if err := saveUsers(ctx, h, map[string]string{"ana": "Ana Torres", "luis": "Luis Méndez"}); err != nil {
		return err
	}
	ev := attendance.ScheduledEvent{
		ID:       "hacienda-" + today.String(),
		Title:    "Hacienda de la semana",
		Start:    today.At(9, 0, loc),
		End:      today.At(13, 0, loc),
		Location: demoHacienda,
		Category: attendance.CategoryHacienda,
	}
	if err := saveEvent(ctx, h, ev, "ana", "luis"); err != nil {
		return err
	}

	return replay(ctx, h, []attendance.ScanRequest{
		{UserID: "ana", Mode: attendance.ModeIn, Location: demoHacienda, Timestamp: today.At(8, 55, loc)},
		{UserID: "ana", Mode: attendance.ModeOut, Location: demoHacienda, Timestamp: today.At(13, 5, loc)},
		{UserID: "luis", Mode: attendance.ModeIn, Location: demoHacienda, Timestamp: today.At(9, 40, loc)},
	})
}

// loadPadrinoRanks schedules four haciendas, five workshops and two group
// meetings on distinct past days.
//
//	maria:  attends everything               → tier 4
//	jose:   misses one workshop (80%)        → tier 3
//	carmen: misses one hacienda (75%)        → tier 1
func loadPadrinoRanks(ctx context.Context, h *Handler) error {
	loc := h.Clock.Location()
	today := generic.DateOf(h.Clock.Now(), loc)

	members := map[string]string{"maria": "María López", "jose": "José Ramírez", "carmen": "Carmen Ruiz"}
	if err := saveUsers(ctx, h, members); err != nil {
		return err
	}

	type plan struct {
		category attendance.Category
		location string
		hour     int
		skip     string
	}
	plans := []plan{
		{attendance.CategoryHacienda, demoHacienda, 9, ""},
		{attendance.CategoryWorkshop, demoCentro, 19, ""},
		{attendance.CategoryGroupMeeting, demoCentro, 18, ""},
		{attendance.CategoryHacienda, demoHacienda, 9, "carmen"},
		{attendance.CategoryWorkshop, demoCentro, 19, ""},
		{attendance.CategoryWorkshop, demoCentro, 19, "jose"},
		{attendance.CategoryHacienda, demoHacienda, 9, ""},
		{attendance.CategoryWorkshop, demoCentro, 19, ""},
		{attendance.CategoryGroupMeeting, demoCentro, 18, ""},
		{attendance.CategoryHacienda, demoHacienda, 9, ""},
		{attendance.CategoryWorkshop, demoCentro, 19, ""},
	}

	var scans []attendance.ScanRequest
	for i, p := range plans {
		day := today.AddDays(-(len(plans) - i))
		ev := attendance.ScheduledEvent{
			ID:       fmt.Sprintf("%s-%s", p.category, day),
			Title:    fmt.Sprintf("%s %s", p.category, day),
			Start:    day.At(p.hour, 0, loc),
			End:      day.At(p.hour+2, 0, loc),
			Location: p.location,
			Category: p.category,
		}
		if err := saveEvent(ctx, h, ev, "maria", "jose", "carmen"); err != nil {
			return err
		}
		for _, uid := range []string{"maria", "jose", "carmen"} {
			if uid == p.skip {
				continue
			}
			scans = append(scans,
				attendance.ScanRequest{UserID: uid, Mode: attendance.ModeIn, Location: p.location, Timestamp: day.At(p.hour, 0, loc).Add(-5 * time.Minute)},
				attendance.ScanRequest{UserID: uid, Mode: attendance.ModeOut, Location: p.location, Timestamp: day.At(p.hour+2, 0, loc)},
			)
		}
	}
	if err := replay(ctx, h, scans); err != nil {
		return err
	}

	_, err := h.Sweeper.Sweep(ctx, h.Clock.Now(), time.Duration(len(plans)+1)*24*time.Hour)
	return err
}

func loadOvernight(ctx context.Context, h *Handler) error {
	loc := h.Clock.Location()
	today := generic.DateOf(h.Clock.Now(), loc)
	yesterday := today.Prev()

	if err := saveUsers(ctx, h, map[string]string{"pedro": "Pedro Sánchez"}); err != nil {
		return err
	}
	return replay(ctx, h, []attendance.ScanRequest{
		{UserID: "pedro", Mode: attendance.ModeIn, Location: demoCentro, Timestamp: yesterday.At(22, 0, loc)},
		{UserID: "pedro", Mode: attendance.ModeOut, Timestamp: today.At(2, 0, loc)},
	})
}

func loadAmbiguousDay(ctx context.Context, h *Handler) error {
	loc := h.Clock.Location()
	today := generic.DateOf(h.Clock.Now(), loc)

	if err := saveUsers(ctx, h, map[string]string{"sofia": "Sofía Herrera", "diego": "Diego Castro"}); err != nil {
		return err
	}
	workshop := attendance.ScheduledEvent{
		ID:       "taller-" + today.String(),
		Title:    "Taller de liderazgo",
		Start:    today.At(17, 0, loc),
		End:      today.At(19, 0, loc),
		Location: demoCentro,
		Category: attendance.CategoryWorkshop,
	}
	meeting := attendance.ScheduledEvent{
		ID:       "reunion-" + today.String(),
		Title:    "Reunión de grupo",
		Start:    today.At(19, 30, loc),
		End:      today.At(21, 0, loc),
		Location: demoCentro,
		Category: attendance.CategoryGroupMeeting,
	}
	if err := saveEvent(ctx, h, workshop, "sofia", "diego"); err != nil {
		return err
	}
	if err := saveEvent(ctx, h, meeting, "sofia", "diego"); err != nil {
		return err
	}

	// sofia names the event; diego's scan is rejected as ambiguous and
	// stays visible in the audit log.
	if err := replay(ctx, h, []attendance.ScanRequest{
		{UserID: "sofia", Mode: attendance.ModeIn, Location: demoCentro, EventHint: workshop.ID, Timestamp: today.At(16, 58, loc)},
	}); err != nil {
		return err
	}
	scan := attendance.ScanRequest{UserID: "diego", Mode: attendance.ModeIn, Location: demoCentro, Timestamp: today.At(17, 2, loc)}
	res, attempts, err := h.Reconcile(ctx, scan)
	h.appendAudit(ctx, scan, res, attempts, err)
	if !errors.Is(err, attendance.ErrAmbiguousEvent) {
		return fmt.Errorf("expected an ambiguous scan for diego, got %v", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func saveUsers(ctx context.Context, h *Handler, users map[string]string) error {
	for id, name := range users {
		if err := h.Directory.Save(ctx, attendance.User{ID: id, Name: name, Status: attendance.StatusActive}); err != nil {
			return fmt.Errorf("save user %s: %w", id, err)
		}
	}
	return nil
}

func saveEvent(ctx context.Context, h *Handler, e attendance.ScheduledEvent, invitees ...string) error {
	if err := h.Catalog.SaveEvent(ctx, e); err != nil {
		return fmt.Errorf("save event %s: %w", e.ID, err)
	}
	if len(invitees) == 0 {
		return nil
	}
	if err := h.Catalog.Invite(ctx, e.ID, invitees); err != nil {
		return fmt.Errorf("invite to %s: %w", e.ID, err)
	}
	return nil
}

// replay reconciles scans in order and audits each one.
func replay(ctx context.Context, h *Handler, scans []attendance.ScanRequest) error {
	for _, scan := range scans {
		res, attempts, err := h.Reconcile(ctx, scan)
		h.appendAudit(ctx, scan, res, attempts, err)
		if err != nil {
			return fmt.Errorf("scan %s %s at %s: %w", scan.UserID, scan.Mode, scan.Timestamp.Format(time.RFC3339), err)
		}
	}
	return nil
}
