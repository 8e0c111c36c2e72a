/*
engine.go - Reconciliation engine, the single entry point for scans

PURPOSE:
  Turns one ScanRequest into exactly one Result or a named error. The
  engine wires the resolver, finder, recorder and stats aggregator together
  and keeps no state between calls.

FLOW:
  in:  user → location check → finder (already open? NoOp)
           → resolver (or explicit event) → lateness → recorder.OpenSession
  out: user → finder (nothing? ErrNoOpenSession) → recorder.CloseSession

RETRIES:
  A call that fails with a retryable store error (generic.IsRetryable) may
  be repeated with the same request. A retried clock-in finds the session
  the failed attempt may have opened and answers NoOp; a retried clock-out
  answers ErrSessionAlreadyClosed or ErrNoOpenSession.

SEE ALSO:
  - resolver.go, finder.go, recorder.go, stats.go
*/
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/warp/attendance-engine/generic"
)

// EngineConfig wires an Engine.
type EngineConfig struct {
	Store    generic.TreeStore
	Clock    generic.Clock
	Catalog  EventCatalog // defaults to a TreeCatalog over Store
	Lateness LatenessConfig
	Logger   *slog.Logger
}

// Engine reconciles scans.
type Engine struct {
	clock     generic.Clock
	directory *Directory
	resolver  *Resolver
	finder    *Finder
	recorder  *Recorder
	stats     *StatsAggregator
	logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = &generic.OrgClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	loc := cfg.Clock.Location()
	if cfg.Catalog == nil {
		cfg.Catalog = NewTreeCatalog(cfg.Store, loc)
	}
	stats, err := NewStatsAggregator(cfg.Lateness, loc)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logger := cfg.Logger.With("component", "engine")
	return &Engine{
		clock:     cfg.Clock,
		directory: NewDirectory(cfg.Store),
		resolver:  NewResolver(cfg.Catalog, loc),
		finder:    NewFinder(cfg.Store),
		recorder:  NewRecorder(cfg.Store, stats, loc, logger),
		stats:     stats,
		logger:    logger,
	}, nil
}

// Clock returns the engine's organizational clock.
func (e *Engine) Clock() generic.Clock { return e.clock }

// Stats returns the aggregator used for lateness and counters.
func (e *Engine) Stats() *StatsAggregator { return e.stats }

// Reconcile processes one scan.
func (e *Engine) Reconcile(ctx context.Context, req ScanRequest) (Result, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ErrInvalidScan)
	}
	if req.Mode != ModeIn && req.Mode != ModeOut {
		return Result{}, fmt.Errorf("%w: mode must be %q or %q, got %q", ErrInvalidScan, ModeIn, ModeOut, req.Mode)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = e.clock.Now()
	}
	req.Location = strings.TrimSpace(req.Location)

	user, err := e.directory.Get(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if !user.Active() {
		return Result{}, fmt.Errorf("%w: %s", ErrUserInactive, user.ID)
	}

	var res Result
	if req.Mode == ModeIn {
		res, err = e.clockIn(ctx, user, req)
	} else {
		res, err = e.clockOut(ctx, user, req)
	}
	if err != nil {
		e.logger.Debug("scan rejected", "user_id", req.UserID, "mode", req.Mode, "error", err)
		return Result{}, err
	}
	e.logger.Info("scan reconciled",
		"user_id", res.UserID, "mode", req.Mode, "outcome", res.Outcome,
		"session_key", res.SessionKey, "found_by", res.FoundBy)
	return res, nil
}

func (e *Engine) clockIn(ctx context.Context, user *User, req ScanRequest) (Result, error) {
	if req.Location == "" {
		return Result{Outcome: OutcomeLocationRequired, UserID: user.ID}, nil
	}
	date := generic.DateOf(req.Timestamp, e.clock.Location())

	open, err := e.finder.Find(ctx, FindQuery{UserID: user.ID, AsOf: date, Location: req.Location})
	if err != nil {
		return Result{}, err
	}
	if open != nil {
		return noOp(user.ID, open, user.Stats), nil
	}

	var event *ScheduledEvent
	if req.EventHint != "" {
		event, err = e.resolver.Hinted(ctx, req.EventHint, date)
	} else {
		event, err = e.resolver.Resolve(ctx, date, req.Location, req.CategoryHint)
	}
	if err != nil {
		return Result{}, err
	}

	category := req.CategoryHint
	if event != nil {
		category = event.Category
	}
	if category == "" {
		category = CategoryGeneral
	}
	lateness := e.stats.Lateness(req.Timestamp, event, category)

	opened, err := e.recorder.OpenSession(ctx, OpenInput{
		User:      user,
		Location:  req.Location,
		Timestamp: req.Timestamp,
		Event:     event,
		Category:  category,
		Lateness:  lateness,
	})
	if err != nil {
		return Result{}, err
	}
	if opened.Existing != nil {
		return noOp(user.ID, opened.Existing, user.Stats), nil
	}

	return Result{
		Outcome:     OutcomeOpened,
		UserID:      user.ID,
		SessionKey:  opened.Key,
		Location:    req.Location,
		Date:        date,
		ClockInTime: req.Timestamp,
		Category:    category,
		Event:       event,
		Late:        lateness.Late,
		MinutesLate: lateness.MinutesLate,
		Stats:       opened.Stats,
	}, nil
}

func (e *Engine) clockOut(ctx context.Context, user *User, req ScanRequest) (Result, error) {
	date := generic.DateOf(req.Timestamp, e.clock.Location())

	open, err := e.finder.Find(ctx, FindQuery{UserID: user.ID, AsOf: date, Location: req.Location})
	if err != nil {
		return Result{}, err
	}
	if open == nil {
		return Result{}, fmt.Errorf("%w: user %s on %s", ErrNoOpenSession, user.ID, date)
	}

	closure, err := e.recorder.CloseSession(ctx, CloseInput{User: user, Session: open, Timestamp: req.Timestamp})
	if err != nil {
		return Result{}, err
	}

	out := req.Timestamp
	return Result{
		Outcome:      OutcomeClosed,
		UserID:       user.ID,
		SessionKey:   open.Key,
		Location:     open.Location,
		Date:         open.Date,
		ClockInTime:  open.ClockInTime,
		ClockOutTime: &out,
		Category:     open.Category,
		HoursWorked:  closure.Hours,
		HoursClamped: closure.Clamped,
		FoundBy:      open.FoundBy,
		Stats:        closure.Stats,
	}, nil
}

func noOp(userID string, s *OpenSession, stats Stats) Result {
	return Result{
		Outcome:     OutcomeNoOp,
		UserID:      userID,
		SessionKey:  s.Key,
		Location:    s.Location,
		Date:        s.Date,
		ClockInTime: s.ClockInTime,
		Category:    s.Category,
		FoundBy:     s.FoundBy,
		Stats:       stats,
	}
}
