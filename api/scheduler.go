/*
scheduler.go - Cron-driven absence sweep

PURPOSE:
  Runs the absence sweep on a cron schedule (default nightly at 02:00 in
  the organizational timezone) so invited users who never scanned are
  marked absent without operator action.

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow sweep is never overlapped
  - The last run is kept in memory for the admin endpoint
  - RunNow shares the code path with the scheduled job

CONFIGURATION:
  - Spec: cron expression (ABSENCE_CRON)
  - Lookback: how far back ended events are considered (ABSENCE_LOOKBACK_DAYS)
  - Enabled: whether Start schedules anything (SCHEDULER_ENABLED)

USAGE:
  s := NewAbsenceScheduler(sweeper, clock, logger)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - attendance/absence.go: AbsenceSweeper
  - handlers.go: SweepAbsences endpoint (manual run)
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

const (
	defaultAbsenceSpec = "0 2 * * *"
	defaultLookback    = 7 * 24 * time.Hour
	sweepTimeout       = 5 * time.Minute
)

// SweepRun is the record of one sweep.
type SweepRun struct {
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Trigger    string                 `json:"trigger"` // "cron" or "manual"
	Result     attendance.SweepResult `json:"result"`
	Error      string                 `json:"error,omitempty"`
}

// AbsenceScheduler runs the absence sweep on a cron schedule.
type AbsenceScheduler struct {
	Sweeper  *attendance.AbsenceSweeper
	Clock    generic.Clock
	Spec     string
	Lookback time.Duration
	Enabled  bool
	Logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	lastRun *SweepRun
}

func NewAbsenceScheduler(sweeper *attendance.AbsenceSweeper, clock generic.Clock, logger *slog.Logger) *AbsenceScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AbsenceScheduler{
		Sweeper:  sweeper,
		Clock:    clock,
		Spec:     defaultAbsenceSpec,
		Lookback: defaultLookback,
		Enabled:  true,
		Logger:   logger.With("component", "scheduler"),
	}
}

// Start schedules the sweep. It is a no-op when disabled.
func (s *AbsenceScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("absence scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.Logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithLocation(s.Clock.Location()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	id, err := c.AddFunc(s.Spec, func() { s.run("cron") })
	if err != nil {
		return fmt.Errorf("invalid absence cron %q: %w", s.Spec, err)
	}
	c.Start()
	s.cron, s.entry = c, id

	s.Logger.Info("absence scheduler started", "spec", s.Spec, "next_run", c.Entry(id).Next)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *AbsenceScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.Logger.Info("absence scheduler stopped")
}

// RunNow triggers an immediate sweep.
func (s *AbsenceScheduler) RunNow() SweepRun {
	return s.run("manual")
}

// LastRun returns the most recent run, or nil.
func (s *AbsenceScheduler) LastRun() *SweepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

// NextRun returns the next scheduled time, zero when not running.
func (s *AbsenceScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *AbsenceScheduler) run(trigger string) SweepRun {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	run := SweepRun{StartedAt: s.Clock.Now(), Trigger: trigger}
	res, err := s.Sweeper.Sweep(ctx, run.StartedAt, s.Lookback)
	run.Result = res
	run.FinishedAt = s.Clock.Now()
	if err != nil {
		run.Error = err.Error()
		s.Logger.Error("absence sweep failed", "trigger", trigger, "error", err)
	}

	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
	return run
}
