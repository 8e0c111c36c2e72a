package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/generic"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// ABSENCE SWEEP - Marks invited users who never showed up
// =============================================================================

const defaultSweepConcurrency = 4

// AbsenceSweeper marks scheduled, unattended event entries as absent once
// the event has ended. Running it twice marks nothing new.
type AbsenceSweeper struct {
	Store       generic.TreeStore
	Catalog     *TreeCatalog
	Stats       *StatsAggregator
	Logger      *slog.Logger
	Concurrency int

	// Lock, when set, serializes the per-user write with scans for that user.
	Lock func(userID string) (unlock func())
}

func NewAbsenceSweeper(store generic.TreeStore, catalog *TreeCatalog, stats *StatsAggregator, logger *slog.Logger) *AbsenceSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &AbsenceSweeper{
		Store:       store,
		Catalog:     catalog,
		Stats:       stats,
		Logger:      logger.With("component", "absence_sweep"),
		Concurrency: defaultSweepConcurrency,
	}
}

// SweepResult summarizes one run.
type SweepResult struct {
	Events int            `json:"events"`
	Users  int            `json:"users"`
	Marked int            `json:"marked"`
	ByUser map[string]int `json:"byUser,omitempty"`
}

// Sweep processes events that ended in (now - lookback, now].
func (s *AbsenceSweeper) Sweep(ctx context.Context, now time.Time, lookback time.Duration) (SweepResult, error) {
	events, err := s.Catalog.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	since := now.Add(-lookback)

	invited := make(map[string][]ScheduledEvent)
	result := SweepResult{ByUser: make(map[string]int)}
	for _, e := range events {
		if e.End.After(now) || !e.End.After(since) {
			continue
		}
		result.Events++
		for uid := range e.Participants {
			invited[uid] = append(invited[uid], e)
		}
	}

	userIDs := make([]string, 0, len(invited))
	for uid := range invited {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultSweepConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	for _, uid := range userIDs {
		uid := uid
		g.Go(func() error {
			n, err := s.sweepUser(gctx, uid, invited[uid])
			if err != nil {
				return err
			}
			if n > 0 {
				mu.Lock()
				result.Users++
				result.Marked += n
				result.ByUser[uid] = n
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	s.Logger.Info("absence sweep finished",
		"events", result.Events, "users", result.Users, "marked", result.Marked)
	return result, nil
}

// sweepUser writes one batch for the user: entries first, stats after.
func (s *AbsenceSweeper) sweepUser(ctx context.Context, userID string, events []ScheduledEvent) (int, error) {
	if s.Lock != nil {
		unlock := s.Lock(userID)
		defer unlock()
	}

	raw, err := s.Store.Read(ctx, userPath(userID))
	if err != nil {
		return 0, fmt.Errorf("read user %s: %w", userID, err)
	}
	if raw == nil {
		return 0, nil
	}
	user, err := decodeUser(userID, raw)
	if err != nil {
		return 0, err
	}

	var b generic.Batch
	marked := 0
	for _, e := range events {
		entry, ok := user.Events[e.Category][e.ID]
		if !ok || !entry.Scheduled || entry.Attended || entry.MarkedAbsent {
			continue
		}
		b.Set(generic.Join(userEventPath(userID, e.Category, e.ID), "markedAbsent"), true)
		marked++
	}
	if marked == 0 {
		return 0, nil
	}
	b.Set(statsPath(userID), s.Stats.OnAbsence(user.Stats, marked))

	if err := s.Store.BatchWrite(ctx, b); err != nil {
		return 0, fmt.Errorf("mark absences for %s: %w", userID, err)
	}
	return marked, nil
}
