// Package reaper is the supervisory sweep behind the guard's lazy staleness
// check. The guard only reclaims a stale task when the next dispatch for
// that project arrives; the reaper catches tasks in projects nobody is
// dispatching to anymore.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CarpseDeam/Claude-Conductor/internal/events"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
)

// Reaper periodically fails running tasks that outlived the staleness
// window without a lifecycle report.
type Reaper struct {
	ledger     *ledger.Ledger
	hub        *events.Hub
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func New(l *ledger.Ledger, hub *events.Hub, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{
		ledger:     l,
		hub:        hub,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     applog.WithComponent("reaper"),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("stale_after", r.staleAfter))
	defer r.logger.Info("reaper stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep reclaims all currently stale tasks and returns how many it failed.
// Losing the race against a legitimate terminal report is fine: the write is
// a check-and-set, and AlreadyTerminal just means the report won.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.ledger.FindStaleRunning(ctx, r.staleAfter)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, rec := range stale {
		age := time.Since(rec.CreatedAt).Round(time.Second)
		reason := fmt.Sprintf("%s (no lifecycle report for %s)", ledger.StaleReason, age)
		err := r.ledger.Fail(ctx, rec.TaskID, reason)
		if errors.Is(err, ledger.ErrAlreadyTerminal) {
			continue
		}
		if err != nil {
			r.logger.Error("failed to reclaim task",
				slog.String("task_id", rec.TaskID), slog.String("error", err.Error()))
			continue
		}
		reclaimed++
		r.hub.Publish(events.TaskReclaimed, rec.TaskID, rec.ProjectPath, reason)
		r.logger.Warn("reclaimed stale task",
			slog.String("task_id", rec.TaskID),
			slog.String("project", rec.ProjectPath),
			slog.Duration("age", age))
	}
	return reclaimed, nil
}
