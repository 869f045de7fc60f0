// Package report is the bridge a runner process uses to mark its task
// terminal in the ledger.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
)

// AbandonedReason is the failure reason recorded when a runner exits without
// ever reporting an outcome.
const AbandonedReason = "terminated before completion"

// Reporter writes lifecycle outcomes. Both entry points are idempotent: a
// second report against a terminal task is a no-op, not an error, so a
// racing completion and staleness reclamation both resolve to first write
// wins.
type Reporter struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewReporter(l *ledger.Ledger) *Reporter {
	return &Reporter{ledger: l, logger: applog.WithComponent("report")}
}

// Success marks the task completed with its result fields.
func (r *Reporter) Success(ctx context.Context, taskID string, filesModified []string, summary, cliOutput string) error {
	err := r.ledger.Complete(ctx, taskID, filesModified, summary, cliOutput)
	if errors.Is(err, ledger.ErrAlreadyTerminal) {
		r.logger.Debug("success report dropped, task already terminal",
			slog.String("task_id", taskID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("report success: %w", err)
	}
	r.logger.Info("task completed", slog.String("task_id", taskID))
	return nil
}

// Failure marks the task failed with a reason.
func (r *Reporter) Failure(ctx context.Context, taskID, reason string) error {
	err := r.ledger.Fail(ctx, taskID, reason)
	if errors.Is(err, ledger.ErrAlreadyTerminal) {
		r.logger.Debug("failure report dropped, task already terminal",
			slog.String("task_id", taskID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("report failure: %w", err)
	}
	r.logger.Info("task failed",
		slog.String("task_id", taskID), slog.String("reason", reason))
	return nil
}

// EnsureReported is the runner's shutdown hook: if the task is still running
// when the process winds down, it is failed as abandoned. Best effort only;
// if this write never happens the guard's staleness check catches the task
// later.
func (r *Reporter) EnsureReported(ctx context.Context, taskID string) {
	if err := r.Failure(ctx, taskID, AbandonedReason); err != nil {
		r.logger.Warn("abandonment report failed",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}
