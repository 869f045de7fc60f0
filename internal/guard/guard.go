package guard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	"github.com/CarpseDeam/Claude-Conductor/internal/lock"
	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
)

// BlockReason says why an admission attempt was refused.
type BlockReason string

const (
	// ReasonAlreadyRunning means the project already has a live task.
	ReasonAlreadyRunning BlockReason = "already_running"
	// ReasonDuplicate means an identical request was seen within the
	// dedupe window.
	ReasonDuplicate BlockReason = "duplicate"
)

// Decision is the outcome of an admission attempt. Refusals are ordinary
// values, not errors: the caller renders them to the user and moves on.
type Decision struct {
	Admitted bool
	// TaskID is the newly created task when Admitted.
	TaskID string
	// Reason and ExistingTaskID are set when blocked.
	Reason         BlockReason
	ExistingTaskID string
	// ReclaimedTaskID is the stale task this attempt failed out of the
	// way, when that happened. Set on admitted and blocked decisions alike.
	ReclaimedTaskID string
}

// Policy holds the admission windows.
type Policy struct {
	// StaleAfter is how old a running record may be before the next
	// admission attempt for its project reclaims it.
	StaleAfter time.Duration
	// DedupeWindow is the trailing interval during which an identical
	// fingerprint suppresses a new dispatch.
	DedupeWindow time.Duration
}

// Request is one admission attempt.
type Request struct {
	ProjectPath string
	AgentKind   string
	Model       string
	Content     string
}

// Guard serializes admission per project and enforces the one-running-task
// and dedupe policies against the ledger.
type Guard struct {
	ledger  *ledger.Ledger
	lockDir string
	policy  Policy
	logger  *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(l *ledger.Ledger, lockDir string, policy Policy) *Guard {
	return &Guard{
		ledger:  l,
		lockDir: lockDir,
		policy:  policy,
		logger:  applog.WithComponent("guard"),
		now:     time.Now,
	}
}

// Admit runs the admission sequence for req and, when admitted, creates the
// running ledger record. The whole check-and-create runs under the project's
// scope lock so concurrent attempts from any process see each other's writes.
//
// Staleness is considered before dedupe: a stale running task is reclaimed
// first, then the dedupe window is checked against what remains.
func (g *Guard) Admit(ctx context.Context, req Request) (*Decision, error) {
	if req.ProjectPath == "" {
		return nil, fmt.Errorf("project path is empty")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("task content is empty")
	}

	// The admission scope is the cleaned absolute path: aliased spellings
	// of the same directory contend on one scope and one ledger row.
	project, err := filepath.Abs(req.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	sl, err := lock.AcquireScopeLock(g.lockDir, project)
	if err != nil {
		return nil, fmt.Errorf("serialize admission: %w", err)
	}
	defer sl.Release()

	dec := &Decision{}

	running, err := g.ledger.FindRunning(ctx, project)
	if err != nil {
		return nil, err
	}
	if running != nil {
		age := g.now().UTC().Sub(running.CreatedAt)
		if age > g.policy.StaleAfter {
			reason := fmt.Sprintf("%s (no lifecycle report for %s)", ledger.StaleReason, age.Round(time.Second))
			if err := g.ledger.Fail(ctx, running.TaskID, reason); err != nil {
				return nil, fmt.Errorf("reclaim stale task %s: %w", running.TaskID, err)
			}
			g.logger.Warn("reclaimed stale task",
				slog.String("task_id", running.TaskID),
				slog.String("project", project),
				slog.Duration("age", age))
			dec.ReclaimedTaskID = running.TaskID
		} else {
			dec.Reason = ReasonAlreadyRunning
			dec.ExistingTaskID = running.TaskID
			return dec, nil
		}
	}

	fp := Fingerprint(project, req.Content)
	dup, err := g.ledger.FindRecentByFingerprint(ctx, fp, g.policy.DedupeWindow)
	if err != nil {
		return nil, err
	}
	// The reclaimed task itself must not veto its own retry.
	if dup != nil && dup.TaskID != dec.ReclaimedTaskID {
		dec.Reason = ReasonDuplicate
		dec.ExistingTaskID = dup.TaskID
		return dec, nil
	}

	rec := &ledger.TaskRecord{
		TaskID:             uuid.New().String(),
		ProjectPath:        project,
		AgentKind:          req.AgentKind,
		Model:              req.Model,
		ContentFingerprint: fp,
		CreatedAt:          g.now().UTC(),
	}
	if err := g.ledger.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("admit task: %w", err)
	}

	dec.Admitted = true
	dec.TaskID = rec.TaskID
	g.logger.Info("task admitted",
		slog.String("task_id", rec.TaskID),
		slog.String("project", project),
		slog.String("agent", req.AgentKind))
	return dec, nil
}
