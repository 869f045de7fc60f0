// Package dispatch admits task requests and launches detached runner
// processes for the ones that pass the guard.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CarpseDeam/Claude-Conductor/internal/backend"
	"github.com/CarpseDeam/Claude-Conductor/internal/config"
	"github.com/CarpseDeam/Claude-Conductor/internal/events"
	"github.com/CarpseDeam/Claude-Conductor/internal/guard"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
)

//go:generate mockgen -destination=mocks/mock_spawner.go -package=mocks github.com/CarpseDeam/Claude-Conductor/internal/dispatch Spawner

// ErrInvalidRequest marks dispatch failures caused by the request itself,
// as opposed to ledger or spawn faults. Callers use errors.Is to map it to
// a client error.
var ErrInvalidRequest = errors.New("invalid dispatch request")

// SpawnRequest carries everything a runner process needs to execute a task.
type SpawnRequest struct {
	TaskID         string
	ProjectPath    string
	AgentKind      string
	Model          string
	PromptFile     string
	AdditionalDirs []string
}

// Spawner launches the detached runner for an admitted task. The launch is
// fire-and-forget: the runner reports its own lifecycle through the ledger.
type Spawner interface {
	SpawnRunner(ctx context.Context, req SpawnRequest) error
}

// Request is one dispatch attempt from a caller.
type Request struct {
	ProjectPath    string
	Content        string
	AgentKind      string
	Model          string
	AdditionalDirs []string
}

// Result is the caller-visible outcome. Blocked dispatches carry the
// conflicting task id so the caller can query it instead of retrying blind.
type Result struct {
	Admitted        bool              `json:"admitted"`
	TaskID          string            `json:"task_id,omitempty"`
	Reason          guard.BlockReason `json:"reason,omitempty"`
	ExistingTaskID  string            `json:"existing_task_id,omitempty"`
	ReclaimedTaskID string            `json:"reclaimed_task_id,omitempty"`
	Agent           string            `json:"agent,omitempty"`
	Model           string            `json:"model,omitempty"`
}

// Dispatcher wires the guard, the backend registry, and the runner spawner.
type Dispatcher struct {
	guard    *guard.Guard
	ledger   *ledger.Ledger
	registry *backend.Registry
	spawner  Spawner
	hub      *events.Hub
	cfg      *config.Config
	logger   *slog.Logger
}

func New(g *guard.Guard, l *ledger.Ledger, reg *backend.Registry, sp Spawner, hub *events.Hub, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		guard:    g,
		ledger:   l,
		registry: reg,
		spawner:  sp,
		hub:      hub,
		cfg:      cfg,
		logger:   applog.WithComponent("dispatch"),
	}
}

// Dispatch validates the request, runs admission, and launches the runner
// for an admitted task. A Blocked outcome is a normal result, not an error;
// errors mean the dispatch itself could not be carried out.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := validateProject(req.ProjectPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: task content is empty", ErrInvalidRequest)
	}

	b, err := d.registry.Lookup(req.AgentKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	model, err := b.ResolveModel(req.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	dec, err := d.guard.Admit(ctx, guard.Request{
		ProjectPath: req.ProjectPath,
		AgentKind:   req.AgentKind,
		Model:       model,
		Content:     req.Content,
	})
	if err != nil {
		return nil, err
	}

	if dec.ReclaimedTaskID != "" {
		d.hub.Publish(events.TaskReclaimed, dec.ReclaimedTaskID, req.ProjectPath, "stale running task")
	}
	if !dec.Admitted {
		d.hub.Publish(events.TaskBlocked, dec.ExistingTaskID, req.ProjectPath, string(dec.Reason))
		return &Result{
			Reason:          dec.Reason,
			ExistingTaskID:  dec.ExistingTaskID,
			ReclaimedTaskID: dec.ReclaimedTaskID,
		}, nil
	}

	promptFile, err := d.writePromptFile(dec.TaskID, req.Content)
	if err != nil {
		d.failDispatch(ctx, dec.TaskID, fmt.Sprintf("write prompt file: %v", err))
		return nil, fmt.Errorf("write prompt file: %w", err)
	}

	spawn := SpawnRequest{
		TaskID:         dec.TaskID,
		ProjectPath:    req.ProjectPath,
		AgentKind:      req.AgentKind,
		Model:          model,
		PromptFile:     promptFile,
		AdditionalDirs: req.AdditionalDirs,
	}
	if err := d.spawner.SpawnRunner(ctx, spawn); err != nil {
		os.Remove(promptFile)
		d.failDispatch(ctx, dec.TaskID, fmt.Sprintf("runner spawn failed: %v", err))
		return nil, fmt.Errorf("spawn runner: %w", err)
	}

	d.hub.Publish(events.TaskAdmitted, dec.TaskID, req.ProjectPath, req.AgentKind)
	d.logger.Info("task dispatched",
		slog.String("task_id", dec.TaskID),
		slog.String("project", req.ProjectPath),
		slog.String("agent", req.AgentKind),
		slog.String("model", model))

	return &Result{
		Admitted:        true,
		TaskID:          dec.TaskID,
		ReclaimedTaskID: dec.ReclaimedTaskID,
		Agent:           req.AgentKind,
		Model:           model,
	}, nil
}

// writePromptFile persists the full prompt for the runner. The runner owns
// the file and removes it when the agent exits.
func (d *Dispatcher) writePromptFile(taskID, content string) (string, error) {
	f, err := os.CreateTemp("", "conductor-prompt-"+taskID+"-*.md")
	if err != nil {
		return "", err
	}
	defer f.Close()

	prompt := content
	if sp := d.cfg.Service.SystemPrompt; sp != "" {
		prompt = sp + "\n\n" + content
	}
	if _, err := f.WriteString(prompt); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// failDispatch closes out a task that was admitted but never started.
func (d *Dispatcher) failDispatch(ctx context.Context, taskID, reason string) {
	if err := d.ledger.Fail(ctx, taskID, reason); err != nil {
		d.logger.Error("failed to record dispatch failure",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
	d.hub.Publish(events.TaskFailed, taskID, "", reason)
}

func validateProject(path string) error {
	if path == "" {
		return fmt.Errorf("project path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("project path %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %q is not a directory", path)
	}
	return nil
}
