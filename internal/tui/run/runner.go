package run

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/CarpseDeam/Claude-Conductor/internal/backend"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	applog "github.com/CarpseDeam/Claude-Conductor/internal/log"
	"github.com/CarpseDeam/Claude-Conductor/internal/report"
	"github.com/CarpseDeam/Claude-Conductor/internal/session"
	"github.com/CarpseDeam/Claude-Conductor/internal/stream"
)

// maxTranscriptBytes bounds the transcript the runner keeps in memory. The
// ledger applies its own cap on write as well.
const maxTranscriptBytes = 64 * 1024

// maxScanTokenBytes accommodates very long single-line JSON events.
const maxScanTokenBytes = 4 * 1024 * 1024

// AgentUpdate is one decoded event forwarded to the display, with the
// compacted record attached when the event closed out a classified command.
type AgentUpdate struct {
	Event     stream.Event
	Compacted *stream.Compacted
}

// Outcome is the final result of a run across all turns.
type Outcome struct {
	Success       bool
	Summary       string
	FilesModified []string
	Err           error
}

// Runner executes a task's agent process turn by turn and reports its
// lifecycle. Follow-up prompts received over the session channel start new
// turns that resume the same agent session.
type Runner struct {
	taskID      string
	projectPath string
	backend     *backend.Backend
	model       string
	addDirs     []string

	ledger   *ledger.Ledger
	reporter *report.Reporter
	logger   *slog.Logger

	updates   chan AgentUpdate
	followups chan string

	mu         sync.Mutex
	sessionID  string
	collector  *stream.Collector
	transcript strings.Builder
	reported   bool
}

type Params struct {
	TaskID      string
	ProjectPath string
	Backend     *backend.Backend
	Model       string
	AddDirs     []string
	Ledger      *ledger.Ledger
	Reporter    *report.Reporter
}

func NewRunner(p Params) *Runner {
	return &Runner{
		taskID:      p.TaskID,
		projectPath: p.ProjectPath,
		backend:     p.Backend,
		model:       p.Model,
		addDirs:     p.AddDirs,
		ledger:      p.Ledger,
		reporter:    p.Reporter,
		logger:      applog.WithTask(p.TaskID),
		updates:     make(chan AgentUpdate, 256),
		followups:   make(chan string, 8),
		collector:   stream.NewCollector(),
	}
}

// Updates is the stream of decoded agent events for display.
func (r *Runner) Updates() <-chan AgentUpdate { return r.updates }

// QueueFollowup schedules a follow-up prompt for the next turn. Returns
// false when the queue is full.
func (r *Runner) QueueFollowup(prompt string) bool {
	select {
	case r.followups <- prompt:
		return true
	default:
		return false
	}
}

// Run executes the initial prompt and any queued follow-ups, reports the
// outcome, and closes the updates channel. The deferred abandonment report
// covers every path that leaves the task unreported, including panics in
// the turn loop.
func (r *Runner) Run(ctx context.Context, prompt string) Outcome {
	defer close(r.updates)
	defer r.ensureReported()

	listener := session.NewListener(func(p string) { r.QueueFollowup(p) })
	if port, err := listener.Start(ctx); err == nil {
		defer listener.Stop()
		if err := r.ledger.SetSessionPort(ctx, r.taskID, port); err != nil {
			r.logger.Warn("failed to record session port", slog.String("error", err.Error()))
		}
	} else {
		r.logger.Warn("session listener unavailable", slog.String("error", err.Error()))
	}

	if err := r.runTurn(ctx, prompt, false); err != nil {
		out := Outcome{Err: err, Summary: r.collector.Summary()}
		if ctx.Err() == nil {
			r.reportFailure(ctx, fmt.Sprintf("agent failed: %v", err))
		}
		return out
	}

	// Follow-up turns resume the same agent session until the queue drains.
	for {
		select {
		case followup := <-r.followups:
			if err := r.runTurn(ctx, followup, true); err != nil {
				out := Outcome{Err: err, Summary: r.collector.Summary()}
				if ctx.Err() == nil {
					r.reportFailure(ctx, fmt.Sprintf("follow-up turn failed: %v", err))
				}
				return out
			}
		default:
			out := Outcome{
				Success:       true,
				Summary:       r.collector.Summary(),
				FilesModified: r.collector.FilesModified(),
			}
			r.reportSuccess(ctx, out)
			return out
		}
	}
}

// runTurn spawns one agent process and consumes its output stream.
func (r *Runner) runTurn(ctx context.Context, prompt string, resume bool) error {
	opts := backend.BuildOptions{
		Prompt:         prompt,
		Model:          r.model,
		AdditionalDirs: r.addDirs,
	}
	if resume {
		opts.ResumeSessionID = r.sessionID
	}
	spec, err := r.backend.BuildCommand(opts)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = r.projectPath
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // interleave, the decoder tolerates raw lines

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenBytes)
	for scanner.Scan() {
		r.consumeLine(ctx, scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("agent exited: %w", err)
	}
	return nil
}

func (r *Runner) consumeLine(ctx context.Context, line string) {
	for _, ev := range stream.DecodeLine(line) {
		compacted, ok := r.collector.Observe(ev)

		if ev.Kind == stream.KindSession && ev.SessionID != "" && r.sessionID == "" {
			r.sessionID = ev.SessionID
			if err := r.ledger.SetSessionID(ctx, r.taskID, ev.SessionID); err != nil {
				r.logger.Warn("failed to record session id", slog.String("error", err.Error()))
			}
		}

		r.appendTranscript(ev, compacted, ok)

		update := AgentUpdate{Event: ev}
		if ok {
			c := compacted
			update.Compacted = &c
		}
		select {
		case r.updates <- update:
		default:
			// Display fell behind; the transcript and counters are intact.
		}
	}
}

func (r *Runner) appendTranscript(ev stream.Event, compacted stream.Compacted, hasCompact bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transcript.Len() >= maxTranscriptBytes {
		return
	}
	switch {
	case hasCompact:
		r.transcript.WriteString(compacted.Summary + "\n")
	case ev.Kind == stream.KindText:
		r.transcript.WriteString(ev.Text)
	case ev.Kind == stream.KindToolCall:
		r.transcript.WriteString("\n[" + ev.Tool + "] " + toolDetail(ev) + "\n")
	case ev.Kind == stream.KindRaw:
		r.transcript.WriteString(ev.Text + "\n")
	}
}

// Transcript returns the bounded plain-text record of the run so far.
func (r *Runner) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.String()
}

func (r *Runner) reportSuccess(ctx context.Context, out Outcome) {
	r.mu.Lock()
	if r.reported {
		r.mu.Unlock()
		return
	}
	r.reported = true
	transcript := r.transcript.String()
	r.mu.Unlock()

	if err := r.reporter.Success(ctx, r.taskID, out.FilesModified, out.Summary, transcript); err != nil {
		r.logger.Error("success report failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) reportFailure(ctx context.Context, reason string) {
	r.mu.Lock()
	if r.reported {
		r.mu.Unlock()
		return
	}
	r.reported = true
	r.mu.Unlock()

	if err := r.reporter.Failure(ctx, r.taskID, reason); err != nil {
		r.logger.Error("failure report failed", slog.String("error", err.Error()))
	}
}

// ensureReported is the abandonment path: if nothing reported by the time
// the runner winds down, the task is failed as terminated. Runs on a fresh
// context because the run context is typically already cancelled here.
func (r *Runner) ensureReported() {
	r.mu.Lock()
	done := r.reported
	r.reported = true
	r.mu.Unlock()
	if !done {
		r.reporter.EnsureReported(context.Background(), r.taskID)
	}
}

func toolDetail(ev stream.Event) string {
	switch {
	case ev.Command != "":
		return truncate(ev.Command, 80)
	case ev.Path != "":
		return ev.Path
	case ev.Pattern != "":
		return truncate(ev.Pattern, 60)
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
