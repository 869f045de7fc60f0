package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CarpseDeam/Claude-Conductor/internal/api"
	"github.com/CarpseDeam/Claude-Conductor/internal/backend"
	"github.com/CarpseDeam/Claude-Conductor/internal/config"
	"github.com/CarpseDeam/Claude-Conductor/internal/dispatch"
	"github.com/CarpseDeam/Claude-Conductor/internal/doctor"
	"github.com/CarpseDeam/Claude-Conductor/internal/events"
	"github.com/CarpseDeam/Claude-Conductor/internal/guard"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	"github.com/CarpseDeam/Claude-Conductor/internal/lock"
	"github.com/CarpseDeam/Claude-Conductor/internal/log"
	"github.com/CarpseDeam/Claude-Conductor/internal/reaper"
	"github.com/CarpseDeam/Claude-Conductor/internal/report"
	"github.com/CarpseDeam/Claude-Conductor/internal/session"
	"github.com/CarpseDeam/Claude-Conductor/internal/storage"
	"github.com/CarpseDeam/Claude-Conductor/internal/tui/run"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "dispatch":
		return runDispatch(args)
	case "task":
		return runTaskNoun(args)
	case "run":
		return runRunner(args)
	case "report":
		return runReport(args)
	case "doctor":
		return runDoctor(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func currentVersionInfo() versionInfo {
	info := versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: conductor version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("conductor %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built:  %s\n", info.BuildTime)
	return 0
}

// openLedger opens the sqlite store and bootstraps the schema.
func openLedger(ctx context.Context, cfg *config.Config) (*sql.DB, *ledger.Ledger, error) {
	db, err := storage.OpenSQLite(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("bootstrap ledger: %w", err)
	}
	return db, ledger.New(db), nil
}

// buildDispatcher assembles the admission and spawn pipeline shared by the
// serve and dispatch verbs.
func buildDispatcher(cfg *config.Config, l *ledger.Ledger, hub *events.Hub) (*dispatch.Dispatcher, error) {
	g := guard.New(l, cfg.Ledger.LockDir, guard.Policy{
		StaleAfter:   cfg.Guard.StaleAfter,
		DedupeWindow: cfg.Guard.DedupeWindow,
	})
	registry := backend.NewRegistry(cfg.Backends)
	spawner, err := dispatch.NewExecSpawner()
	if err != nil {
		return nil, err
	}
	return dispatch.New(g, l, registry, spawner, hub, cfg), nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Enable the HTTP API on this address (overrides config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = *listen
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("conductor starting", "version", version)

	pidLockPath := filepath.Join(cfg.Ledger.LockDir, "conductor.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)",
			"path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		logger.Error("failed to open ledger", "path", cfg.Ledger.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("ledger opened", "path", cfg.Ledger.Path)

	hub := events.NewHub(256)

	disp, err := buildDispatcher(cfg, l, hub)
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	rp := reaper.New(l, hub, cfg.Service.ReapInterval, cfg.Guard.StaleAfter)
	go func() {
		if err := rp.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("reaper: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{Listen: cfg.API.Listen}, disp, l, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("conductor running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("conductor stopped")
	return 0
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	project := fs.String("project", "", "Project directory the task operates on")
	agent := fs.String("agent", "claude", "Agent backend (claude, gemini, codex)")
	model := fs.String("model", "", "Model override for the agent")
	content := fs.String("content", "", "Task prompt (reads stdin when empty and no --file)")
	file := fs.String("file", "", "Read the task prompt from this file")
	var addDirs stringList
	fs.Var(&addDirs, "add-dir", "Additional directory the agent may access (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *project == "" {
		fmt.Fprintln(os.Stderr, "Usage: conductor dispatch --project <dir> [--agent claude] [--model m] [--content \"...\" | --file f]")
		return 1
	}

	prompt := *content
	if prompt == "" && *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read prompt file: %v\n", err)
			return 1
		}
		prompt = string(data)
	}
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read prompt from stdin: %v\n", err)
			return 1
		}
		prompt = string(data)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx := context.Background()
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	disp, err := buildDispatcher(cfg, l, events.NewHub(64))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dispatcher: %v\n", err)
		return 1
	}

	result, err := disp.Dispatch(ctx, dispatch.Request{
		ProjectPath:    *project,
		Content:        prompt,
		AgentKind:      *agent,
		Model:          *model,
		AdditionalDirs: addDirs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
		return 1
	}
	fmt.Println(string(data))

	if !result.Admitted {
		return 2
	}
	return 0
}

func runTaskNoun(args []string) int {
	if len(args) < 1 {
		printTaskNounHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "get":
		return runTaskGet(actionArgs)
	case "list":
		return runTaskList(actionArgs)
	case "followup":
		return runTaskFollowup(actionArgs)
	case "help", "--help", "-h":
		printTaskNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown task action: %s\n\n", action)
		printTaskNounHelp(os.Stderr)
		return 1
	}
}

func runTaskGet(args []string) int {
	fs := flag.NewFlagSet("task get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output the record as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conductor task get [--json] <task-id>")
		return 1
	}
	taskID := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("warn")

	ctx := context.Background()
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	rec, err := l.Get(ctx, taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch task: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(taskView(rec), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render task JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	printTaskRecord(rec)
	return 0
}

func runTaskList(args []string) int {
	fs := flag.NewFlagSet("task list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of records to show")
	jsonOut := fs.Bool("json", false, "Output records as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("warn")

	ctx := context.Background()
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	recs, err := l.ListRecent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tasks: %v\n", err)
		return 1
	}

	if *jsonOut {
		views := make([]taskJSON, 0, len(recs))
		for _, rec := range recs {
			views = append(views, taskView(rec))
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render task JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(recs) == 0 {
		fmt.Println("No tasks recorded.")
		return 0
	}
	for _, rec := range recs {
		fmt.Printf("%-36s  %-9s  %-7s  %s  %s\n",
			rec.TaskID, rec.Status, rec.AgentKind,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.ProjectPath)
	}
	return 0
}

func runTaskFollowup(args []string) int {
	fs := flag.NewFlagSet("task followup", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: conductor task followup <task-id> \"<prompt>\"")
		return 1
	}
	taskID, prompt := fs.Arg(0), fs.Arg(1)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("warn")

	ctx := context.Background()
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	rec, err := l.Get(ctx, taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch task: %v\n", err)
		return 1
	}
	if rec.Status.Terminal() {
		fmt.Fprintf(os.Stderr, "Task %s is %s; follow-ups need a running task\n", taskID, rec.Status)
		return 1
	}
	if rec.SessionPort == 0 {
		fmt.Fprintf(os.Stderr, "Task %s has not published a session port yet\n", taskID)
		return 1
	}

	if err := session.SendPrompt(rec.SessionPort, prompt); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to deliver follow-up: %v\n", err)
		return 1
	}
	fmt.Printf("Follow-up queued for task %s\n", taskID)
	return 0
}

type taskJSON struct {
	TaskID        string   `json:"task_id"`
	ProjectPath   string   `json:"project_path"`
	Agent         string   `json:"agent"`
	Model         string   `json:"model,omitempty"`
	Status        string   `json:"status"`
	CreatedAt     string   `json:"created_at"`
	FinishedAt    string   `json:"finished_at,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Error         string   `json:"error,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
}

func taskView(rec *ledger.TaskRecord) taskJSON {
	v := taskJSON{
		TaskID:        rec.TaskID,
		ProjectPath:   rec.ProjectPath,
		Agent:         rec.AgentKind,
		Model:         rec.Model,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		FilesModified: rec.FilesModified,
		Summary:       rec.Summary,
		Error:         rec.Error,
		SessionID:     rec.SessionID,
	}
	if rec.FinishedAt != nil {
		v.FinishedAt = rec.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func printTaskRecord(rec *ledger.TaskRecord) {
	fmt.Printf("Task:     %s\n", rec.TaskID)
	fmt.Printf("Project:  %s\n", rec.ProjectPath)
	fmt.Printf("Agent:    %s", rec.AgentKind)
	if rec.Model != "" {
		fmt.Printf(" (%s)", rec.Model)
	}
	fmt.Println()
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Created:  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if rec.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", rec.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if rec.Summary != "" {
		fmt.Printf("Summary:  %s\n", rec.Summary)
	}
	if len(rec.FilesModified) > 0 {
		fmt.Printf("Files modified (%d):\n", len(rec.FilesModified))
		for _, f := range rec.FilesModified {
			fmt.Printf("  %s\n", f)
		}
	}
	if rec.Error != "" {
		fmt.Printf("Error:    %s\n", rec.Error)
	}
}

// runRunner is the detached runner verb the dispatcher spawns. It executes
// one admitted task to completion and reports its lifecycle.
func runRunner(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	taskID := fs.String("task-id", "", "Ledger id of the admitted task")
	project := fs.String("project", "", "Project directory the task operates on")
	agent := fs.String("agent", "", "Agent backend kind")
	promptFile := fs.String("prompt-file", "", "File holding the task prompt")
	model := fs.String("model", "", "Model override for the agent")
	headless := fs.Bool("headless", false, "Run without the TUI")
	var addDirs stringList
	fs.Var(&addDirs, "add-dir", "Additional directory the agent may access (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *taskID == "" || *project == "" || *agent == "" || *promptFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: conductor run --task-id <id> --project <dir> --agent <kind> --prompt-file <file> [--model m] [--add-dir d] [--headless]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithTask(*taskID)

	promptData, err := os.ReadFile(*promptFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read prompt file: %v\n", err)
		return 1
	}
	prompt := string(promptData)
	// The prompt file is a single-use handoff from the dispatcher.
	if err := os.Remove(*promptFile); err != nil {
		logger.Warn("failed to remove prompt file", "path", *promptFile, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	registry := backend.NewRegistry(cfg.Backends)
	b, err := registry.Lookup(*agent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unknown agent: %v\n", err)
		return 1
	}

	runner := run.NewRunner(run.Params{
		TaskID:      *taskID,
		ProjectPath: *project,
		Backend:     b,
		Model:       *model,
		AddDirs:     addDirs,
		Ledger:      l,
		Reporter:    report.NewReporter(l),
	})

	if *headless || !stdoutIsTerminal() {
		go func() {
			for range runner.Updates() {
			}
		}()
		out := runner.Run(ctx, prompt)
		if !out.Success {
			logger.Error("task failed", "error", out.Err)
			return 1
		}
		logger.Info("task completed", "summary", out.Summary)
		return 0
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(run.NewModel(runCtx, runner, prompt, b.Title()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}

	// Quitting cancels the run; wait for the runner to file its report
	// before the process exits.
	cancel()
	for range runner.Updates() {
	}
	return 0
}

func stdoutIsTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func runReport(args []string) int {
	if len(args) < 1 {
		printReportHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "success":
		return runReportSuccess(actionArgs)
	case "failure":
		return runReportFailure(actionArgs)
	case "help", "--help", "-h":
		printReportHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown report action: %s\n\n", action)
		printReportHelp(os.Stderr)
		return 1
	}
}

func runReportSuccess(args []string) int {
	fs := flag.NewFlagSet("report success", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	summary := fs.String("summary", "", "Short description of what the task did")
	var files stringList
	fs.Var(&files, "file", "File the task modified (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conductor report success [--summary s] [--file f] <task-id>")
		return 1
	}

	return withReporter(*configPath, func(ctx context.Context, rep *report.Reporter) error {
		return rep.Success(ctx, fs.Arg(0), files, *summary, "")
	})
}

func runReportFailure(args []string) int {
	fs := flag.NewFlagSet("report failure", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	reason := fs.String("reason", "", "Why the task failed")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 || *reason == "" {
		fmt.Fprintln(os.Stderr, "Usage: conductor report failure --reason <why> <task-id>")
		return 1
	}

	return withReporter(*configPath, func(ctx context.Context, rep *report.Reporter) error {
		return rep.Failure(ctx, fs.Arg(0), *reason)
	})
}

func withReporter(configPath string, fn func(context.Context, *report.Reporter) error) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("warn")

	ctx := context.Background()
	db, l, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := fn(ctx, report.NewReporter(l)); err != nil {
		fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
		return 1
	}
	fmt.Println("Recorded.")
	return 0
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output validation result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, e := range result.Errors {
			fmt.Printf("ERROR [%s] %s", e.Category, e.Message)
			if e.Field != "" {
				fmt.Printf(" (%s)", e.Field)
			}
			fmt.Println()
		}
		for _, w := range result.Warnings {
			fmt.Printf("WARN  [%s] %s", w.Category, w.Message)
			if w.Field != "" {
				fmt.Printf(" (%s)", w.Field)
			}
			fmt.Println()
		}
		if result.Valid {
			fmt.Println("Configuration OK.")
		}
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func printTaskNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: conductor task <action> [flags]

Actions:
  get <id>             Show one task record
  list                 Show recent task records
  followup <id> "..."  Send a follow-up prompt to a running task
`)
}

func printReportHelp(w *os.File) {
	fmt.Fprint(w, `Usage: conductor report <action> [flags] <task-id>

Actions:
  success   Mark a running task completed
  failure   Mark a running task failed (--reason required)

Reports are first-write-wins: a task already in a terminal state is
left untouched.
`)
}

func printUsage() {
	fmt.Print(`conductor - Dispatch coordinator for external coding agents

Usage:
  conductor <command> [flags]

Commands:
  serve       Run the coordinator service (reaper + optional HTTP API)
  dispatch    Admit a task and launch its agent runner
  task        Query task records (get, list, followup)
  run         Execute one admitted task (spawned by dispatch)
  report      Manually record a task outcome (success, failure)
  doctor      Validate configuration and the local environment
  version     Show version information
  help        Show this help message

Examples:
  conductor dispatch --project ~/code/app --agent claude --content "fix the failing tests"
  conductor task list --limit 10
  conductor serve --listen 127.0.0.1:8377
`)
}
