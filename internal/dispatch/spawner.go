package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ExecSpawner launches the runner as a detached re-invocation of the
// conductor binary. The child gets its own session so it survives the
// dispatching process exiting.
type ExecSpawner struct {
	executable string
}

func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{executable: exe}, nil
}

func (s *ExecSpawner) SpawnRunner(_ context.Context, req SpawnRequest) error {
	args := []string{
		"run",
		"--task-id", req.TaskID,
		"--project", req.ProjectPath,
		"--agent", req.AgentKind,
		"--prompt-file", req.PromptFile,
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	for _, d := range req.AdditionalDirs {
		args = append(args, "--add-dir", d)
	}

	cmd := exec.Command(s.executable, args...)
	cmd.Dir = req.ProjectPath
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	// Fire and forget: the runner reports through the ledger.
	return cmd.Process.Release()
}
