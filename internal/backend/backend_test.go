package backend

import (
	"strings"
	"testing"

	"github.com/CarpseDeam/Claude-Conductor/internal/config"
)

func testRegistry() *Registry {
	return NewRegistry(config.Defaults().Backends)
}

func TestLookupKnownAndUnknown(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	b, err := r.Lookup("claude")
	if err != nil {
		t.Fatalf("Lookup claude: %v", err)
	}
	if b.Title() != "Claude Code" {
		t.Fatalf("title = %q", b.Title())
	}

	_, err = r.Lookup("copilot")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "claude") {
		t.Fatalf("error should list configured kinds: %v", err)
	}
}

func TestResolveModel(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	b, _ := r.Lookup("claude")

	m, err := b.ResolveModel("")
	if err != nil || m != "sonnet" {
		t.Fatalf("default model = %q, %v", m, err)
	}
	m, err = b.ResolveModel("opus")
	if err != nil || m != "opus" {
		t.Fatalf("explicit model = %q, %v", m, err)
	}
	if _, err := b.ResolveModel("gpt-4"); err == nil {
		t.Fatal("expected rejection of a model outside the list")
	}
}

func TestBuildCommandStdinBackend(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	b, _ := r.Lookup("claude")

	cmd, err := b.BuildCommand(BuildOptions{
		Prompt:         "fix the build",
		Model:          "opus",
		AdditionalDirs: []string{"/srv/shared"},
	})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Stdin != "fix the build" {
		t.Fatalf("stdin = %q", cmd.Stdin)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "--model opus") {
		t.Fatalf("args missing model: %v", cmd.Args)
	}
	if !strings.Contains(joined, "--add-dir /srv/shared") {
		t.Fatalf("args missing add-dir: %v", cmd.Args)
	}
	for _, a := range cmd.Args {
		if a == "fix the build" {
			t.Fatal("stdin backend must not receive the prompt as an argument")
		}
	}
}

func TestBuildCommandArgBackend(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	b, _ := r.Lookup("codex")

	cmd, err := b.BuildCommand(BuildOptions{Prompt: "add tests"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if cmd.Stdin != "" {
		t.Fatalf("stdin = %q, want empty", cmd.Stdin)
	}
	if cmd.Args[len(cmd.Args)-1] != "add tests" {
		t.Fatalf("prompt should be the final argument: %v", cmd.Args)
	}
}

func TestBuildCommandResume(t *testing.T) {
	t.Parallel()
	r := testRegistry()

	claude, _ := r.Lookup("claude")
	cmd, err := claude.BuildCommand(BuildOptions{Prompt: "continue", ResumeSessionID: "sess-9"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if !strings.Contains(strings.Join(cmd.Args, " "), "--resume sess-9") {
		t.Fatalf("args missing resume: %v", cmd.Args)
	}

	// Backends without a resume flag ignore the session id.
	gemini, _ := r.Lookup("gemini")
	cmd, err = gemini.BuildCommand(BuildOptions{Prompt: "continue", ResumeSessionID: "sess-9"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if strings.Contains(strings.Join(cmd.Args, " "), "sess-9") {
		t.Fatalf("gemini args should not carry a session id: %v", cmd.Args)
	}
}

func TestBuildCommandDoesNotMutateTemplate(t *testing.T) {
	t.Parallel()
	r := testRegistry()
	b, _ := r.Lookup("claude")

	before, _ := b.BuildCommand(BuildOptions{Prompt: "one", Model: "opus"})
	after, _ := b.BuildCommand(BuildOptions{Prompt: "two"})
	if strings.Contains(strings.Join(after.Args, " "), "opus") {
		t.Fatalf("template mutated by earlier build: %v then %v", before.Args, after.Args)
	}
}
