package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CarpseDeam/Claude-Conductor/internal/storage"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func newRunningTask(t *testing.T, l *Ledger, project string) *TaskRecord {
	t.Helper()
	rec := &TaskRecord{
		TaskID:             uuid.NewString(),
		ProjectPath:        project,
		AgentKind:          "claude",
		ContentFingerprint: "fp-" + uuid.NewString(),
	}
	if err := l.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/demo")

	got, err := l.Get(context.Background(), rec.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning || got.ProjectPath != "/srv/projects/demo" || got.AgentKind != "claude" {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.FinishedAt != nil {
		t.Fatalf("running record must not have finished_at: %#v", got)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/demo")

	dup := &TaskRecord{
		TaskID:             rec.TaskID,
		ProjectPath:        "/srv/projects/other",
		AgentKind:          "claude",
		ContentFingerprint: "fp",
	}
	err := l.Create(context.Background(), dup)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	if _, err := l.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindRunningPerProject(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	a := newRunningTask(t, l, "/srv/projects/a")
	newRunningTask(t, l, "/srv/projects/b")

	got, err := l.FindRunning(context.Background(), "/srv/projects/a")
	if err != nil {
		t.Fatalf("FindRunning: %v", err)
	}
	if got == nil || got.TaskID != a.TaskID {
		t.Fatalf("unexpected running task: %#v", got)
	}

	none, err := l.FindRunning(context.Background(), "/srv/projects/c")
	if err != nil {
		t.Fatalf("FindRunning: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no running task, got %#v", none)
	}
}

func TestFindRunningIgnoresTerminal(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	if err := l.Fail(context.Background(), rec.TaskID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, err := l.FindRunning(context.Background(), "/srv/projects/a")
	if err != nil {
		t.Fatalf("FindRunning: %v", err)
	}
	if got != nil {
		t.Fatalf("terminal record should not be returned: %#v", got)
	}
}

func TestCompleteSetsResultFields(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	files := []string{"main.go", "main_test.go"}
	if err := l.Complete(context.Background(), rec.TaskID, files, "2 files changed", "transcript"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := l.Get(context.Background(), rec.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.FinishedAt == nil {
		t.Fatalf("unexpected record: %#v", got)
	}
	if len(got.FilesModified) != 2 || got.FilesModified[0] != "main.go" {
		t.Fatalf("unexpected files_modified: %v", got.FilesModified)
	}
	if got.Summary != "2 files changed" || got.CLIOutput != "transcript" {
		t.Fatalf("unexpected summary/output: %#v", got)
	}
}

func TestTerminalTransitionIsFirstWriteWins(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	if err := l.Complete(context.Background(), rec.TaskID, nil, "done", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	err := l.Fail(context.Background(), rec.TaskID, "late failure report")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	got, err := l.Get(context.Background(), rec.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.Error != "" {
		t.Fatalf("first terminal write must win: %#v", got)
	}
}

func TestFailUnknownTask(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	err := l.Fail(context.Background(), "missing", "boom")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindRecentByFingerprintWindow(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	old := &TaskRecord{
		TaskID:             uuid.NewString(),
		ProjectPath:        "/srv/projects/a",
		AgentKind:          "claude",
		ContentFingerprint: "fp-shared",
		CreatedAt:          time.Now().UTC().Add(-10 * time.Minute),
	}
	if err := l.Create(context.Background(), old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := l.FindRecentByFingerprint(context.Background(), "fp-shared", 5*time.Minute)
	if err != nil {
		t.Fatalf("FindRecentByFingerprint: %v", err)
	}
	if got != nil {
		t.Fatalf("record outside window should not match: %#v", got)
	}

	got, err = l.FindRecentByFingerprint(context.Background(), "fp-shared", 15*time.Minute)
	if err != nil {
		t.Fatalf("FindRecentByFingerprint: %v", err)
	}
	if got == nil || got.TaskID != old.TaskID {
		t.Fatalf("expected match inside window, got %#v", got)
	}
}

func TestFindRecentByFingerprintMatchesTerminal(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	if err := l.Fail(context.Background(), rec.TaskID, "agent crashed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, err := l.FindRecentByFingerprint(context.Background(), rec.ContentFingerprint, 5*time.Minute)
	if err != nil {
		t.Fatalf("FindRecentByFingerprint: %v", err)
	}
	if got == nil || got.TaskID != rec.TaskID {
		t.Fatalf("terminal records must still dedupe: %#v", got)
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec := &TaskRecord{
			TaskID:             uuid.NewString(),
			ProjectPath:        "/srv/projects/a",
			AgentKind:          "claude",
			ContentFingerprint: uuid.NewString(),
			CreatedAt:          time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := l.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.TaskID)
	}

	recent, err := l.ListRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].TaskID != ids[2] || recent[1].TaskID != ids[1] {
		t.Fatalf("expected newest first, got %s then %s", recent[0].TaskID, recent[1].TaskID)
	}
}

func TestCompleteCapsCLIOutput(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	huge := strings.Repeat("x", maxCLIOutputBytes+4096)
	if err := l.Complete(context.Background(), rec.TaskID, nil, "done", huge); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := l.Get(context.Background(), rec.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.CLIOutput) != maxCLIOutputBytes {
		t.Fatalf("expected capped output of %d bytes, got %d", maxCLIOutputBytes, len(got.CLIOutput))
	}
}

func TestSetSessionFieldsOnlyWhileRunning(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	rec := newRunningTask(t, l, "/srv/projects/a")
	if err := l.SetSessionID(context.Background(), rec.TaskID, "sess-1"); err != nil {
		t.Fatalf("SetSessionID: %v", err)
	}
	if err := l.SetSessionPort(context.Background(), rec.TaskID, 45017); err != nil {
		t.Fatalf("SetSessionPort: %v", err)
	}

	got, _ := l.Get(context.Background(), rec.TaskID)
	if got.SessionID != "sess-1" || got.SessionPort != 45017 {
		t.Fatalf("session fields not persisted: %#v", got)
	}

	if err := l.Complete(context.Background(), rec.TaskID, nil, "done", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := l.SetSessionID(context.Background(), rec.TaskID, "sess-2"); err != nil {
		t.Fatalf("SetSessionID after terminal: %v", err)
	}
	got, _ = l.Get(context.Background(), rec.TaskID)
	if got.SessionID != "sess-1" {
		t.Fatalf("terminal record must be immutable, got session %q", got.SessionID)
	}
}
