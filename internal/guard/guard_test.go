package guard

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	"github.com/CarpseDeam/Claude-Conductor/internal/storage"
)

func openTestGuard(t *testing.T, policy Policy) (*Guard, *ledger.Ledger, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		t.Fatalf("BootstrapSQLite: %v", err)
	}

	l := ledger.New(db)
	return New(l, filepath.Join(dir, "locks"), policy), l, db
}

func defaultPolicy() Policy {
	return Policy{StaleAfter: 10 * time.Minute, DedupeWindow: 5 * time.Minute}
}

func backdate(t *testing.T, db *sql.DB, taskID string, by time.Duration) {
	t.Helper()
	created := time.Now().UTC().Add(-by).Format(time.RFC3339Nano)
	if _, err := db.Exec(
		"UPDATE task_ledger SET created_at = ? WHERE task_id = ?;", created, taskID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestAdmitFirstTask(t *testing.T) {
	t.Parallel()
	g, l, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	dec, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo",
		AgentKind:   "claude",
		Model:       "sonnet",
		Content:     "add retry logic to the uploader",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !dec.Admitted {
		t.Fatalf("expected admission, got blocked: %+v", dec)
	}

	rec, err := l.Get(ctx, dec.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != ledger.StatusRunning {
		t.Fatalf("status = %s, want running", rec.Status)
	}
	if rec.AgentKind != "claude" || rec.Model != "sonnet" {
		t.Fatalf("record fields not persisted: %+v", rec)
	}
}

func TestAdmitBlocksWhileProjectBusy(t *testing.T) {
	t.Parallel()
	g, _, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	first, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "task one",
	})
	if err != nil {
		t.Fatalf("Admit first: %v", err)
	}

	second, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "task two",
	})
	if err != nil {
		t.Fatalf("Admit second: %v", err)
	}
	if second.Admitted {
		t.Fatal("second task admitted while first still running")
	}
	if second.Reason != ReasonAlreadyRunning {
		t.Fatalf("reason = %s, want already_running", second.Reason)
	}
	if second.ExistingTaskID != first.TaskID {
		t.Fatalf("existing task = %s, want %s", second.ExistingTaskID, first.TaskID)
	}
}

func TestAdmitProjectPathAliasesShareScope(t *testing.T) {
	t.Parallel()
	g, l, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	const project = "/srv/projects/demo"

	first, err := g.Admit(ctx, Request{
		ProjectPath: project, AgentKind: "claude", Content: "task one",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !first.Admitted {
		t.Fatalf("expected admission, got %+v", first)
	}

	rec, err := l.Get(ctx, first.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ProjectPath != project {
		t.Fatalf("stored project = %q, want canonical %q", rec.ProjectPath, project)
	}

	// Every spelling of the same directory contends on the same scope.
	for _, alias := range []string{
		project + "/",
		project + "/.",
		"/srv/projects/other/../demo",
	} {
		dec, err := g.Admit(ctx, Request{
			ProjectPath: alias, AgentKind: "claude", Content: "task two",
		})
		if err != nil {
			t.Fatalf("Admit %q: %v", alias, err)
		}
		if dec.Admitted {
			t.Fatalf("alias %q admitted a second task", alias)
		}
		if dec.Reason != ReasonAlreadyRunning || dec.ExistingTaskID != first.TaskID {
			t.Fatalf("alias %q decision = %+v", alias, dec)
		}
	}
}

func TestAdmitConcurrentAttemptsAdmitOne(t *testing.T) {
	t.Parallel()
	g, _, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	// Distinct contents so dedupe cannot decide the race; only the
	// one-running-task rule may.
	contents := []string{"task alpha", "task beta", "task gamma", "task delta"}
	decisions := make([]*Decision, len(contents))

	var wg sync.WaitGroup
	for i, content := range contents {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			dec, err := g.Admit(ctx, Request{
				ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
			})
			if err != nil {
				t.Errorf("Admit %q: %v", content, err)
				return
			}
			decisions[i] = dec
		}(i, content)
	}
	wg.Wait()

	admitted := 0
	for _, dec := range decisions {
		if dec != nil && dec.Admitted {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted %d concurrent tasks, want exactly 1", admitted)
	}
}

func TestAdmitIndependentProjects(t *testing.T) {
	t.Parallel()
	g, _, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	a, err := g.Admit(ctx, Request{ProjectPath: "/srv/a", AgentKind: "claude", Content: "x"})
	if err != nil || !a.Admitted {
		t.Fatalf("Admit a: %v %+v", err, a)
	}
	b, err := g.Admit(ctx, Request{ProjectPath: "/srv/b", AgentKind: "gemini", Content: "x"})
	if err != nil || !b.Admitted {
		t.Fatalf("Admit b: %v %+v", err, b)
	}
}

func TestAdmitAfterTerminalReport(t *testing.T) {
	t.Parallel()
	g, l, db := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	first, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "task one",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := l.Complete(ctx, first.TaskID, nil, "done", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Different content so the dedupe window does not apply.
	backdate(t, db, first.TaskID, time.Minute)

	second, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "task two",
	})
	if err != nil {
		t.Fatalf("Admit second: %v", err)
	}
	if !second.Admitted {
		t.Fatalf("expected admission after terminal report, got %+v", second)
	}
}

func TestAdmitReclaimsStaleTask(t *testing.T) {
	t.Parallel()
	g, l, db := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	stale, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "stuck task",
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	backdate(t, db, stale.TaskID, 11*time.Minute)

	dec, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: "fresh task",
	})
	if err != nil {
		t.Fatalf("Admit after staleness: %v", err)
	}
	if !dec.Admitted {
		t.Fatalf("expected admission after reclaim, got %+v", dec)
	}
	if dec.ReclaimedTaskID != stale.TaskID {
		t.Fatalf("reclaimed = %s, want %s", dec.ReclaimedTaskID, stale.TaskID)
	}

	rec, err := l.Get(ctx, stale.TaskID)
	if err != nil {
		t.Fatalf("Get reclaimed: %v", err)
	}
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("reclaimed status = %s, want failed", rec.Status)
	}
	if !strings.HasPrefix(rec.Error, ledger.StaleReason) {
		t.Fatalf("reclaim reason = %q, want prefix %q", rec.Error, ledger.StaleReason)
	}
}

func TestAdmitDedupesIdenticalContent(t *testing.T) {
	t.Parallel()
	g, l, db := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	const content = "fix the flaky websocket test"

	first, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	// Terminal records still suppress an identical retry inside the window.
	if err := l.Fail(ctx, first.TaskID, "agent crashed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	backdate(t, db, first.TaskID, 2*time.Minute)

	dup, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit duplicate: %v", err)
	}
	if dup.Admitted {
		t.Fatal("duplicate content admitted inside the dedupe window")
	}
	if dup.Reason != ReasonDuplicate {
		t.Fatalf("reason = %s, want duplicate", dup.Reason)
	}
	if dup.ExistingTaskID != first.TaskID {
		t.Fatalf("existing task = %s, want %s", dup.ExistingTaskID, first.TaskID)
	}
}

func TestAdmitAllowsIdenticalContentAfterWindow(t *testing.T) {
	t.Parallel()
	g, l, db := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	const content = "bump dependency versions"

	first, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := l.Complete(ctx, first.TaskID, nil, "done", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	backdate(t, db, first.TaskID, 6*time.Minute)

	again, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit after window: %v", err)
	}
	if !again.Admitted {
		t.Fatalf("expected admission once the window lapsed, got %+v", again)
	}
}

func TestAdmitSameContentDifferentProject(t *testing.T) {
	t.Parallel()
	g, _, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	const content = "same words, different project"

	a, err := g.Admit(ctx, Request{ProjectPath: "/srv/a", AgentKind: "claude", Content: content})
	if err != nil || !a.Admitted {
		t.Fatalf("Admit a: %v %+v", err, a)
	}
	b, err := g.Admit(ctx, Request{ProjectPath: "/srv/b", AgentKind: "claude", Content: content})
	if err != nil {
		t.Fatalf("Admit b: %v", err)
	}
	if !b.Admitted {
		t.Fatalf("same content in a different project must admit, got %+v", b)
	}
}

func TestAdmitStaleReclaimDoesNotVetoOwnRetry(t *testing.T) {
	t.Parallel()
	// StaleAfter shorter than the dedupe window: the just-reclaimed record
	// sits inside the window but must not block its own retry.
	g, _, db := openTestGuard(t, Policy{StaleAfter: time.Minute, DedupeWindow: 10 * time.Minute})
	ctx := context.Background()

	const content = "retry me"

	stale, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	backdate(t, db, stale.TaskID, 2*time.Minute)

	retry, err := g.Admit(ctx, Request{
		ProjectPath: "/srv/projects/demo", AgentKind: "claude", Content: content,
	})
	if err != nil {
		t.Fatalf("Admit retry: %v", err)
	}
	if !retry.Admitted {
		t.Fatalf("retry after reclaim should admit, got %+v", retry)
	}
	if retry.ReclaimedTaskID != stale.TaskID {
		t.Fatalf("reclaimed = %s, want %s", retry.ReclaimedTaskID, stale.TaskID)
	}
}

func TestAdmitRejectsEmptyInputs(t *testing.T) {
	t.Parallel()
	g, _, _ := openTestGuard(t, defaultPolicy())
	ctx := context.Background()

	if _, err := g.Admit(ctx, Request{ProjectPath: "", Content: "x"}); err == nil {
		t.Fatal("expected error for empty project path")
	}
	if _, err := g.Admit(ctx, Request{ProjectPath: "/srv/a", Content: ""}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestFingerprintNormalization(t *testing.T) {
	t.Parallel()

	a := Fingerprint("/srv/projects/demo", "fix the build")
	b := Fingerprint("/srv/projects/demo/", "  fix the build\n")
	if a != b {
		t.Fatal("trailing slash and whitespace should not change the fingerprint")
	}
	if a == Fingerprint("/srv/projects/demo", "fix the build please") {
		t.Fatal("different content must produce a different fingerprint")
	}
	if a == Fingerprint("/srv/projects/other", "fix the build") {
		t.Fatal("different project must produce a different fingerprint")
	}
}
