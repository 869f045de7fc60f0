package reaper

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CarpseDeam/Claude-Conductor/internal/events"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
	"github.com/CarpseDeam/Claude-Conductor/internal/storage"
)

func openTestReaper(t *testing.T, staleAfter time.Duration) (*Reaper, *ledger.Ledger, *sql.DB, *events.Hub) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		t.Fatalf("BootstrapSQLite: %v", err)
	}

	l := ledger.New(db)
	hub := events.NewHub(16)
	return New(l, hub, time.Minute, staleAfter), l, db, hub
}

func createTask(t *testing.T, l *ledger.Ledger, db *sql.DB, taskID, project string, age time.Duration) {
	t.Helper()
	err := l.Create(context.Background(), &ledger.TaskRecord{
		TaskID:             taskID,
		ProjectPath:        project,
		AgentKind:          "claude",
		ContentFingerprint: "fp-" + taskID,
		CreatedAt:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	if _, err := db.Exec("UPDATE task_ledger SET created_at = ? WHERE task_id = ?;", created, taskID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

func TestSweepReclaimsOnlyStaleTasks(t *testing.T) {
	t.Parallel()
	r, l, db, hub := openTestReaper(t, 10*time.Minute)
	ctx := context.Background()

	createTask(t, l, db, "stale-1", "/srv/a", 15*time.Minute)
	createTask(t, l, db, "stale-2", "/srv/b", 11*time.Minute)
	createTask(t, l, db, "fresh", "/srv/c", time.Minute)

	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("reclaimed %d, want 2", n)
	}

	for _, id := range []string{"stale-1", "stale-2"} {
		rec, err := l.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if rec.Status != ledger.StatusFailed {
			t.Fatalf("%s status = %s, want failed", id, rec.Status)
		}
		if !strings.HasPrefix(rec.Error, ledger.StaleReason) {
			t.Fatalf("%s reason = %q, want prefix %q", id, rec.Error, ledger.StaleReason)
		}
	}

	rec, err := l.Get(ctx, "fresh")
	if err != nil {
		t.Fatalf("Get fresh: %v", err)
	}
	if rec.Status != ledger.StatusRunning {
		t.Fatalf("fresh status = %s, want running", rec.Status)
	}

	evs := hub.SnapshotSince(0)
	if len(evs) != 2 {
		t.Fatalf("published %d events, want 2", len(evs))
	}
	if evs[0].Type != events.TaskReclaimed {
		t.Fatalf("event type = %s", evs[0].Type)
	}
}

func TestSweepToleratesRacingReport(t *testing.T) {
	t.Parallel()
	r, l, db, _ := openTestReaper(t, 10*time.Minute)
	ctx := context.Background()

	createTask(t, l, db, "racy", "/srv/a", 15*time.Minute)
	// Terminal report lands between listing and sweeping.
	if err := l.Complete(ctx, "racy", nil, "made it", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d, want 0", n)
	}

	rec, err := l.Get(ctx, "racy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed (first write wins)", rec.Status)
	}
}

func TestSweepEmptyLedger(t *testing.T) {
	t.Parallel()
	r, _, _, _ := openTestReaper(t, 10*time.Minute)

	n, err := r.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
}
