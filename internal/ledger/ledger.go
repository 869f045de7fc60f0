package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxCLIOutputBytes caps the compacted transcript stored with a terminal
// record. The stream compactor bounds its own output already; this is the
// hard ceiling at the persistence boundary.
const maxCLIOutputBytes = 64 * 1024

const recordColumns = `
  task_id, project_path, agent_kind, model, status, content_fingerprint,
  created_at, finished_at, files_modified, summary, error, cli_output,
  session_id, session_port`

// Ledger is the durable task store. It is the single source of truth for
// task state: the orchestrator and every detached runner process open the
// same SQLite file, so reads always reflect the latest committed write.
type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Create inserts a new running record.
func (l *Ledger) Create(ctx context.Context, rec *TaskRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("task_id is empty")
	}
	if rec.ProjectPath == "" {
		return fmt.Errorf("project_path is empty")
	}
	if rec.AgentKind == "" {
		return fmt.Errorf("agent_kind is empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusRunning

	_, err := l.db.ExecContext(ctx, `
INSERT INTO task_ledger(
  task_id, project_path, agent_kind, model, status, content_fingerprint, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, rec.TaskID, rec.ProjectPath, rec.AgentKind, nullable(rec.Model), rec.Status,
		rec.ContentFingerprint, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("insert task %s: %w", rec.TaskID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get returns the record for taskID, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM task_ledger WHERE task_id = ?;`, taskID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return rec, nil
}

// FindRunning returns the running record for projectPath, or (nil, nil) when
// there is none. The admission guard depends on this reflecting the latest
// committed state, which holds because the query goes straight to the file.
func (l *Ledger) FindRunning(ctx context.Context, projectPath string) (*TaskRecord, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM task_ledger
WHERE project_path = ? AND status = ?
ORDER BY created_at DESC
LIMIT 1;
`, projectPath, StatusRunning)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running task: %w", err)
	}
	return rec, nil
}

// FindRecentByFingerprint returns the newest record with the given content
// fingerprint created within the trailing window, regardless of status, or
// (nil, nil). Terminal records count too: a just-failed task still suppresses
// an identical retry until the window lapses.
func (l *Ledger) FindRecentByFingerprint(ctx context.Context, fingerprint string, within time.Duration) (*TaskRecord, error) {
	cutoff := time.Now().UTC().Add(-within).Format(time.RFC3339Nano)
	row := l.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM task_ledger
WHERE content_fingerprint = ? AND created_at >= ?
ORDER BY created_at DESC
LIMIT 1;
`, fingerprint, cutoff)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task by fingerprint: %w", err)
	}
	return rec, nil
}

// FindStaleRunning returns running records older than the given age, oldest
// first. Used by the reaper to catch tasks whose runner died without
// reporting.
func (l *Ledger) FindStaleRunning(ctx context.Context, olderThan time.Duration) ([]*TaskRecord, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	rows, err := l.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM task_ledger
WHERE status = ? AND created_at < ?
ORDER BY created_at ASC;
`, StatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find stale tasks: %w", err)
	}
	return out, nil
}

// Complete transitions a running record to completed. The status check and
// the write are a single statement so a racing Fail cannot interleave; the
// first terminal write wins.
func (l *Ledger) Complete(ctx context.Context, taskID string, filesModified []string, summary, cliOutput string) error {
	files, err := json.Marshal(filesModified)
	if err != nil {
		return fmt.Errorf("marshal files_modified: %w", err)
	}
	if len(cliOutput) > maxCLIOutputBytes {
		cliOutput = cliOutput[:maxCLIOutputBytes]
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE task_ledger
SET status = ?, finished_at = ?, files_modified = ?, summary = ?, cli_output = ?
WHERE task_id = ? AND status = ?;
`, StatusCompleted, time.Now().UTC().Format(time.RFC3339Nano), string(files),
		summary, nullable(cliOutput), taskID, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return l.checkTransition(ctx, taskID, res)
}

// Fail transitions a running record to failed with the same check-and-set
// guarantee as Complete.
func (l *Ledger) Fail(ctx context.Context, taskID, reason string) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE task_ledger
SET status = ?, finished_at = ?, error = ?
WHERE task_id = ? AND status = ?;
`, StatusFailed, time.Now().UTC().Format(time.RFC3339Nano), reason, taskID, StatusRunning)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return l.checkTransition(ctx, taskID, res)
}

// ListRecent returns up to limit records, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]*TaskRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM task_ledger
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []*TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	return out, nil
}

// SetSessionID records the agent session id captured from the stream. Only
// meaningful while the task is running; writes to terminal records are
// ignored.
func (l *Ledger) SetSessionID(ctx context.Context, taskID, sessionID string) error {
	_, err := l.db.ExecContext(ctx, `
UPDATE task_ledger SET session_id = ? WHERE task_id = ? AND status = ?;
`, sessionID, taskID, StatusRunning)
	if err != nil {
		return fmt.Errorf("set session id: %w", err)
	}
	return nil
}

// SetSessionPort records the runner's follow-up listener port.
func (l *Ledger) SetSessionPort(ctx context.Context, taskID string, port int) error {
	_, err := l.db.ExecContext(ctx, `
UPDATE task_ledger SET session_port = ? WHERE task_id = ? AND status = ?;
`, port, taskID, StatusRunning)
	if err != nil {
		return fmt.Errorf("set session port: %w", err)
	}
	return nil
}

// checkTransition maps a zero-row terminal update to NotFound or
// AlreadyTerminal.
func (l *Ledger) checkTransition(ctx context.Context, taskID string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = l.db.QueryRowContext(ctx,
		"SELECT status FROM task_ledger WHERE task_id = ?;", taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check task status: %w", err)
	}
	return fmt.Errorf("task %s is %s: %w", taskID, status, ErrAlreadyTerminal)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*TaskRecord, error) {
	var (
		rec         TaskRecord
		model       sql.NullString
		statusS     string
		createdAtS  string
		finishedAtS sql.NullString
		filesJSON   sql.NullString
		summary     sql.NullString
		errMsg      sql.NullString
		cliOutput   sql.NullString
		sessionID   sql.NullString
		sessionPort sql.NullInt64
	)
	err := row.Scan(
		&rec.TaskID, &rec.ProjectPath, &rec.AgentKind, &model, &statusS,
		&rec.ContentFingerprint, &createdAtS, &finishedAtS, &filesJSON,
		&summary, &errMsg, &cliOutput, &sessionID, &sessionPort,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(statusS)
	rec.Model = model.String
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		rec.CreatedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	if filesJSON.Valid && filesJSON.String != "" {
		if err := json.Unmarshal([]byte(filesJSON.String), &rec.FilesModified); err != nil {
			return nil, fmt.Errorf("decode files_modified: %w", err)
		}
	}
	rec.Summary = summary.String
	rec.Error = errMsg.String
	rec.CLIOutput = cliOutput.String
	rec.SessionID = sessionID.String
	rec.SessionPort = int(sessionPort.Int64)
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
