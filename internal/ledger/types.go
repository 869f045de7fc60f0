package ledger

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a tracked task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StaleReason is the stable prefix recorded on tasks reclaimed for
// exceeding the staleness window without a lifecycle report.
const StaleReason = "stale: exceeded maximum task duration"

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord is one dispatched coding task. Records are created in running
// state, transition exactly once to a terminal state, and are never deleted.
type TaskRecord struct {
	TaskID             string
	ProjectPath        string
	AgentKind          string
	Model              string
	Status             Status
	ContentFingerprint string
	CreatedAt          time.Time
	FinishedAt         *time.Time
	FilesModified      []string
	Summary            string
	Error              string
	CLIOutput          string
	SessionID          string
	SessionPort        int
}

// Age returns how long ago the record was created.
func (r *TaskRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

var (
	// ErrNotFound is returned when no record exists for a task id.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyTerminal is returned when a terminal transition is requested
	// for a record that already completed or failed. Callers that merely want
	// first-write-wins semantics should treat it as a no-op.
	ErrAlreadyTerminal = errors.New("task already in terminal state")

	// ErrAlreadyExists is returned on a task_id collision at insert. IDs are
	// random UUIDs, so hitting this indicates a broken invariant rather than
	// a recoverable condition.
	ErrAlreadyExists = errors.New("task id already exists")
)
