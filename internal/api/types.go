package api

import "time"

// DispatchRequest is the JSON body for POST /dispatch.
type DispatchRequest struct {
	ProjectPath    string   `json:"project_path"`
	Content        string   `json:"content"`
	Agent          string   `json:"agent"`
	Model          string   `json:"model,omitempty"`
	AdditionalDirs []string `json:"additional_dirs,omitempty"`
}

// TaskResponse is one ledger record rendered for callers.
type TaskResponse struct {
	TaskID        string     `json:"task_id"`
	ProjectPath   string     `json:"project_path"`
	Agent         string     `json:"agent"`
	Model         string     `json:"model,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	FilesModified []string   `json:"files_modified,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
