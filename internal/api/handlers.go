package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CarpseDeam/Claude-Conductor/internal/dispatch"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectPath == "" || req.Content == "" || req.Agent == "" {
		s.writeError(w, http.StatusBadRequest, "project_path, content, and agent are required")
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		ProjectPath:    req.ProjectPath,
		Content:        req.Content,
		AgentKind:      req.Agent,
		Model:          req.Model,
		AdditionalDirs: req.AdditionalDirs,
	})
	if err != nil {
		// Request faults are the caller's; anything else (ledger I/O, spawn
		// failure) is a server error, distinct from a 409 blocked decision.
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("dispatch failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	// A refused admission is a conflict, not a server failure.
	if !res.Admitted {
		respondJSON(w, http.StatusConflict, res)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	rec, err := s.store.Get(r.Context(), taskID)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("task lookup failed", "task_id", taskID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "task lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, taskResponse(rec))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("task list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "task list failed")
		return
	}

	out := make([]TaskResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, taskResponse(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

func taskResponse(rec *ledger.TaskRecord) TaskResponse {
	return TaskResponse{
		TaskID:        rec.TaskID,
		ProjectPath:   rec.ProjectPath,
		Agent:         rec.AgentKind,
		Model:         rec.Model,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
		FinishedAt:    rec.FinishedAt,
		FilesModified: rec.FilesModified,
		Summary:       rec.Summary,
		Error:         rec.Error,
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
