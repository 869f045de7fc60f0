// Package api exposes dispatch and task queries over HTTP for local
// tooling. It binds to loopback by default; there is no authentication
// layer, callers are trusted to the same degree as the CLI.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CarpseDeam/Claude-Conductor/internal/dispatch"
	"github.com/CarpseDeam/Claude-Conductor/internal/events"
	"github.com/CarpseDeam/Claude-Conductor/internal/ledger"
)

// TaskDispatcher is the dispatch seam the server calls into.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// TaskStore is the read side of the ledger used by the query endpoints.
type TaskStore interface {
	Get(ctx context.Context, taskID string) (*ledger.TaskRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*ledger.TaskRecord, error)
}

// Config holds API server settings.
type Config struct {
	Listen string
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	dispatcher TaskDispatcher
	store      TaskStore
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

func New(config Config, d TaskDispatcher, store TaskStore, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: d,
		store:      store,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the router. Exposed for handler tests.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/dispatch", s.handleDispatch)
	r.Get("/task/{taskID}", s.handleGetTask)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/events", s.handleEvents)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
