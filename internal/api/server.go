// Package api exposes the orchestrator's submission surface over HTTP
// for serve mode. It is a thin front: all semantics live in the
// orchestrator package.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mwhitby/drover/internal/orchestrator"
)

// Server exposes task submission, status, and health over HTTP.
type Server struct {
	addr string
	orch *orchestrator.Orchestrator
}

// NewServer creates a Server bound to the given orchestrator.
func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	return &Server{addr: addr, orch: orch}
}

// Handler returns the route table for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start runs the HTTP server until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// submitRequest is the POST /api/v1/tasks payload.
type submitRequest struct {
	SessionID   string         `json:"session_id"`
	Instruction string         `json:"instruction"`
	Context     map[string]any `json:"context,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	// WaitMs, when positive, blocks until the task finishes and returns
	// the coordination result inline.
	WaitMs int `json:"wait_ms,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Instruction == "" {
		http.Error(w, "instruction is required", http.StatusBadRequest)
		return
	}

	taskID, err := s.orch.Submit(req.SessionID, req.Instruction, req.Context, req.Priority)
	if err != nil {
		if errors.Is(err, orchestrator.ErrShuttingDown) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if req.WaitMs > 0 {
		s.awaitAndRespond(w, taskID, time.Duration(req.WaitMs)*time.Millisecond)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	if raw := r.URL.Query().Get("wait_ms"); raw != "" {
		waitMs, err := strconv.Atoi(raw)
		if err != nil || waitMs <= 0 {
			http.Error(w, "wait_ms must be a positive integer", http.StatusBadRequest)
			return
		}
		s.awaitAndRespond(w, taskID, time.Duration(waitMs)*time.Millisecond)
		return
	}

	status, ok := s.orch.TaskStatus(taskID)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "status": status})
}

// awaitAndRespond blocks on task completion and maps orchestrator errors
// to HTTP statuses.
func (s *Server) awaitAndRespond(w http.ResponseWriter, taskID string, timeout time.Duration) {
	result, err := s.orch.AwaitCompletion(taskID, timeout)
	switch {
	case errors.Is(err, orchestrator.ErrTaskTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrAgentsUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetStatus())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetAgentStatuses())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Metrics())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
