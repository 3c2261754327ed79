package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/taskrunner/internal/domain/tool"
	"github.com/Strob0t/taskrunner/internal/port/database"
	"github.com/Strob0t/taskrunner/internal/service"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers and the services they use.
type Handlers struct {
	Store      database.Store
	Dispatcher *service.Dispatcher
	Tools      *tool.Catalog
	Router     *service.ModelRouter
	Checks     map[string]HealthCheck
}

type executeRequest struct {
	RequestedBy string `json:"requested_by"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type acceptedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// ExecuteTask handles POST /api/v1/tasks/{id}/execute. The execution runs
// asynchronously; progress is observed through events and the task status.
func (h *Handlers) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	req, ok := decodeBody[executeRequest](w, r)
	if !ok {
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	if _, err := h.Store.GetTask(r.Context(), id); err != nil {
		writeTaskError(w, r, id, err)
		return
	}
	if err := h.Dispatcher.Submit(r.Context(), id, req.RequestedBy); err != nil {
		writeTaskError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: id, Status: "accepted"})
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	req, ok := decodeBody[cancelRequest](w, r)
	if !ok {
		return
	}
	if err := h.Dispatcher.Cancel(r.Context(), id, req.Reason); err != nil {
		writeTaskError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: id, Status: "cancel_requested"})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	t, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		writeTaskError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTools handles GET /api/v1/tools.
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Tools.Definitions())
}

// ListProviders handles GET /api/v1/providers.
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": h.Router.Providers()})
}

// ListRunning handles GET /api/v1/executions.
func (h *Handlers) ListRunning(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"running": h.Dispatcher.Running()})
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. Any failing check turns the response into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", "check", name, "error", err)
			status.Checks[name] = "down"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "up"
	}
	writeJSON(w, code, status)
}
