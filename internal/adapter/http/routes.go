package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API routes on the given chi router. ws may be
// nil when the WebSocket event channel is disabled; submitLimit, when set,
// guards the execution request route.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc, submitLimit func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/tasks/{id}", h.GetTask)
		if submitLimit != nil {
			r.With(submitLimit).Post("/tasks/{id}/execute", h.ExecuteTask)
		} else {
			r.Post("/tasks/{id}/execute", h.ExecuteTask)
		}
		r.Post("/tasks/{id}/cancel", h.CancelTask)

		r.Get("/executions", h.ListRunning)
		r.Get("/tools", h.ListTools)
		r.Get("/providers", h.ListProviders)
	})
}
