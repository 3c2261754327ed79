package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/service"
)

// maxBody caps request bodies; execute and cancel payloads are a few fields.
const maxBody = 64 << 10

// decodeBody reads an optional JSON body into a T. A missing body yields the
// zero T. On failure the error response is already written and ok is false.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (v T, ok bool) {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&v)
	if err == nil || errors.Is(err, io.EOF) {
		return v, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	} else {
		writeError(w, http.StatusBadRequest, "invalid request body")
	}
	return v, false
}

func taskID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTaskError maps task lookup and submission failures to a status code.
// Anything unexpected is logged and hidden behind a 500.
func writeTaskError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "task "+id+" not found")
	case errors.Is(err, service.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "task "+id+" is already running")
	default:
		slog.ErrorContext(r.Context(), "request failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
