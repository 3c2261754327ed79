package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Strob0t/taskrunner/internal/logger"
)

func serve(id string) (ctxID string, rec *httptest.ResponseRecorder) {
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec
}

func TestRequestIDGenerated(t *testing.T) {
	ctxID, rec := serve("")

	respID := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(respID); err != nil {
		t.Fatalf("expected a UUID, got %q", respID)
	}
	if ctxID != respID {
		t.Errorf("context id %q differs from header %q", ctxID, respID)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	const existingID = "my-custom-id-123"

	ctxID, rec := serve(existingID)
	if ctxID != existingID {
		t.Errorf("expected %q in context, got %q", existingID, ctxID)
	}
	if rec.Header().Get("X-Request-ID") != existingID {
		t.Errorf("expected %q in response header, got %q", existingID, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDRejectsUnsafeInput(t *testing.T) {
	for _, bad := range []string{"has space", "tab\there", strings.Repeat("a", 129), "ünïcode"} {
		ctxID, _ := serve(bad)
		if ctxID == bad {
			t.Errorf("unsafe id %q was accepted", bad)
		}
		if _, err := uuid.Parse(ctxID); err != nil {
			t.Errorf("expected replacement UUID for %q, got %q", bad, ctxID)
		}
	}
}
