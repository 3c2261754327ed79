package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(rate float64, burst int) (*SubmitLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewSubmitLimiter(rate, burst)
	l.now = clock.now
	return l, clock
}

func submit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/execute", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
}

func TestSubmitLimiterBurstThenReject(t *testing.T) {
	l, _ := newTestLimiter(1, 3)
	h := l.Handler(okHandler())

	for i := range 3 {
		if rec := submit(h, "10.0.0.1:5000"); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, rec.Code)
		}
	}
	rec := submit(h, "10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestSubmitLimiterRefills(t *testing.T) {
	l, clock := newTestLimiter(2, 1)
	h := l.Handler(okHandler())

	if rec := submit(h, "10.0.0.1:1"); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec := submit(h, "10.0.0.1:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	clock.advance(500 * time.Millisecond)
	if rec := submit(h, "10.0.0.1:1"); rec.Code != http.StatusAccepted {
		t.Fatalf("expected refill after 500ms, got %d", rec.Code)
	}
}

func TestSubmitLimiterPerClient(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	h := l.Handler(okHandler())

	submit(h, "10.0.0.1:1")
	if rec := submit(h, "10.0.0.2:1"); rec.Code != http.StatusAccepted {
		t.Fatalf("second client must have its own bucket, got %d", rec.Code)
	}
	if l.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", l.Clients())
	}
}

func TestSubmitLimiterSweep(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	h := l.Handler(okHandler())

	submit(h, "10.0.0.1:1")
	clock.advance(time.Minute)
	submit(h, "10.0.0.2:1")

	l.sweep(30 * time.Second)
	if l.Clients() != 1 {
		t.Fatalf("expected idle client to be dropped, got %d clients", l.Clients())
	}
}

func TestClientIPWithoutPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.9"
	if got := clientIP(req); got != "192.168.1.9" {
		t.Fatalf("got %q", got)
	}
}
