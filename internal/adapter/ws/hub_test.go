package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/taskrunner/internal/domain/event"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestEmitNoConnections(t *testing.T) {
	hub := NewHub()
	err := hub.Emit(context.Background(), "p1", event.AgentLog, event.AgentLogPayload{TaskID: "t1", Message: "hi"})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestEmitMarshalError(t *testing.T) {
	hub := NewHub()
	if err := hub.Emit(context.Background(), "p1", "bad", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel, projectID: "p1"})
}

func TestHandleWSRequiresProject(t *testing.T) {
	hub := NewHub("*")
	rec := httptest.NewRecorder()
	hub.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func dial(t *testing.T, srv *httptest.Server, projectID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?project_id=" + projectID
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEmitDeliversOnlyToProjectSubscribers(t *testing.T) {
	hub := NewHub("*")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	a := dial(t, srv, "p1")
	b := dial(t, srv, "p2")
	waitFor(t, func() bool { return hub.ConnectionCount() == 2 })

	if err := hub.Emit(context.Background(), "p1", event.TaskStatusUpdate, event.TaskStatusPayload{TaskID: "t1", Status: "IN_PROGRESS"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := a.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		ProjectID string                  `json:"project_id"`
		Event     string                  `json:"event"`
		Payload   event.TaskStatusPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ProjectID != "p1" || env.Event != event.TaskStatusUpdate || env.Payload.Status != "IN_PROGRESS" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, _, err := b.Read(shortCtx); err == nil {
		t.Fatal("p2 subscriber should not receive p1 events")
	}
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub("*")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, "p1")
	waitFor(t, func() bool { return hub.Subscribers("p1") == 1 })

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return hub.Subscribers("p1") == 0 })
}
