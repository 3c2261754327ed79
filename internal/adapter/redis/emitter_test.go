package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Strob0t/taskrunner/internal/domain/event"
)

func TestEmitPublishesOnProjectChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	e, err := Connect(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = e.Close() }()

	sub := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = sub.Close() }()
	ps := sub.Subscribe(ctx, event.Channel("p1"))
	defer func() { _ = ps.Close() }()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe confirm: %v", err)
	}

	payload := event.AgentLogPayload{TaskID: "t1", AgentID: "a1", AgentName: "Ada", Message: "cloning"}
	if err := e.Emit(ctx, "p1", event.AgentLog, payload); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case msg := <-ps.Channel():
		if msg.Channel != "project:p1" {
			t.Fatalf("unexpected channel %s", msg.Channel)
		}
		var env struct {
			Event   string                `json:"event"`
			Payload event.AgentLogPayload `json:"payload"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Event != event.AgentLog || env.Payload.Message != "cloning" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnectUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Connect(ctx, "redis://"+addr); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestConnectBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "://nope"); err == nil {
		t.Fatal("expected url error")
	}
}
