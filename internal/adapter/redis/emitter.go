// Package redis publishes project events over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Strob0t/taskrunner/internal/domain/event"
)

// Emitter publishes each event on the project's channel (project:<id>).
type Emitter struct {
	client *goredis.Client
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*Emitter, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Emitter{client: client}, nil
}

// New wraps an existing client.
func New(client *goredis.Client) *Emitter {
	return &Emitter{client: client}
}

// Emit implements broadcast.Emitter.
func (e *Emitter) Emit(ctx context.Context, projectID, eventName string, payload any) error {
	data, err := json.Marshal(event.Envelope{ProjectID: projectID, Event: eventName, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal redis event %s: %w", eventName, err)
	}
	if err := e.client.Publish(ctx, event.Channel(projectID), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", eventName, err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (e *Emitter) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

// Close releases the client.
func (e *Emitter) Close() error {
	return e.client.Close()
}
