// Package broadcast defines the port for emitting progress events to the
// subscribers of a project channel.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
)

// Emitter publishes an event to every subscriber of the project's channel.
type Emitter interface {
	Emit(ctx context.Context, projectID, eventName string, payload any) error
}

// Multi fans an event out to several emitters. A failing emitter does not
// prevent delivery to the others; all errors are joined.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, projectID, eventName string, payload any) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, projectID, eventName, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps an emitter so that delivery failures are logged and swallowed.
// Event delivery is never fatal to an execution.
func Logged(e Emitter) Emitter {
	return loggedEmitter{next: e}
}

type loggedEmitter struct {
	next Emitter
}

func (l loggedEmitter) Emit(ctx context.Context, projectID, eventName string, payload any) error {
	if err := l.next.Emit(ctx, projectID, eventName, payload); err != nil {
		slog.Warn("event emit failed", "project_id", projectID, "event", eventName, "error", err)
	}
	return nil
}
