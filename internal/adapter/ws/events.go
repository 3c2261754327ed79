package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/taskrunner/internal/domain/event"
)

// Emit implements broadcast.Emitter. Having no subscribers is not an error.
func (h *Hub) Emit(ctx context.Context, projectID, eventName string, payload any) error {
	data, err := json.Marshal(event.Envelope{ProjectID: projectID, Event: eventName, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal ws event %s: %w", eventName, err)
	}
	h.broadcast(ctx, projectID, data)
	return nil
}
