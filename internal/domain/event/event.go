// Package event defines the progress events emitted to a project's channel
// while a task executes.
package event

import "time"

// Event names delivered to project subscribers.
const (
	AgentLog         = "agentLog"
	TaskStatusUpdate = "taskStatusUpdate"
)

// AgentLogPayload is a free-form progress message from the executing agent.
type AgentLogPayload struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskStatusPayload announces a task status transition.
type TaskStatusPayload struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the wire form of an event on a project channel.
type Envelope struct {
	ProjectID string `json:"project_id"`
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
}

// Channel returns the pub/sub channel name for a project.
func Channel(projectID string) string {
	return "project:" + projectID
}
