// Package task defines the Task domain entity and its status machine.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no further automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the orchestrator may move a task from one
// status to another. A terminal task may only be restarted by an explicit new
// execution, which moves it back to IN_PROGRESS.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to.IsTerminal()
	case StatusCompleted, StatusFailed:
		return to == StatusInProgress || to == StatusFailed
	}
	return false
}

// Task represents a unit of development work executed by an agent.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	AssigneeIDs []string  `json:"assignee_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PrimaryAssignee returns the first assignee, or "" when the task is unassigned.
func (t *Task) PrimaryAssignee() string {
	if len(t.AssigneeIDs) == 0 {
		return ""
	}
	return t.AssigneeIDs[0]
}

// Goal combines title and description into the global goal given to the agent.
func (t *Task) Goal() string {
	if t.Description == "" {
		return t.Title
	}
	return t.Title + "\n\n" + t.Description
}
