// Package execution defines the task-scoped context of one orchestrator run.
package execution

// Context is created at the start of a run and discarded at the end.
// It is never persisted or shared across tasks.
type Context struct {
	ExecutionID string
	TaskID      string
	AgentID     string
	SandboxID   string
	WorkDir     string
}
