// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
)

// Store is the read-mostly view of tasks, projects and agents the executor needs.
// Lookups of missing records return an error wrapping domain.ErrNotFound.
type Store interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)

	// SetTaskStatus persists a status transition.
	SetTaskStatus(ctx context.Context, id string, status task.Status) error
}
