package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/taskrunner/internal/adapter/postgres"
	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	key, err := project.DeriveKey("test-secret")
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return postgres.NewStore(pool, key)
}

func TestStoreTaskRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := &project.Project{Name: "demo", GitRepositoryURL: "https://github.com/acme/demo.git", GitAccessToken: "ghp_secret"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	a := &agent.Agent{ProjectID: p.ID, Name: "Ada", Config: map[string]string{agent.ConfigProvider: "mock"}}
	if err := store.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	tk := &task.Task{ProjectID: p.ID, Title: "List files", AssigneeIDs: []string{a.ID}}
	if err := store.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.Status != task.StatusPending {
		t.Fatalf("expected PENDING, got %s", tk.Status)
	}

	gotProject, err := store.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if gotProject.GitAccessToken != "ghp_secret" {
		t.Fatal("token did not round-trip through encryption")
	}

	gotAgent, err := store.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if gotAgent.Config[agent.ConfigProvider] != "mock" {
		t.Fatalf("unexpected agent config %v", gotAgent.Config)
	}

	if err := store.SetTaskStatus(ctx, tk.ID, task.StatusInProgress); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	got, err := store.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", got.Status)
	}
	if got.PrimaryAssignee() != a.ID {
		t.Fatalf("expected assignee %s, got %v", a.ID, got.AssigneeIDs)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	missing := uuid.NewString()

	if _, err := store.GetTask(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetTask: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetProject(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetProject: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetAgent(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetAgent: expected ErrNotFound, got %v", err)
	}
	if err := store.SetTaskStatus(ctx, missing, task.StatusFailed); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetTaskStatus: expected ErrNotFound, got %v", err)
	}
}

func TestSetTaskStatusRejectsInvalid(t *testing.T) {
	store := postgres.NewStore(nil, nil)
	if err := store.SetTaskStatus(context.Background(), "t1", task.Status("DONE")); err == nil {
		t.Fatal("expected error for invalid status")
	}
}
