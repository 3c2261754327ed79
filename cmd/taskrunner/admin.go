package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	trnats "github.com/Strob0t/taskrunner/internal/adapter/nats"
	"github.com/Strob0t/taskrunner/internal/adapter/postgres"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
	"github.com/Strob0t/taskrunner/internal/port/messagequeue"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "create-project":
		return runAdminCreateProject(args[1:])
	case "create-agent":
		return runAdminCreateAgent(args[1:])
	case "create-task":
		return runAdminCreateTask(args[1:])
	case "execute":
		return runAdminExecute(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskrunner admin <command> [options]

Commands:
  migrate          Apply database migrations and print the schema version
  create-project   Create a project (prompts for the git access token with --token)
  create-agent     Create an agent in a project
  create-task      Create a task and announce it on tasks.created
  execute          Request an execution of a task
  help             Show this help message

Examples:
  taskrunner admin create-project --name api --repo https://github.com/acme/api.git --token
  taskrunner admin create-agent --project <id> --name Ada --provider openai --model gpt-4o-mini
  taskrunner admin create-task --project <id> --title "Fix flaky test" --assignee <agent-id>
  taskrunner admin execute <task-id>
`)
}

type adminDeps struct {
	cfg   *config.Config
	store *postgres.Store
	close func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	key, err := tokenKey(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &adminDeps{cfg: cfg, store: postgres.NewStore(pool, key), close: pool.Close}, nil
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := adminContext()
	defer cancel()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Schema at version %d\n", v)
	return nil
}

func runAdminCreateProject(args []string) error {
	fs := flag.NewFlagSet("create-project", flag.ContinueOnError)
	name := fs.String("name", "", "project name (required)")
	repo := fs.String("repo", "", "git repository URL (required)")
	image := fs.String("image", "", "sandbox base image (default "+project.DefaultBaseImage+")")
	withToken := fs.Bool("token", false, "prompt for a git access token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *repo == "" {
		return fmt.Errorf("--repo is required")
	}

	p := &project.Project{Name: *name, GitRepositoryURL: *repo, BaseImage: *image}
	if *withToken {
		tok, err := promptSecret("Git access token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		p.GitAccessToken = strings.TrimSpace(tok)
	}

	ctx, cancel := adminContext()
	defer cancel()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.store.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Project created: %s (id=%s, token=%t)\n", p.Name, p.ID, p.HasToken())
	return nil
}

func runAdminCreateAgent(args []string) error {
	fs := flag.NewFlagSet("create-agent", flag.ContinueOnError)
	projectID := fs.String("project", "", "project ID (required)")
	name := fs.String("name", "", "agent display name (required)")
	email := fs.String("email", "", "commit email (derived from the name when empty)")
	provider := fs.String("provider", "", "model provider")
	model := fs.String("model", "", "model name")
	temperature := fs.String("temperature", "", "sampling temperature")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return fmt.Errorf("--project is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	a := &agent.Agent{ProjectID: *projectID, Name: *name, Email: *email, Config: map[string]string{}}
	for k, v := range map[string]string{
		agent.ConfigProvider:    *provider,
		agent.ConfigModel:       *model,
		agent.ConfigTemperature: *temperature,
	} {
		if v != "" {
			a.Config[k] = v
		}
	}

	ctx, cancel := adminContext()
	defer cancel()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.store.CreateAgent(ctx, a); err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Agent created: %s (id=%s)\n", a.Name, a.ID)
	return nil
}

func runAdminCreateTask(args []string) error {
	fs := flag.NewFlagSet("create-task", flag.ContinueOnError)
	projectID := fs.String("project", "", "project ID (required)")
	title := fs.String("title", "", "task title (required)")
	description := fs.String("description", "", "task description")
	assignees := fs.String("assignee", "", "comma-separated agent IDs; the first one executes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return fmt.Errorf("--project is required")
	}
	if *title == "" {
		return fmt.Errorf("--title is required")
	}

	t := &task.Task{ProjectID: *projectID, Title: *title, Description: *description}
	for _, id := range strings.Split(*assignees, ",") {
		if id = strings.TrimSpace(id); id != "" {
			t.AssigneeIDs = append(t.AssigneeIDs, id)
		}
	}

	ctx, cancel := adminContext()
	defer cancel()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	if err := deps.store.CreateTask(ctx, t); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Task created: %s (id=%s)\n", t.Title, t.ID)

	return publish(ctx, deps.cfg, messagequeue.SubjectTaskCreated, messagequeue.TaskCreatedPayload{
		TaskID: t.ID, ProjectID: t.ProjectID, Title: t.Title,
	})
}

func runAdminExecute(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: taskrunner admin execute <task-id>")
	}
	taskID := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := adminContext()
	defer cancel()
	if err := publish(ctx, cfg, messagequeue.SubjectTaskExecute, messagequeue.TaskExecutePayload{TaskID: taskID, RequestedBy: "cli"}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Execution requested for task %s\n", taskID)
	return nil
}

func publish(ctx context.Context, cfg *config.Config, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	q, err := trnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = q.Close() }()
	if err := q.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
