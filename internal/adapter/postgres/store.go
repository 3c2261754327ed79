package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
)

// errNoTokenKey is returned when a project carries an encrypted token but the
// store was built without a key.
var errNoTokenKey = errors.New("git access token is encrypted but no token key is configured")

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	tokenKey []byte
}

// NewStore creates a new Store backed by the given connection pool. tokenKey
// decrypts project git access tokens; it may be nil when no project has one.
func NewStore(pool *pgxpool.Pool, tokenKey []byte) *Store {
	return &Store{pool: pool, tokenKey: tokenKey}
}

// --- Tasks ---

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, description, status, created_at, updated_at
		 FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, lookupErr(err, "task", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT agent_id FROM task_assignees WHERE task_id = $1 ORDER BY position, agent_id`, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s assignees: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		t.AssigneeIDs = append(t.AssigneeIDs, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get task %s assignees: %w", id, err)
	}
	t.AssigneeIDs = nonNil(t.AssigneeIDs)
	return &t, nil
}

func (s *Store) SetTaskStatus(ctx context.Context, id string, status task.Status) error {
	if !status.Valid() {
		return fmt.Errorf("set task %s status: invalid status %q", id, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	return updatedOne(tag, err, "set task "+id+" status")
}

// CreateTask inserts a PENDING task and its ordered assignees.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO tasks (project_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING id, status, created_at, updated_at`,
		t.ProjectID, t.Title, t.Description).
		Scan(&t.ID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	for i, agentID := range t.AssigneeIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_assignees (task_id, agent_id, position) VALUES ($1, $2, $3)`,
			t.ID, agentID, i); err != nil {
			return fmt.Errorf("insert assignee %s: %w", agentID, err)
		}
	}
	return tx.Commit(ctx)
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, git_repository_url, git_access_token, base_image, created_at, updated_at
		 FROM projects WHERE id = $1`, id)

	p, err := s.scanProject(row)
	if err != nil {
		return nil, lookupErr(err, "project", id)
	}
	return p, nil
}

// CreateProject inserts a project, encrypting its git access token.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	var enc []byte
	if p.HasToken() {
		if s.tokenKey == nil {
			return fmt.Errorf("create project: %w", errNoTokenKey)
		}
		var err error
		if enc, err = project.EncryptToken(p.GitAccessToken, s.tokenKey); err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, git_repository_url, git_access_token, base_image)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		p.Name, p.GitRepositoryURL, enc, p.BaseImage).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Store) scanProject(r scanner) (*project.Project, error) {
	var p project.Project
	var enc []byte
	if err := r.Scan(&p.ID, &p.Name, &p.GitRepositoryURL, &enc, &p.BaseImage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(enc) > 0 {
		if s.tokenKey == nil {
			return nil, errNoTokenKey
		}
		tok, err := project.DecryptToken(enc, s.tokenKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt token: %w", err)
		}
		p.GitAccessToken = tok
	}
	return &p, nil
}

// --- Agents ---

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var a agent.Agent
	var cfg []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, email, config, created_at, updated_at
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.ProjectID, &a.Name, &a.Email, &cfg, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, lookupErr(err, "agent", id)
	}
	if err := json.Unmarshal(cfg, &a.Config); err != nil {
		return nil, fmt.Errorf("unmarshal agent %s config: %w", id, err)
	}
	if a.Config == nil {
		a.Config = map[string]string{}
	}
	return &a, nil
}

// CreateAgent inserts an agent.
func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	cfg, err := json.Marshal(orMap(a.Config))
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO agents (project_id, name, email, config)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.ProjectID, a.Name, a.Email, cfg).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func orMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
