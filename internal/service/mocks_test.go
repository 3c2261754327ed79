package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
	"github.com/Strob0t/taskrunner/internal/port/messagequeue"
)

// --- Store ---

type mockStore struct {
	mu       sync.Mutex
	tasks    map[string]*task.Task
	projects map[string]*project.Project
	agents   map[string]*agent.Agent
	statuses []task.Status
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:    map[string]*task.Task{},
		projects: map[string]*project.Project{},
		agents:   map[string]*agent.Agent{},
	}
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) SetTaskStatus(_ context.Context, id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockStore) history() []task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Status(nil), m.statuses...)
}

// --- Sandbox runtime ---

type execCall struct {
	id      string
	cmd     []string
	workDir string
}

func (c execCall) script() string { return c.cmd[len(c.cmd)-1] }

type mockRuntime struct {
	mu        sync.Mutex
	createErr error
	stopErr   error
	images    []string
	envs      []map[string]string
	created   int
	stopped   []string
	execs     []execCall
	// respond decides the output of a command; nil succeeds with no output.
	respond func(ctx context.Context, call execCall) (string, error)
}

func (m *mockRuntime) CreateAndStart(_ context.Context, image string, env map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, image)
	m.envs = append(m.envs, env)
	if m.createErr != nil {
		return "", m.createErr
	}
	m.created++
	return fmt.Sprintf("sandbox-%d", m.created), nil
}

func (m *mockRuntime) Execute(ctx context.Context, id string, cmd []string, workDir string) (string, error) {
	call := execCall{id: id, cmd: cmd, workDir: workDir}
	m.mu.Lock()
	m.execs = append(m.execs, call)
	respond := m.respond
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if respond == nil {
		return "", nil
	}
	return respond(ctx, call)
}

func (m *mockRuntime) StopAndRemove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
	return m.stopErr
}

func (m *mockRuntime) scripts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.execs))
	for i, c := range m.execs {
		out[i] = c.script()
	}
	return out
}

// --- Emitter ---

type emitted struct {
	projectID string
	name      string
	payload   any
}

type mockEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (m *mockEmitter) Emit(_ context.Context, projectID, eventName string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, emitted{projectID: projectID, name: eventName, payload: payload})
	return nil
}

func (m *mockEmitter) all() []emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]emitted(nil), m.events...)
}

func (m *mockEmitter) text() string {
	var b strings.Builder
	for _, e := range m.all() {
		fmt.Fprintf(&b, "%s %+v\n", e.name, e.payload)
	}
	return b.String()
}

// --- Queue ---

type published struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
	unsubbed  int
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: map[string]messagequeue.Handler{}}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject: subject, data: data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[subject] = handler
	return func() {
		m.mu.Lock()
		m.unsubbed++
		m.mu.Unlock()
	}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) handler(subject string) messagequeue.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[subject]
}
