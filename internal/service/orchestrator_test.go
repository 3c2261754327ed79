package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Strob0t/taskrunner/internal/adapter/llmapi"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/event"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
	"github.com/Strob0t/taskrunner/internal/domain/tool"
	"github.com/Strob0t/taskrunner/internal/port/llm"
)

const (
	finishReply  = `{"thought":"Done.","command":"","args":[],"finished":true}`
	lsReply      = `{"thought":"Look around.","command":"ls","args":["-la"],"finished":false}`
	failingReply = `{"thought":"Try the tests.","command":"make","args":["test"],"finished":false}`
)

type harness struct {
	store   *mockStore
	runtime *mockRuntime
	events  *mockEmitter
	cfg     *config.Config
	orch    *Orchestrator
}

func newHarness(t *testing.T, provider llm.Provider, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = "mock"
	cfg.Orchestrator.MaxIterations = 5
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMockStore()
	store.projects["p1"] = &project.Project{ID: "p1", Name: "demo", GitRepositoryURL: "https://github.com/acme/demo.git"}
	store.agents["a1"] = &agent.Agent{ID: "a1", ProjectID: "p1", Name: "Ada", Config: map[string]string{}}
	store.tasks["t1"] = &task.Task{ID: "t1", ProjectID: "p1", Title: "List files", Description: "Show the repo layout", Status: task.StatusPending, AssigneeIDs: []string{"a1"}}

	rt := &mockRuntime{}
	events := &mockEmitter{}
	router := NewModelRouter(cfg.LLM, map[string]llm.Provider{"mock": provider}, nil)
	tools := NewToolInvoker(tool.DefaultCatalog(), rt, http.DefaultClient, NewWebSearcher(http.DefaultClient, cfg.Tools, nil), cfg.Tools, nil)

	return &harness{
		store:   store,
		runtime: rt,
		events:  events,
		cfg:     &cfg,
		orch:    NewOrchestrator(store, rt, router, tools, events, &cfg, nil),
	}
}

func assertStatuses(t *testing.T, got []task.Status, want ...task.Status) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("status history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status history = %v, want %v", got, want)
		}
	}
}

func TestExecuteFinishesOnFirstCall(t *testing.T) {
	session := llmapi.NewSession(finishReply)
	h := newHarness(t, session, nil)

	if err := h.orch.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusCompleted)
	if session.Calls() != 1 {
		t.Fatalf("expected 1 model call, got %d", session.Calls())
	}
	if h.runtime.created != 1 || len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one create and one teardown, got %d/%d", h.runtime.created, len(h.runtime.stopped))
	}
	if h.runtime.images[0] != project.DefaultBaseImage {
		t.Fatalf("expected default image, got %s", h.runtime.images[0])
	}

	scripts := h.runtime.scripts()
	if len(scripts) != 2 {
		t.Fatalf("expected clone and identity commands only, got %v", scripts)
	}
	if !strings.HasPrefix(scripts[0], "git clone -- 'https://github.com/acme/demo.git' '/workspace'") {
		t.Fatalf("unexpected clone script %q", scripts[0])
	}
	if !strings.Contains(scripts[1], "git config user.email 'a1@agents.taskrunner.local'") {
		t.Fatalf("unexpected identity script %q", scripts[1])
	}

	var statusEvents []string
	for _, e := range h.events.all() {
		if e.projectID != "p1" {
			t.Fatalf("event emitted to wrong project %q", e.projectID)
		}
		if p, ok := e.payload.(event.TaskStatusPayload); ok {
			statusEvents = append(statusEvents, p.Status)
			if p.AgentID != "a1" || p.AgentName != "Ada" {
				t.Fatalf("status event missing agent: %+v", p)
			}
		}
	}
	if strings.Join(statusEvents, ",") != "IN_PROGRESS,COMPLETED" {
		t.Fatalf("unexpected status events %v", statusEvents)
	}
	if !strings.Contains(h.events.text(), "Done.") {
		t.Fatal("expected the model's thought to be emitted as a log event")
	}
}

func TestExecuteEngineUnreachable(t *testing.T) {
	session := llmapi.NewSession(finishReply)
	h := newHarness(t, session, nil)
	h.runtime.createErr = domain.ErrSandboxConnection

	err := h.orch.Execute(context.Background(), "t1")
	if !errors.Is(err, domain.ErrSandboxConnection) {
		t.Fatalf("expected ErrSandboxConnection, got %v", err)
	}

	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
	if h.runtime.created != 0 || len(h.runtime.stopped) != 0 {
		t.Fatalf("expected no sandbox and no teardown, got %d/%d", h.runtime.created, len(h.runtime.stopped))
	}
	if session.Calls() != 0 {
		t.Fatalf("model must not be called, got %d calls", session.Calls())
	}
	if !strings.Contains(h.events.text(), "Category: sandbox") {
		t.Fatalf("expected actionable failure log, got:\n%s", h.events.text())
	}
}

func TestExecuteMissingAssigneeFailsWithoutSandbox(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	h.store.tasks["t1"].AssigneeIDs = nil

	err := h.orch.Execute(context.Background(), "t1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusFailed)
	if len(h.runtime.images) != 0 {
		t.Fatal("sandbox must not be requested")
	}
}

func TestExecuteMissingProjectFails(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	delete(h.store.projects, "p1")

	if err := h.orch.Execute(context.Background(), "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusFailed)
}

func TestExecuteUnknownTask(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	if err := h.orch.Execute(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(h.store.history()) != 0 {
		t.Fatal("no status must be written for an unknown task")
	}
}

func TestExecuteFeedsCommandErrorsBack(t *testing.T) {
	session := llmapi.NewSession(failingReply, finishReply)
	h := newHarness(t, session, nil)
	h.runtime.respond = func(_ context.Context, c execCall) (string, error) {
		if c.script() == "make test" {
			return "FAIL: parser_test.go:12", &domain.CommandError{Command: c.cmd, Output: "FAIL: parser_test.go:12", Err: errors.New("exit status 2")}
		}
		return "", nil
	}

	if err := h.orch.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusCompleted)

	prompts := session.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(prompts))
	}
	if !strings.Contains(prompts[1], "Step 1: make test") || !strings.Contains(prompts[1], "Result (error):") {
		t.Fatalf("second prompt should carry the failed command:\n%s", prompts[1])
	}
	if !strings.Contains(prompts[1], "FAIL: parser_test.go:12") {
		t.Fatal("second prompt should carry the command output")
	}
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one teardown, got %d", len(h.runtime.stopped))
	}
}

func TestExecuteRunsDetectedToolInsteadOfCommand(t *testing.T) {
	toolReply := `{"thought":"Read it: use_tool(\"read_file\", {\"path\": \"a.txt\"})","command":"use_tool","args":[],"finished":false}`
	session := llmapi.NewSession(toolReply, finishReply)
	h := newHarness(t, session, nil)
	h.runtime.respond = func(_ context.Context, c execCall) (string, error) {
		if strings.HasPrefix(c.script(), "cat ") {
			return "hello", nil
		}
		return "", nil
	}

	if err := h.orch.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	scripts := h.runtime.scripts()
	if got := scripts[len(scripts)-1]; got != "cat -- '/workspace/a.txt'" {
		t.Fatalf("expected tool command, got %q", got)
	}
	for _, s := range scripts {
		if s == "use_tool" {
			t.Fatal("use_tool must not run as a shell command")
		}
	}
	if !strings.Contains(session.Prompts()[1], `use_tool read_file {"path":"a.txt"}`) {
		t.Fatalf("second prompt should record the tool call:\n%s", session.Prompts()[1])
	}
}

func TestExecuteIterationCapPolicy(t *testing.T) {
	tests := []struct {
		policy string
		want   task.Status
	}{
		{config.CapPolicyComplete, task.StatusCompleted},
		{config.CapPolicyFail, task.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			session := llmapi.NewSession(lsReply)
			h := newHarness(t, session, func(cfg *config.Config) {
				cfg.Orchestrator.MaxIterations = 3
				cfg.Orchestrator.OnIterationCap = tt.policy
			})

			err := h.orch.Execute(context.Background(), "t1")
			if tt.want == task.StatusFailed && !errors.Is(err, errIterationCap) {
				t.Fatalf("expected iteration cap error, got %v", err)
			}
			if tt.want == task.StatusCompleted && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			assertStatuses(t, h.store.history(), task.StatusInProgress, tt.want)
			if session.Calls() != 3 {
				t.Fatalf("expected 3 model calls, got %d", session.Calls())
			}
			if !strings.Contains(h.events.text(), "Iteration cap of 3 reached") && tt.want == task.StatusCompleted {
				t.Fatal("expected the cap to be reported")
			}
		})
	}
}

func TestExecuteModelRetriesExhausted(t *testing.T) {
	session := llmapi.NewSession("no json here")
	h := newHarness(t, session, nil)

	err := h.orch.Execute(context.Background(), "t1")
	if !errors.Is(err, domain.ErrModelResponse) {
		t.Fatalf("expected ErrModelResponse, got %v", err)
	}
	if session.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", session.Calls())
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one teardown, got %d", len(h.runtime.stopped))
	}
}

func TestExecuteCloneFailureFails(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	h.runtime.respond = func(_ context.Context, c execCall) (string, error) {
		if strings.Contains(c.script(), "git clone") {
			return "fatal: repository not found", &domain.CommandError{Command: c.cmd, Output: "fatal: repository not found"}
		}
		return "", nil
	}

	err := h.orch.Execute(context.Background(), "t1")
	if !errors.Is(err, domain.ErrCommandExecution) {
		t.Fatalf("expected ErrCommandExecution, got %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one teardown, got %d", len(h.runtime.stopped))
	}
}

func TestExecuteSandboxLostIsFatal(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(lsReply, finishReply), nil)
	h.runtime.respond = func(_ context.Context, c execCall) (string, error) {
		if c.script() == "ls -la" {
			return "", domain.ErrSandboxNotFound
		}
		return "", nil
	}

	if err := h.orch.Execute(context.Background(), "t1"); !errors.Is(err, domain.ErrSandboxNotFound) {
		t.Fatalf("expected ErrSandboxNotFound, got %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
}

func TestExecuteCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := llm.ProviderFunc(func(context.Context, string, string, llm.CallOptions) (string, error) {
		cancel()
		return lsReply, nil
	})
	h := newHarness(t, provider, nil)

	err := h.orch.Execute(ctx, "t1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("teardown must still run once, got %d", len(h.runtime.stopped))
	}
	if !strings.Contains(h.events.text(), "Category: cancelled") {
		t.Fatalf("expected cancelled failure log, got:\n%s", h.events.text())
	}
}

func TestExecuteKeepsTokenOutOfCommandsAndEvents(t *testing.T) {
	const token = "ghp_supersecret"
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	h.store.projects["p1"].GitAccessToken = token
	h.runtime.respond = func(_ context.Context, c execCall) (string, error) {
		if strings.Contains(c.script(), "clone") {
			return "", &domain.CommandError{Command: c.cmd, Output: "auth failed for " + token}
		}
		return "", nil
	}

	_ = h.orch.Execute(context.Background(), "t1")

	if h.runtime.envs[0][tokenEnv] != token {
		t.Fatal("token must be passed through the sandbox environment")
	}
	for _, s := range h.runtime.scripts() {
		if strings.Contains(s, token) {
			t.Fatalf("token leaked into command %q", s)
		}
	}
	if !strings.Contains(h.runtime.scripts()[0], "$"+tokenEnv) {
		t.Fatalf("clone should read the token from the environment: %q", h.runtime.scripts()[0])
	}
	if strings.Contains(h.events.text(), token) {
		t.Fatal("token leaked into emitted events")
	}
}

func TestExecuteConcurrentTasksUseSeparateSandboxes(t *testing.T) {
	mock := llmapi.NewMock(func() *llmapi.Session { return llmapi.NewSession(lsReply, finishReply) })
	h := newHarness(t, mock, nil)
	h.store.tasks["t2"] = &task.Task{ID: "t2", ProjectID: "p1", Title: "Second", Status: task.StatusPending, AssigneeIDs: []string{"a1"}}

	errs := make(chan error, 2)
	for _, id := range []string{"t1", "t2"} {
		go func() { errs <- h.orch.Execute(context.Background(), id) }()
	}
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	if h.runtime.created != 2 || len(h.runtime.stopped) != 2 {
		t.Fatalf("expected 2 sandboxes created and removed, got %d/%d", h.runtime.created, len(h.runtime.stopped))
	}
	if h.runtime.stopped[0] == h.runtime.stopped[1] {
		t.Fatal("executions must not share a sandbox")
	}
}

func TestCloneScriptCredentials(t *testing.T) {
	tests := []struct {
		url, token string
		wantUser   string
	}{
		{"https://github.com/acme/api.git", "tok", "x-access-token"},
		{"https://gitlab.com/acme/api.git", "tok", "oauth2"},
		{"git@github.com:acme/api.git", "tok", ""},
		{"https://github.com/acme/api.git", "", ""},
	}
	for _, tt := range tests {
		script := cloneScript(&project.Project{GitRepositoryURL: tt.url, GitAccessToken: tt.token}, "/workspace")
		if !strings.HasSuffix(script, "clone -- '"+tt.url+"' '/workspace'") {
			t.Errorf("%s: unexpected clone command %q", tt.url, script)
		}
		hasHelper := strings.Contains(script, "credential.helper")
		if hasHelper != (tt.wantUser != "") {
			t.Errorf("%s token=%q: credential helper present = %v", tt.url, tt.token, hasHelper)
		}
		if tt.wantUser != "" && !strings.Contains(script, "username="+tt.wantUser) {
			t.Errorf("%s: script %q lacks user %s", tt.url, script, tt.wantUser)
		}
	}
}

func TestExecuteTeardownFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, llmapi.NewSession(finishReply), nil)
	h.runtime.stopErr = errors.New("engine exploded")

	if err := h.orch.Execute(context.Background(), "t1"); err != nil {
		t.Fatalf("teardown failure leaked into the result: %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusCompleted)
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one teardown attempt, got %d", len(h.runtime.stopped))
	}
	if strings.Contains(h.events.text(), "engine exploded") {
		t.Fatal("teardown error should be logged, not reported as the task outcome")
	}
}

func TestExecuteTeardownFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t, llmapi.NewSession("no json here"), nil)
	h.runtime.stopErr = errors.New("engine exploded")

	err := h.orch.Execute(context.Background(), "t1")
	if !errors.Is(err, domain.ErrModelResponse) {
		t.Fatalf("expected ErrModelResponse, got %v", err)
	}
	if strings.Contains(err.Error(), "engine exploded") {
		t.Fatalf("teardown error masked the run failure: %v", err)
	}
	assertStatuses(t, h.store.history(), task.StatusInProgress, task.StatusFailed)
	if len(h.runtime.stopped) != 1 {
		t.Fatalf("expected one teardown attempt, got %d", len(h.runtime.stopped))
	}
}
