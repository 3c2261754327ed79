// Package service implements task execution on top of the ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	tel "github.com/Strob0t/taskrunner/internal/adapter/otel"
	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/domain/agent"
	"github.com/Strob0t/taskrunner/internal/domain/event"
	"github.com/Strob0t/taskrunner/internal/domain/execution"
	"github.com/Strob0t/taskrunner/internal/domain/memory"
	"github.com/Strob0t/taskrunner/internal/domain/project"
	"github.com/Strob0t/taskrunner/internal/domain/task"
	"github.com/Strob0t/taskrunner/internal/logger"
	"github.com/Strob0t/taskrunner/internal/port/broadcast"
	"github.com/Strob0t/taskrunner/internal/port/database"
	"github.com/Strob0t/taskrunner/internal/port/sandbox"
)

// tokenEnv is the sandbox environment variable carrying the git access token.
const tokenEnv = "GIT_ACCESS_TOKEN"

// Orchestrator runs the iterate-act-observe loop for one task at a time per
// call. Concurrent calls for different tasks share nothing mutable.
type Orchestrator struct {
	store   database.Store
	runtime sandbox.Runtime
	router  *ModelRouter
	tools   *ToolInvoker
	events  broadcast.Emitter
	metrics *tel.Metrics

	cfg         config.Orchestrator
	memOpts     memory.Options
	workDir     string
	outputLimit int
	now         func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	store database.Store,
	rt sandbox.Runtime,
	router *ModelRouter,
	tools *ToolInvoker,
	events broadcast.Emitter,
	cfg *config.Config,
	metrics *tel.Metrics,
) *Orchestrator {
	workDir := cfg.Sandbox.WorkDir
	if workDir == "" {
		workDir = "/workspace"
	}
	return &Orchestrator{
		store:   store,
		runtime: rt,
		router:  router,
		tools:   tools,
		events:  events,
		metrics: metrics,
		cfg:     cfg.Orchestrator,
		memOpts: memory.Options{
			MaxTurns:  cfg.Memory.MaxTurns,
			KeepFirst: cfg.Memory.KeepFirst,
			KeepLast:  cfg.Memory.KeepLast,
		},
		workDir:     workDir,
		outputLimit: cfg.Tools.OutputLimit,
		now:         time.Now,
	}
}

// run is the state of one execution.
type run struct {
	exec    execution.Context
	task    *task.Task
	project *project.Project
	agent   *agent.Agent
	secrets []string
}

// Execute runs one execution of the task to a terminal status. It returns
// nil when the task completed and the failure cause otherwise.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) error {
	execID := uuid.NewString()
	ctx = logger.WithExecution(ctx, taskID, execID)
	defer o.router.Release(execID)

	if o.cfg.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ExecTimeout)
		defer cancel()
	}

	started := o.now()
	o.metrics.Started(ctx)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "task lookup failed", "error", err)
		o.metrics.ExecutionFinished(ctx, string(task.StatusFailed), o.now().Sub(started))
		return fmt.Errorf("get task %s: %w", taskID, err)
	}

	ctx, span := tel.StartExecutionSpan(ctx, execID, t.ID, t.ProjectID)
	r := &run{task: t, exec: execution.Context{ExecutionID: execID, TaskID: t.ID, WorkDir: o.workDir}}

	err = o.execute(ctx, r)
	status := task.StatusCompleted
	if err != nil {
		status = task.StatusFailed
	}
	o.metrics.ExecutionFinished(ctx, string(status), o.now().Sub(started))
	tel.EndSpan(span, err)
	return err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (err error) {
	// Final status writes and events must land even if ctx was cancelled.
	final := context.WithoutCancel(ctx)

	if err := o.resolve(ctx, r); err != nil {
		o.log(final, r, FormatFailure(err))
		o.setStatus(final, r, task.StatusFailed)
		return err
	}

	o.setStatus(ctx, r, task.StatusInProgress)
	o.log(ctx, r, fmt.Sprintf("Agent %s started working on %q.", r.agent.Name, r.task.Title))

	defer func() {
		if err != nil {
			o.log(final, r, FormatFailure(err, r.secrets...))
			o.setStatus(final, r, task.StatusFailed)
			return
		}
		o.log(final, r, "Task completed.")
		o.setStatus(final, r, task.StatusCompleted)
	}()

	release, err := o.acquireSandbox(ctx, r)
	if err != nil {
		return err
	}
	defer release()

	if err := o.prepareWorkspace(ctx, r); err != nil {
		return err
	}

	return o.loop(ctx, r)
}

// resolve loads project and primary assignee. Missing linkage wraps
// domain.ErrNotFound.
func (o *Orchestrator) resolve(ctx context.Context, r *run) error {
	p, err := o.store.GetProject(ctx, r.task.ProjectID)
	if err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}
	r.project = p
	if p.HasToken() {
		r.secrets = append(r.secrets, p.GitAccessToken)
	}

	agentID := r.task.PrimaryAssignee()
	if agentID == "" {
		return fmt.Errorf("task %s has no assignee: %w", r.task.ID, domain.ErrNotFound)
	}
	a, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("resolve assignee: %w", err)
	}
	r.agent = a
	r.exec.AgentID = a.ID
	return nil
}

// acquireSandbox creates the execution's sandbox and returns a release func
// that tears it down exactly once on a fresh bounded context.
func (o *Orchestrator) acquireSandbox(ctx context.Context, r *run) (func(), error) {
	env := map[string]string{}
	if r.project.HasToken() {
		env[tokenEnv] = r.project.GitAccessToken
	}

	o.log(ctx, r, fmt.Sprintf("Starting sandbox from image %s.", r.project.Image()))
	id, err := o.runtime.CreateAndStart(ctx, r.project.Image(), env)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	r.exec.SandboxID = id

	var once sync.Once
	return func() {
		once.Do(func() {
			timeout := o.cfg.TeardownTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			if err := o.runtime.StopAndRemove(tctx, id); err != nil {
				slog.ErrorContext(ctx, "sandbox teardown failed", "sandbox_id", id, "error", err)
				return
			}
			slog.InfoContext(ctx, "sandbox removed", "sandbox_id", id)
		})
	}, nil
}

// prepareWorkspace clones the repository into the working directory and sets
// the commit identity. The token reaches git only through the sandbox env.
func (o *Orchestrator) prepareWorkspace(ctx context.Context, r *run) error {
	o.log(ctx, r, "Cloning repository "+r.project.GitRepositoryURL+".")
	if _, err := o.sandboxExec(ctx, r, cloneScript(r.project, o.workDir), ""); err != nil {
		return fmt.Errorf("clone repository: %w", err)
	}

	o.log(ctx, r, "Configuring commit identity.")
	identity := "git config user.name " + shellQuote(o.commitName()) +
		" && git config user.email " + shellQuote(r.agent.CommitEmail())
	if _, err := o.sandboxExec(ctx, r, identity, o.workDir); err != nil {
		return fmt.Errorf("configure git identity: %w", err)
	}

	o.log(ctx, r, "Workspace ready.")
	return nil
}

func cloneScript(p *project.Project, workDir string) string {
	clone := "git clone -- " + shellQuote(p.GitRepositoryURL) + " " + shellQuote(workDir)
	if !p.HasToken() {
		return clone
	}
	remote, err := project.ParseRemote(p.GitRepositoryURL)
	if err != nil || !remote.AcceptsToken() {
		return clone
	}
	helper := `!f() { echo "username=` + remote.TokenUser() + `"; echo "password=$` + tokenEnv + `"; }; f`
	return "git -c credential.helper=" + shellQuote(helper) + " clone -- " +
		shellQuote(p.GitRepositoryURL) + " " + shellQuote(workDir)
}

func (o *Orchestrator) commitName() string {
	if o.cfg.CommitName != "" {
		return o.cfg.CommitName
	}
	return "Task Runner Agent"
}

// loop drives the model until it finishes, stops issuing commands or the
// iteration cap runs out.
func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	mem := memory.NewStore(r.task.Goal(), o.memOpts)
	mc := r.agent.ModelConfig()
	maxIter := o.cfg.MaxIterations

	for i := 1; i <= maxIter; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("execution stopped: %w", context.Cause(ctx))
		}
		stop, err := o.iterate(ctx, r, mem, mc, i)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}

	msg := fmt.Sprintf("Iteration cap of %d reached before the agent finished.", maxIter)
	if o.cfg.OnIterationCap == config.CapPolicyFail {
		return fmt.Errorf("%w (%d iterations)", errIterationCap, maxIter)
	}
	o.log(ctx, r, msg+" Marking the task completed on a best-effort basis.")
	return nil
}

func (o *Orchestrator) iterate(ctx context.Context, r *run, mem *memory.Store, mc agent.ModelConfig, i int) (stop bool, err error) {
	ctx, span := tel.StartIterationSpan(ctx, i)
	defer func() { tel.EndSpan(span, err) }()
	o.metrics.Iteration(ctx)

	prompt := buildPrompt(o.tools.Catalog().Describe(), mem.Goal(), mem.RenderContext(), i, o.cfg.MaxIterations)
	resp, err := o.router.Generate(ctx, mc, prompt)
	if err != nil {
		return false, fmt.Errorf("iteration %d: %w", i, err)
	}

	if thought := strings.TrimSpace(resp.Thought); thought != "" {
		o.log(ctx, r, logger.Redact(thought, r.secrets...))
	}

	if resp.Finished || !resp.HasCommand() {
		slog.InfoContext(ctx, "agent stopped", "iteration", i, "finished", resp.Finished)
		return true, nil
	}

	if call, ok := o.tools.Detect(resp.Thought); ok {
		res := o.tools.Execute(ctx, call, r.exec)
		args, _ := json.Marshal(call.Arguments)
		turn := memory.Turn{Action: "use_tool " + call.Name + " " + string(args), Outcome: memory.OutcomeSuccess, Output: res.Output}
		if !res.Success {
			turn.Outcome = memory.OutcomeError
			turn.Output = strings.TrimSpace(res.Output + "\n" + res.Error)
			o.log(ctx, r, "Tool "+call.Name+" failed.")
		} else {
			o.log(ctx, r, "Tool "+call.Name+" succeeded.")
		}
		mem.Append(turn)
		return false, nil
	}

	line := resp.CommandLine()
	o.log(ctx, r, "Running: "+logger.Redact(line, r.secrets...))
	out, err := o.sandboxExec(ctx, r, line, o.workDir)
	turn := memory.Turn{Action: line, Outcome: memory.OutcomeSuccess, Output: truncate(out, o.outputLimit)}
	if err != nil {
		if fatalCommandError(ctx, err) {
			return false, fmt.Errorf("iteration %d: %w", i, err)
		}
		turn.Outcome = memory.OutcomeError
		turn.Output = truncate(errorOutput(out, err), o.outputLimit)
	}
	mem.Append(turn)
	return false, nil
}

// sandboxExec runs script with sh -c inside the execution's sandbox.
func (o *Orchestrator) sandboxExec(ctx context.Context, r *run, script, dir string) (string, error) {
	ctx, span := tel.StartCommandSpan(ctx, r.exec.SandboxID)
	out, err := o.runtime.Execute(ctx, r.exec.SandboxID, []string{"sh", "-c", script}, dir)
	var cmdErr *domain.CommandError
	if errors.As(err, &cmdErr) {
		cmdErr.Output = logger.Redact(cmdErr.Output, r.secrets...)
	}
	tel.EndSpan(span, err)
	return logger.Redact(out, r.secrets...), err
}

// fatalCommandError reports whether a command failure must abort the run
// rather than be fed back to the model.
func fatalCommandError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, domain.ErrSandboxNotFound) || errors.Is(err, domain.ErrSandboxConnection)
}

func errorOutput(out string, err error) string {
	var cmdErr *domain.CommandError
	if errors.As(err, &cmdErr) {
		msg := strings.TrimSpace(out)
		if cmdErr.Err != nil {
			msg = strings.TrimSpace(msg + "\n" + cmdErr.Err.Error())
		}
		if msg != "" {
			return msg
		}
	}
	return err.Error()
}

func (o *Orchestrator) setStatus(ctx context.Context, r *run, status task.Status) {
	if err := o.store.SetTaskStatus(ctx, r.task.ID, status); err != nil {
		slog.ErrorContext(ctx, "set task status failed", "status", status, "error", err)
	}
	r.task.Status = status

	payload := event.TaskStatusPayload{TaskID: r.task.ID, Status: string(status), Timestamp: o.now().UTC()}
	if r.agent != nil {
		payload.AgentID, payload.AgentName = r.agent.ID, r.agent.Name
	}
	o.emit(ctx, r, event.TaskStatusUpdate, payload)
}

func (o *Orchestrator) log(ctx context.Context, r *run, message string) {
	slog.InfoContext(ctx, "agent log", "message", message)
	payload := event.AgentLogPayload{TaskID: r.task.ID, Message: message, Timestamp: o.now().UTC()}
	if r.agent != nil {
		payload.AgentID, payload.AgentName = r.agent.ID, r.agent.Name
	}
	o.emit(ctx, r, event.AgentLog, payload)
}

func (o *Orchestrator) emit(ctx context.Context, r *run, name string, payload any) {
	if err := o.events.Emit(ctx, r.task.ProjectID, name, payload); err != nil {
		slog.WarnContext(ctx, "emit event failed", "event", name, "error", err)
	}
}
