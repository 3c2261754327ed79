package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Strob0t/taskrunner/internal/logger"
	"github.com/Strob0t/taskrunner/internal/port/database"
	"github.com/Strob0t/taskrunner/internal/port/messagequeue"
	"github.com/Strob0t/taskrunner/internal/worker"
)

// ErrAlreadyRunning is returned when a task already has a live execution in
// this process.
var ErrAlreadyRunning = errors.New("task is already running")

// Executor runs one task execution to a terminal status.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// Dispatcher turns execution requests into asynchronous executions on a
// bounded worker pool. Callers enqueue and return; progress is observed
// through events and the task status only.
type Dispatcher struct {
	queue messagequeue.Queue
	exec  Executor
	store database.Store
	pool  *worker.Pool

	mu      sync.Mutex
	base    context.Context
	running map[string]context.CancelCauseFunc
	unsubs  []func()
}

// NewDispatcher creates a Dispatcher. queue may be nil when executions are
// only started in-process.
func NewDispatcher(queue messagequeue.Queue, exec Executor, store database.Store, pool *worker.Pool) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		exec:    exec,
		store:   store,
		pool:    pool,
		base:    context.Background(),
		running: make(map[string]context.CancelCauseFunc),
	}
}

// Submit enqueues an execution request for taskID.
func (d *Dispatcher) Submit(ctx context.Context, taskID, requestedBy string) error {
	if d.queue == nil {
		return d.Run(ctx, taskID)
	}
	return d.publish(ctx, messagequeue.SubjectTaskExecute, messagequeue.TaskExecutePayload{TaskID: taskID, RequestedBy: requestedBy})
}

// Cancel asks every runner process to cancel the live execution of taskID.
func (d *Dispatcher) Cancel(ctx context.Context, taskID, reason string) error {
	if d.queue == nil {
		d.cancelLocal(taskID, reason)
		return nil
	}
	return d.publish(ctx, messagequeue.SubjectTaskCancel, messagequeue.TaskCancelPayload{TaskID: taskID, Reason: reason})
}

// Start subscribes to the execution subjects. Executions started afterwards
// are cancelled when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	if d.queue == nil {
		return nil
	}

	subs := []struct {
		subject string
		handler messagequeue.Handler
	}{
		{messagequeue.SubjectTaskExecute, d.handleExecute},
		{messagequeue.SubjectTaskCreated, d.handleCreated},
		{messagequeue.SubjectTaskCancel, d.handleCancel},
	}
	for _, s := range subs {
		unsub, err := d.queue.Subscribe(ctx, s.subject, s.handler)
		if err != nil {
			d.Stop()
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
		d.mu.Lock()
		d.unsubs = append(d.unsubs, unsub)
		d.mu.Unlock()
	}
	slog.Info("dispatcher started", "subjects", len(subs))
	return nil
}

// Stop cancels the subscriptions. Running executions continue until their
// context is cancelled; use Wait to block on them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Wait blocks until all started executions have returned.
func (d *Dispatcher) Wait() {
	d.pool.Wait()
}

// Running returns the ids of tasks executing in this process, sorted.
func (d *Dispatcher) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.running))
	for id := range d.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run starts an execution of taskID on the pool and returns once it has a
// slot. The execution outlives ctx; only cancellation of the dispatcher's
// base context or a cancel request stops it.
func (d *Dispatcher) Run(ctx context.Context, taskID string) error {
	d.mu.Lock()
	if _, ok := d.running[taskID]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", taskID, ErrAlreadyRunning)
	}
	execCtx, cancel := context.WithCancelCause(d.base)
	d.running[taskID] = cancel
	d.mu.Unlock()

	if id := logger.RequestID(ctx); id != "" {
		execCtx = logger.WithRequestID(execCtx, id)
	}

	err := d.pool.Go(ctx, func() {
		defer d.finish(taskID, cancel)
		if err := d.exec.Execute(execCtx, taskID); err != nil {
			slog.WarnContext(execCtx, "execution failed", "task_id", taskID, "error", err)
			return
		}
		slog.InfoContext(execCtx, "execution completed", "task_id", taskID)
	})
	if err != nil {
		d.finish(taskID, cancel)
		return fmt.Errorf("wait for worker slot: %w", err)
	}
	return nil
}

func (d *Dispatcher) finish(taskID string, cancel context.CancelCauseFunc) {
	cancel(nil)
	d.mu.Lock()
	delete(d.running, taskID)
	d.mu.Unlock()
}

func (d *Dispatcher) cancelLocal(taskID, reason string) bool {
	d.mu.Lock()
	cancel, ok := d.running[taskID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancel requested"
	}
	cancel(fmt.Errorf("%w: %s", context.Canceled, reason))
	slog.Info("execution cancelled", "task_id", taskID, "reason", reason)
	return true
}

func (d *Dispatcher) handleExecute(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TaskExecutePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode execute payload: %w", err)
	}
	return d.runIgnoringDuplicate(ctx, p.TaskID)
}

// handleCreated runs newly created tasks that already have an assignee.
func (d *Dispatcher) handleCreated(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TaskCreatedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode created payload: %w", err)
	}
	t, err := d.store.GetTask(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("get created task: %w", err)
	}
	if t.PrimaryAssignee() == "" {
		slog.DebugContext(ctx, "created task has no assignee, not running", "task_id", t.ID)
		return nil
	}
	return d.runIgnoringDuplicate(ctx, t.ID)
}

func (d *Dispatcher) handleCancel(_ context.Context, _ string, data []byte) error {
	var p messagequeue.TaskCancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode cancel payload: %w", err)
	}
	d.cancelLocal(p.TaskID, p.Reason)
	return nil
}

func (d *Dispatcher) runIgnoringDuplicate(ctx context.Context, taskID string) error {
	err := d.Run(ctx, taskID)
	if errors.Is(err, ErrAlreadyRunning) {
		slog.InfoContext(ctx, "ignoring request for running task", "task_id", taskID)
		return nil
	}
	return err
}

func (d *Dispatcher) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := d.queue.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
