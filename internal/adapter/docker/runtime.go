// Package docker implements the sandbox runtime on top of the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/taskrunner/internal/config"
	"github.com/Strob0t/taskrunner/internal/domain"
)

const namePrefix = "taskrunner-sandbox-"

// Runtime creates one long-lived container per task execution.
type Runtime struct {
	cmd  Commander
	cfg  config.Sandbox
	pull singleflight.Group

	mu     sync.Mutex
	images map[string]struct{} // images known to be present locally
	active map[string]struct{} // containers created and not yet removed
}

// New checks that the engine is reachable and returns a Runtime.
func New(ctx context.Context, cfg config.Sandbox) (*Runtime, error) {
	return NewWithCommander(ctx, cfg, execCommander{binary: cfg.Binary})
}

// NewWithCommander is New with an injected CLI runner.
func NewWithCommander(ctx context.Context, cfg config.Sandbox, cmd Commander) (*Runtime, error) {
	r := &Runtime{
		cmd:    cmd,
		cfg:    cfg,
		images: make(map[string]struct{}),
		active: make(map[string]struct{}),
	}
	if _, stderr, err := cmd.Run(ctx, nil, "version", "--format", "{{.Server.Version}}"); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSandboxConnection, engineMessage(stderr, err))
	}
	return r, nil
}

// CreateAndStart implements sandbox.Runtime.
func (r *Runtime) CreateAndStart(ctx context.Context, image string, env map[string]string) (string, error) {
	if err := r.ensureImage(ctx, image); err != nil {
		return "", err
	}

	name := namePrefix + uuid.NewString()
	args := []string{"create", "-i", "-t", "--name", name, "--entrypoint", "/bin/sh"}
	if r.cfg.Network != "" {
		args = append(args, "--network", r.cfg.Network)
	}
	if r.cfg.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--memory=%dm", r.cfg.MemoryMB))
	}

	// Values travel through the CLI environment so they never show up in
	// process listings or error messages that echo the command line.
	var cliEnv []string
	for _, k := range slices.Sorted(maps.Keys(env)) {
		args = append(args, "-e", k)
		cliEnv = append(cliEnv, k+"="+env[k])
	}
	args = append(args, image)

	stdout, stderr, err := r.cmd.Run(ctx, cliEnv, args...)
	if err != nil {
		return "", r.engineError(args, stdout, stderr, err)
	}
	id := strings.TrimSpace(string(stdout))

	r.mu.Lock()
	r.active[id] = struct{}{}
	r.mu.Unlock()

	startArgs := []string{"start", id}
	if stdout, stderr, err := r.cmd.Run(ctx, nil, startArgs...); err != nil {
		startErr := r.engineError(startArgs, stdout, stderr, err)
		if rmErr := r.StopAndRemove(context.WithoutCancel(ctx), id); rmErr != nil {
			slog.Warn("remove unstarted sandbox", "sandbox_id", shortID(id), "error", rmErr)
		}
		return "", startErr
	}

	slog.Info("sandbox started", "sandbox_id", shortID(id), "image", image)
	return id, nil
}

// Execute implements sandbox.Runtime. A command that exits non-zero yields a
// *domain.CommandError carrying the combined output.
func (r *Runtime) Execute(ctx context.Context, id string, cmd []string, workDir string) (string, error) {
	if r.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CommandTimeout)
		defer cancel()
	}

	args := []string{"exec"}
	if workDir != "" {
		args = append(args, "-w", workDir)
	}
	args = append(args, id)
	args = append(args, cmd...)

	stdout, stderr, err := r.cmd.Run(ctx, nil, args...)
	output := string(stdout) + string(stderr)
	if err == nil {
		return output, nil
	}

	switch {
	case isNoSuchContainer(stderr):
		return "", fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, shortID(id))
	case isDaemonDown(stderr):
		return "", fmt.Errorf("%w: %s", domain.ErrSandboxConnection, engineMessage(stderr, err))
	case ctx.Err() != nil:
		return output, &domain.CommandError{Command: cmd, Output: output, Err: ctx.Err()}
	}
	return output, &domain.CommandError{Command: cmd, Output: output, Err: err}
}

// StopAndRemove implements sandbox.Runtime. Missing or already stopped
// containers are not an error.
func (r *Runtime) StopAndRemove(ctx context.Context, id string) error {
	stopArgs := []string{"stop", "-t", "5", id}
	if stdout, stderr, err := r.cmd.Run(ctx, nil, stopArgs...); err != nil && !isGone(stderr) && !isNotRunning(stderr) {
		return r.engineError(stopArgs, stdout, stderr, err)
	}

	rmArgs := []string{"rm", "-f", id}
	if stdout, stderr, err := r.cmd.Run(ctx, nil, rmArgs...); err != nil && !isGone(stderr) {
		return r.engineError(rmArgs, stdout, stderr, err)
	}

	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()

	slog.Info("sandbox removed", "sandbox_id", shortID(id))
	return nil
}

// Active returns the ids of containers created by this runtime and not yet removed.
func (r *Runtime) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.active))
}

// Close removes every container still tracked. Used on shutdown.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for _, id := range r.Active() {
		if err := r.StopAndRemove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureImage pulls image unless it is already present. Concurrent callers
// for the same image share one pull, which runs detached from any single
// caller so one cancelled execution cannot fail the others. A caller whose
// ctx ends stops waiting while the pull carries on.
func (r *Runtime) ensureImage(ctx context.Context, image string) error {
	r.mu.Lock()
	_, ok := r.images[image]
	r.mu.Unlock()
	if ok {
		return nil
	}

	ch := r.pull.DoChan(image, func() (any, error) {
		base := context.WithoutCancel(ctx)
		if r.cfg.PullTimeout > 0 {
			var cancel context.CancelFunc
			base, cancel = context.WithTimeout(base, r.cfg.PullTimeout)
			defer cancel()
		}

		if _, _, err := r.cmd.Run(base, nil, "image", "inspect", "--format", "{{.Id}}", image); err != nil {
			slog.InfoContext(base, "pulling sandbox image", "image", image)
			if _, stderr, err := r.cmd.Run(base, nil, "pull", image); err != nil {
				if isDaemonDown(stderr) {
					return nil, fmt.Errorf("%w: %s", domain.ErrSandboxConnection, engineMessage(stderr, err))
				}
				return nil, fmt.Errorf("%w: %s: %s", domain.ErrImagePull, image, engineMessage(stderr, err))
			}
		}

		r.mu.Lock()
		r.images[image] = struct{}{}
		r.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) engineError(args []string, stdout, stderr []byte, err error) error {
	if isDaemonDown(stderr) {
		return fmt.Errorf("%w: %s", domain.ErrSandboxConnection, engineMessage(stderr, err))
	}
	if isNoSuchContainer(stderr) {
		return fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, engineMessage(stderr, err))
	}
	return &domain.CommandError{
		Command: append([]string{r.cfg.Binary}, args...),
		Output:  string(stdout) + string(stderr),
		Err:     err,
	}
}

func engineMessage(stderr []byte, err error) string {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	return err.Error()
}

func isNoSuchContainer(stderr []byte) bool {
	return strings.Contains(string(stderr), "No such container")
}

func isGone(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "No such container") || strings.Contains(s, "is already in progress")
}

func isNotRunning(stderr []byte) bool {
	return strings.Contains(string(stderr), "is not running")
}

func isDaemonDown(stderr []byte) bool {
	return strings.Contains(string(stderr), "Cannot connect to the Docker daemon")
}

// shortID returns the first 12 characters of an ID (or the full string if shorter).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
