package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Strob0t/taskrunner/internal/domain"
	"github.com/Strob0t/taskrunner/internal/logger"
)

// errIterationCap is returned when the cap policy is "fail" and the loop ran
// out of iterations before the agent finished.
var errIterationCap = errors.New("iteration cap reached before the agent finished")

type failureClass struct {
	category    string
	remediation string
}

var failureTaxonomy = []struct {
	target error
	class  failureClass
}{
	{domain.ErrSandboxConnection, failureClass{"sandbox", "Start the container engine and make sure the runner can reach it, then re-run the task."}},
	{domain.ErrImagePull, failureClass{"image", "Check the project's base image name and registry access, then re-run the task."}},
	{domain.ErrSandboxNotFound, failureClass{"sandbox", "The sandbox disappeared during the run; re-run the task."}},
	{domain.ErrUnsupportedProvider, failureClass{"config", "Set the agent's provider to one of the configured providers."}},
	{domain.ErrModelResponse, failureClass{"model", "The model kept returning unusable output; try another model or provider."}},
	{domain.ErrNotFound, failureClass{"linkage", "Make sure the task has a project and at least one existing assignee."}},
	{domain.ErrCommandExecution, failureClass{"workspace", "Check the repository URL and access token, then re-run the task."}},
	{errIterationCap, failureClass{"iteration-cap", "Split the task into smaller steps or raise orchestrator.max_iterations."}},
	{context.Canceled, failureClass{"cancelled", "The execution was cancelled; request a new execution to retry."}},
	{context.DeadlineExceeded, failureClass{"timeout", "The execution timed out; raise orchestrator.exec_timeout or split the task."}},
}

// FormatFailure renders err as a user-facing message with a category, the
// cause and a next step. Secrets are redacted from the cause.
func FormatFailure(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	class := classifyFailure(err)
	cause := logger.Redact(normalizeCause(err.Error()), secrets...)
	return "Task failed.\nCategory: " + class.category + "\nCause: " + cause + "\nNext step: " + class.remediation
}

func classifyFailure(err error) failureClass {
	for _, entry := range failureTaxonomy {
		if errors.Is(err, entry.target) {
			return entry.class
		}
	}
	return failureClass{"unknown", "Check the runner logs for this execution and retry; escalate with the full error if it persists."}
}

func normalizeCause(cause string) string {
	parts := strings.Split(cause, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if line := strings.TrimSpace(p); line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return strings.TrimSpace(cause)
	}
	return strings.Join(out, " | ")
}
