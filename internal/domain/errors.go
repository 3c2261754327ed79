// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrSandboxConnection indicates the sandbox engine is unreachable. Fatal for the run.
var ErrSandboxConnection = errors.New("sandbox engine unreachable")

// ErrImagePull indicates the base image could not be pulled. Fatal for the run.
var ErrImagePull = errors.New("image pull failed")

// ErrSandboxNotFound indicates the referenced sandbox does not exist.
var ErrSandboxNotFound = errors.New("sandbox not found")

// ErrCommandExecution indicates a command ran but failed. Recoverable: the
// orchestrator feeds it back into memory as an error turn.
var ErrCommandExecution = errors.New("command execution failed")

// ErrModelResponse indicates a provider returned malformed or empty output.
var ErrModelResponse = errors.New("malformed model response")

// ErrUnsupportedProvider indicates an agent references an unknown provider.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrToolExecution indicates a tool call failed. Never fatal to the loop.
var ErrToolExecution = errors.New("tool execution failed")

// CommandError describes a failed command inside a sandbox.
// It unwraps to ErrCommandExecution.
type CommandError struct {
	Command []string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", strings.Join(e.Command, " "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap lets errors.Is match both ErrCommandExecution and the underlying cause.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandExecution}
	}
	return []error{ErrCommandExecution, e.Err}
}
