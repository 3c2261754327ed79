// Package sandbox defines the port for isolated execution environments.
package sandbox

import "context"

// Runtime creates, runs commands in, and tears down sandboxes.
type Runtime interface {
	// CreateAndStart ensures image is available, then creates and starts a
	// long-lived sandbox with the given environment. It returns the sandbox id.
	CreateAndStart(ctx context.Context, image string, env map[string]string) (string, error)

	// Execute runs cmd in the sandbox, rooted at workDir when non-empty, and
	// returns combined stdout and stderr.
	Execute(ctx context.Context, id string, cmd []string, workDir string) (string, error)

	// StopAndRemove stops and removes the sandbox. Removing a sandbox that is
	// already stopped or gone is not an error.
	StopAndRemove(ctx context.Context, id string) error
}
