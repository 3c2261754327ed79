package docker

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Commander runs the container engine CLI.
// env entries are added to the CLI process environment, not to its arguments.
type Commander interface {
	Run(ctx context.Context, env []string, args ...string) (stdout, stderr []byte, err error)
}

// execCommander shells out to the engine binary.
type execCommander struct {
	binary string
}

func (c execCommander) Run(ctx context.Context, env []string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...) //nolint:gosec // G204: args are constructed internally
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
