package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandErrorIs(t *testing.T) {
	cause := errors.New("exit status 2")
	err := &CommandError{Command: []string{"sh", "-c", "false"}, Output: "boom\n", Err: cause}

	if !errors.Is(err, ErrCommandExecution) {
		t.Fatal("expected errors.Is(err, ErrCommandExecution)")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is(err, cause)")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"sh -c false"`) {
		t.Fatalf("expected command echoed in message, got %q", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Fatalf("expected output in message, got %q", msg)
	}
}

func TestCommandErrorWithoutCause(t *testing.T) {
	err := &CommandError{Command: []string{"ls"}}
	if !errors.Is(err, ErrCommandExecution) {
		t.Fatal("expected ErrCommandExecution")
	}
	if err.Error() != `command "ls" failed` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
