package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Norgate-AV/xbuild/internal/codes"
)

// Command is one external process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
}

// String renders c as a shell-like command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if strings.ContainsAny(a, " \t\"") {
			a = fmt.Sprintf("%q", a)
		}

		parts = append(parts, a)
	}

	return strings.Join(parts, " ")
}

// Result is the outcome of a successful invocation.
type Result struct {
	Output string // Combined stdout and stderr.
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// ExecRunner runs commands as OS processes.
type ExecRunner struct {
	execCommand func(ctx context.Context, name string, args ...string) Commander
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
	}
}

// Run executes cmd and waits for it. A missing executable or a non-zero exit
// status is reported as a tool invocation error carrying the tool's output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := r.execCommand(ctx, cmd.Path, cmd.Args...)
	if ec, ok := c.(*exec.Cmd); ok && cmd.Dir != "" {
		ec.Dir = cmd.Dir
	}

	out, err := c.CombinedOutput()
	if err != nil {
		tool := filepath.Base(cmd.Path)

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &codes.BuildError{
				Kind:   codes.ErrToolInvocation,
				Output: string(out),
				Err:    fmt.Errorf("%s exited with code %d", tool, exitErr.ExitCode()),
			}
		}

		return nil, &codes.BuildError{
			Kind:   codes.ErrToolInvocation,
			Output: string(out),
			Err:    fmt.Errorf("failed to run %s: %w", tool, err),
		}
	}

	return &Result{Output: string(out)}, nil
}
