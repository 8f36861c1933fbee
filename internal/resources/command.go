package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes external commands. Tool invokers hold a Runner so tests can
// substitute a fake and assert on the exact argument lists.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// CommandError carries the exit status of a failed external command.
type CommandError struct {
	Cmd    string
	Status int
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit status %d: %s", e.Cmd, e.Status, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitStatus extracts the exit status from an error chain, returning -1 when
// the error does not wrap a CommandError.
func ExitStatus(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Status
	}

	return -1
}

// ExecRunner runs commands on the host with a per-invocation timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner returns a Runner with the given default timeout.
// A zero timeout means no deadline beyond the caller's context.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	LogLevel("info", "Running: %s %v (in %s)", name, args, dir)

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), fmt.Errorf("command timed out after %v: %s %v", r.Timeout, name, args)
	}

	if err != nil {
		status := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}

		return stdout.String(), &CommandError{
			Cmd:    name + " " + strings.Join(args, " "),
			Status: status,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	return stdout.String(), nil
}

// RunCommandHost executes one or more shell commands on the host.
func RunCommandHost(cmds ...string) (string, error) {
	if cmds == nil {
		return "", ReturnLogError("should send at least one command")
	}

	var output, errOut bytes.Buffer
	for _, cmd := range cmds {
		if cmd == "" {
			return "", ReturnLogError("cmd should not be empty")
		}

		c := exec.Command("bash", "-c", cmd)
		c.Stdout = &output
		c.Stderr = &errOut

		err := c.Run()
		if err != nil {
			LogLevel("error", "Command '%s' failed with error: %v\n %v", cmd, err, errOut.String())
			return errOut.String(), err
		}
	}

	return output.String(), nil
}
