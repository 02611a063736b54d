// Package shell runs commands with merged output, a wall-clock deadline
// and process-group cleanup.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/yudai-dev/yudai/internal/domain"
)

// waitDelay bounds how long Wait keeps reading from pipes inherited by
// orphaned grandchildren after the process group was killed.
const waitDelay = 2 * time.Second

type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
	// StartErr is set when the process could not be started at all.
	StartErr error
}

// Run executes c and waits for it. Output is stdout and stderr interleaved
// in arrival order; invalid UTF-8 is replaced. When c.Timeout elapses the
// whole process group is killed and whatever was printed so far is
// returned with domain.TimeoutReturnCode. Only cancellation of ctx itself
// produces an error.
func Run(ctx context.Context, c Command) (Result, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	res := Result{Output: strings.ToValidUTF8(buf.String(), "�")}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = domain.TimeoutReturnCode
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			return res, nil
		}
		res.StartErr = err
		res.ExitCode = -1
		if res.Output == "" {
			res.Output = err.Error()
		}
	}
	return res, nil
}

// Observe converts a result into an observation of command.
func (r Result) Observe(command string) domain.Observation {
	obs := domain.Observation{
		Output:     r.Output,
		ReturnCode: r.ExitCode,
		Command:    command,
		TimedOut:   r.TimedOut,
	}
	if r.StartErr != nil {
		obs.Exception = r.StartErr.Error()
	}
	return obs
}
