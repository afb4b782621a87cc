package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ExecRunner runs step commands through the local shell.
type ExecRunner struct {
	// Shell defaults to /bin/sh.
	Shell string
}

// NewExecRunner returns a runner using /bin/sh.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Shell: "/bin/sh"}
}

func (r *ExecRunner) build(ctx context.Context, cmd Command) *exec.Cmd {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	var c *exec.Cmd
	if cmd.RunAs != "" {
		c = exec.CommandContext(ctx, "sudo", "-n", "-u", cmd.RunAs, shell, "-c", cmd.Script)
	} else {
		c = exec.CommandContext(ctx, shell, "-c", cmd.Script)
	}
	c.Dir = cmd.WorkingDir
	c.Env = append(os.Environ(), cmd.Env...)
	// Give the process a moment to exit on its own after ctx cancellation
	// before it is killed.
	c.WaitDelay = 2 * time.Second
	return c
}

// Execute runs a short-lived step to completion, bounded by cmd.Timeout.
func (r *ExecRunner) Execute(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := r.build(ctx, cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case c.ProcessState != nil:
		res.ExitCode = c.ProcessState.ExitCode()
	default:
		return res, err // could not spawn
	}
	if res.TimedOut && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	return res, nil
}

// Start launches a long-lived run step and returns a handle for it.
func (r *ExecRunner) Start(ctx context.Context, cmd Command) (Handle, error) {
	// The process outlives ctx: its lifetime is managed through the handle.
	c := r.build(context.Background(), cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, err
	}

	h := &execHandle{cmd: c, done: make(chan Result, 1)}
	h.running.Store(true)
	go func() {
		err := c.Wait()
		h.running.Store(false)
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			res.ExitCode = 0
		} else if c.ProcessState != nil {
			res.ExitCode = c.ProcessState.ExitCode()
		} else {
			res.ExitCode = -1
		}
		h.done <- res
	}()
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	done    chan Result
	running atomic.Bool
	killMu  sync.Mutex
}

func (h *execHandle) Wait() <-chan Result { return h.done }

func (h *execHandle) IsRunning() bool { return h.running.Load() }

func (h *execHandle) Terminate() error {
	h.killMu.Lock()
	defer h.killMu.Unlock()
	if !h.running.Load() || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
