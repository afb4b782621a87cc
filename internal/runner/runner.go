// Package runner executes component lifecycle step commands.
package runner

import (
	"context"
	"time"
)

// Command describes one lifecycle step invocation.
type Command struct {
	Script     string
	Env        []string
	WorkingDir string
	// RunAs switches the step to another local user (best effort, via sudo).
	RunAs   string
	Timeout time.Duration
}

// Result is the outcome of a completed step process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Success reports a clean zero exit without timeout.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Handle tracks a long-lived managed process started with Start.
type Handle interface {
	// Wait returns a channel that yields the final result exactly once.
	Wait() <-chan Result
	// Terminate force-stops the process. Safe to call more than once.
	Terminate() error
	// IsRunning reports whether the process is still alive.
	IsRunning() bool
}

// Runner runs lifecycle steps. Execute is for short-lived steps that the
// caller waits on; Start is for long-lived run steps that stay up while the
// component is RUNNING. A non-zero exit is reported in the Result, not as an
// error: errors mean the process could not be run at all.
type Runner interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
	Start(ctx context.Context, cmd Command) (Handle, error)
}
