package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/retry"
	"git.home.luguber.info/inful/edged/internal/runner"
)

// StepPool bounds how many lifecycle steps execute concurrently across all
// instances. A nil pool is unbounded.
type StepPool chan struct{}

// NewStepPool creates a pool admitting n concurrent steps.
func NewStepPool(n int) StepPool {
	if n <= 0 {
		return nil
	}
	return make(StepPool, n)
}

func (p StepPool) acquire(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case p <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p StepPool) release() {
	if p == nil {
		return
	}
	<-p
}

// StepDefaults are the timeouts granted to steps whose recipe omits one.
type StepDefaults struct {
	Install  time.Duration
	Startup  time.Duration
	Shutdown time.Duration
}

// GateFunc blocks until the instance's HARD dependencies allow it to enter
// STARTING, or fails when they never will. Provided by the orchestrator.
type GateFunc func(ctx context.Context) error

// Supervisor drives one instance's lifecycle steps through the process
// runner. All step execution for the instance is serialized through its
// single in-flight step slot.
type Supervisor struct {
	inst     *Instance
	runner   runner.Runner
	policy   retry.Policy
	pool     StepPool
	defaults StepDefaults
	workDir  string
	// EnvFn supplies the step environment, snapshotted per step so a
	// configuration change mid-step is never torn.
	EnvFn func(component string) []string
	// OnRestartNeeded is invoked after a crashed instance has backed off and
	// returned to INSTALLED; the orchestrator re-gates and restarts it.
	OnRestartNeeded func(component string)
	// StepObserver receives the duration of every completed step.
	StepObserver func(step string, d time.Duration)

	mu       sync.Mutex
	handle   runner.Handle
	ready    chan struct{}
	stopping bool
	gen      int
}

// NewSupervisor wires a supervisor for inst.
func NewSupervisor(inst *Instance, r runner.Runner, policy retry.Policy, pool StepPool, defaults StepDefaults, workDir string) *Supervisor {
	return &Supervisor{
		inst:     inst,
		runner:   r,
		policy:   policy,
		pool:     pool,
		defaults: defaults,
		workDir:  workDir,
	}
}

// Instance returns the supervised instance.
func (s *Supervisor) Instance() *Instance { return s.inst }

func (s *Supervisor) env() []string {
	base := []string{
		"EDGED_COMPONENT_NAME=" + s.inst.def.Name,
		"EDGED_COMPONENT_VERSION=" + s.inst.def.Version,
	}
	if s.EnvFn != nil {
		base = append(base, s.EnvFn(s.inst.def.Name)...)
	}
	return base
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// executeStep runs one short-lived step under the shared pool and the
// instance's step slot.
func (s *Supervisor) executeStep(ctx context.Context, name string, step *model.Step, timeout time.Duration) (runner.Result, error) {
	if err := s.pool.acquire(ctx); err != nil {
		return runner.Result{}, err
	}
	defer s.pool.release()

	if !s.inst.tryAcquireStep() {
		return runner.Result{}, fmt.Errorf("step already in flight for %s", s.inst.def.Name)
	}
	defer s.inst.releaseStep()

	started := time.Now()
	res, err := s.runner.Execute(ctx, runner.Command{
		Script:     step.Script,
		Env:        s.env(),
		WorkingDir: s.workDir,
		RunAs:      s.inst.def.RunAs,
		Timeout:    step.Timeout(timeout),
	})
	slog.Debug("lifecycle step finished",
		logfields.Component(s.inst.def.Name),
		logfields.Step(name),
		logfields.ExitCode(res.ExitCode),
		logfields.DurationMS(float64(time.Since(started).Milliseconds())))
	if s.StepObserver != nil {
		s.StepObserver(name, time.Since(started))
	}
	return res, err
}

// EnsureInstalled runs the install step until the instance is INSTALLED,
// retrying with backoff. It returns a terminal error once the instance is
// BROKEN.
func (s *Supervisor) EnsureInstalled(ctx context.Context) error {
	for {
		if s.inst.State() != model.StateNew {
			return nil
		}
		if s.isStopping() {
			return context.Canceled
		}

		step := s.inst.def.Lifecycle.Install
		if step == nil {
			return s.inst.transition(model.StateInstalled, "no install step")
		}

		res, err := s.executeStep(ctx, "install", step, s.defaults.Install)
		if err == nil && res.Success() {
			return s.inst.transition(model.StateInstalled, "install succeeded")
		}

		if retryErr := s.recordFailure(ctx, "install", res, err, model.StateNew); retryErr != nil {
			return retryErr
		}
	}
}

// Start drives the instance from INSTALLED (or FINISHED, on restart) to its
// target state, waiting on gate before each attempt.
func (s *Supervisor) Start(ctx context.Context, gate GateFunc) error {
	for {
		if s.isStopping() {
			return context.Canceled
		}
		switch st := s.inst.State(); st {
		case model.StateInstalled, model.StateFinished:
		case model.StateRunning:
			return nil
		case model.StateBroken:
			return errors.StepFailure(nil, "startup", -1)
		default:
			return fmt.Errorf("cannot start %s from %s", s.inst.def.Name, st)
		}

		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}

		if err := s.inst.transition(model.StateStarting, "dependencies satisfied"); err != nil {
			return err
		}

		ok, res, err := s.startOnce(ctx)
		if ok {
			return nil
		}
		if retryErr := s.recordFailure(ctx, "startup", res, err, model.StateInstalled); retryErr != nil {
			return retryErr
		}
	}
}

// startOnce executes one startup attempt from STARTING.
func (s *Supervisor) startOnce(ctx context.Context) (bool, runner.Result, error) {
	lc := s.inst.def.Lifecycle
	switch {
	case lc.Startup != nil:
		res, err := s.executeStep(ctx, "startup", lc.Startup, s.defaults.Startup)
		if err != nil || !res.Success() {
			return false, res, err
		}
		// The startup script left a background service behind.
		return true, res, s.inst.transition(model.StateRunning, "startup succeeded")

	case lc.Run != nil:
		return s.startRun(ctx, lc.Run)

	default:
		// Install-only component: nothing to run, it is done.
		return true, runner.Result{}, s.inst.transition(model.StateFinished, "install-only component")
	}
}

// startRun spawns the long-lived run process and waits for readiness.
func (s *Supervisor) startRun(ctx context.Context, step *model.Step) (bool, runner.Result, error) {
	if !s.inst.tryAcquireStep() {
		return false, runner.Result{}, fmt.Errorf("step already in flight for %s", s.inst.def.Name)
	}

	h, err := s.runner.Start(ctx, runner.Command{
		Script:     step.Script,
		Env:        s.env(),
		WorkingDir: s.workDir,
		RunAs:      s.inst.def.RunAs,
	})
	if err != nil {
		s.inst.releaseStep()
		return false, runner.Result{}, err
	}

	s.mu.Lock()
	s.handle = h
	s.gen++
	gen := s.gen
	ready := make(chan struct{})
	s.ready = ready
	s.mu.Unlock()
	s.inst.releaseStep()

	// The monitor takes ownership of h.Wait() only once the component is
	// RUNNING; until then this goroutine owns the exit result.
	if step.RequiresReport {
		timeout := step.Timeout(s.defaults.Startup)
		select {
		case <-ready:
		case res := <-h.Wait():
			return false, res, nil
		case <-time.After(timeout):
			_ = h.Terminate()
			return false, runner.Result{TimedOut: true, ExitCode: -1}, nil
		case <-ctx.Done():
			_ = h.Terminate()
			return false, runner.Result{}, ctx.Err()
		}
	}

	if err := s.inst.transition(model.StateRunning, "process started"); err != nil {
		return false, runner.Result{}, err
	}
	go s.monitor(h, gen)
	return true, runner.Result{}, nil
}

// monitor observes the managed process and converts unexpected exits into
// ERRORED transitions and scheduled restarts.
func (s *Supervisor) monitor(h runner.Handle, gen int) {
	res := <-h.Wait()

	s.mu.Lock()
	stale := gen != s.gen || s.stopping
	s.mu.Unlock()
	if stale {
		return
	}

	st := s.inst.State()
	if st != model.StateRunning && st != model.StateStarting {
		return
	}

	if res.ExitCode == 0 {
		_ = s.inst.transition(model.StateFinished, "process exited cleanly")
		return
	}

	slog.Warn("managed process exited unexpectedly",
		logfields.Component(s.inst.def.Name),
		logfields.ExitCode(res.ExitCode))
	s.crash()
}

// crash applies the retry policy to an unexpected process exit.
func (s *Supervisor) crash() {
	if err := s.inst.transition(model.StateErrored, "process crashed"); err != nil {
		return
	}
	retries := s.inst.Retries()
	if s.policy.Exhausted(retries) {
		_ = s.inst.transition(model.StateBroken, "retry budget exhausted")
		return
	}

	delay := s.policy.Delay(retries)
	go func() {
		time.Sleep(delay)
		// The instance may have been stopped or removed during backoff.
		if s.isStopping() || s.inst.State() != model.StateErrored {
			return
		}
		if err := s.inst.transition(model.StateStopping, "recovering"); err != nil {
			return
		}
		s.runRecoverStep(context.Background())
		s.runShutdownStep(context.Background())
		if err := s.inst.transition(model.StateInstalled, "ready to restart"); err != nil {
			return
		}
		if s.OnRestartNeeded != nil {
			s.OnRestartNeeded(s.inst.def.Name)
		}
	}()
}

// recordFailure applies the retry policy to a failed short-lived step.
// resume names the state the instance returns to for the next attempt.
// A nil return means the caller should retry; otherwise the instance is
// BROKEN (or the context ended) and the error is terminal.
func (s *Supervisor) recordFailure(ctx context.Context, step string, res runner.Result, execErr error, resume model.State) error {
	if err := s.inst.transition(model.StateErrored, step+" failed"); err != nil {
		return err
	}

	retries := s.inst.Retries()
	slog.Warn("lifecycle step failed",
		logfields.Component(s.inst.def.Name),
		logfields.Step(step),
		logfields.ExitCode(res.ExitCode),
		logfields.Retry(retries),
		logfields.Error(execErr))

	if s.policy.Exhausted(retries) {
		_ = s.inst.transition(model.StateBroken, "retry budget exhausted")
		return errors.StepFailure(execErr, step, res.ExitCode)
	}

	if err := s.inst.transition(model.StateStopping, "retrying "+step); err != nil {
		return err
	}
	s.runRecoverStep(ctx)

	select {
	case <-time.After(s.policy.Delay(retries)):
	case <-ctx.Done():
		// Leave the instance parked; a later deployment recreates it.
		_ = s.inst.transition(resume, "retry aborted")
		return ctx.Err()
	}
	if s.isStopping() {
		_ = s.inst.transition(resume, "stop requested")
		return context.Canceled
	}
	return s.inst.transition(resume, "retrying after backoff")
}

// MarkReady records a self-reported readiness from the managed process.
func (s *Supervisor) MarkReady() {
	s.mu.Lock()
	ready := s.ready
	s.ready = nil
	s.mu.Unlock()
	if ready != nil {
		close(ready)
	}
}

// Stop drives the instance to FINISHED: shutdown step under its timeout,
// then force-termination of any remaining process. The transition completes
// even when the shutdown step fails or times out.
func (s *Supervisor) Stop(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.stopping = true
	s.gen++ // invalidate any monitor
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	switch s.inst.State() {
	case model.StateNew, model.StateBroken, model.StateFinished, model.StateStopping:
		if handle != nil {
			_ = handle.Terminate()
		}
		return nil
	case model.StateErrored:
		// fall through: a parked errored instance still needs cleanup
	}

	if err := s.inst.transition(model.StateStopping, reason); err != nil {
		return err
	}

	s.runShutdownStep(ctx)

	if handle != nil && handle.IsRunning() {
		_ = handle.Terminate()
	}
	// Clear the flag before the FINISHED event is published so an observer
	// reacting to it can restart the instance immediately.
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	return s.inst.transition(model.StateFinished, reason)
}

// runRecoverStep executes the component's recover hook, if declared, between
// a failure and the next attempt. Best effort: its outcome never changes the
// retry decision.
func (s *Supervisor) runRecoverStep(ctx context.Context) {
	step := s.inst.def.Lifecycle.Recover
	if step == nil {
		return
	}
	res, err := s.executeStep(ctx, "recover", step, s.defaults.Shutdown)
	if err != nil || !res.Success() {
		slog.Warn("recover step did not complete cleanly",
			logfields.Component(s.inst.def.Name),
			logfields.ExitCode(res.ExitCode),
			logfields.Error(err))
	}
}

// runShutdownStep executes the shutdown step best effort, force-terminating
// on timeout so a slow component cannot stall the device shutdown.
func (s *Supervisor) runShutdownStep(ctx context.Context) {
	step := s.inst.def.Lifecycle.Shutdown
	if step == nil {
		return
	}
	res, err := s.executeStep(ctx, "shutdown", step, s.defaults.Shutdown)
	if err != nil || !res.Success() {
		slog.Warn("shutdown step did not complete cleanly",
			logfields.Component(s.inst.def.Name),
			logfields.ExitCode(res.ExitCode),
			logfields.Error(err))
	}
}
