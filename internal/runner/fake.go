package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// FakeRunner is an in-memory Runner for tests. Scripts succeed by default;
// failures are scripted per command text.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []Command
	failures map[string]*failurePlan
	handles  map[string]*FakeHandle
	// OnExecute, when set, overrides all scripted behavior.
	OnExecute func(cmd Command) Result
	// ExecDelay simulates step latency when a command blocks on ctx.
	blockers map[string]chan struct{}
}

type failurePlan struct {
	remaining int
	exitCode  int
	timedOut  bool
}

// NewFakeRunner returns an empty fake.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		failures: make(map[string]*failurePlan),
		handles:  make(map[string]*FakeHandle),
		blockers: make(map[string]chan struct{}),
	}
}

// FailFirst makes the first n executions of script exit with exitCode.
func (f *FakeRunner) FailFirst(script string, n, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[script] = &failurePlan{remaining: n, exitCode: exitCode}
}

// TimeoutFirst makes the first n executions of script report a timeout.
func (f *FakeRunner) TimeoutFirst(script string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[script] = &failurePlan{remaining: n, exitCode: -1, timedOut: true}
}

// BlockScript makes script block until ReleaseScript is called or ctx ends.
func (f *FakeRunner) BlockScript(script string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockers[script] = make(chan struct{})
}

// ReleaseScript unblocks a previously blocked script.
func (f *FakeRunner) ReleaseScript(script string) {
	f.mu.Lock()
	ch, ok := f.blockers[script]
	delete(f.blockers, script)
	f.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Calls returns a copy of every command seen so far.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times script was executed or started.
func (f *FakeRunner) CallCount(script string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Script == script {
			n++
		}
	}
	return n
}

func (f *FakeRunner) record(cmd Command) (plan *failurePlan, blocker chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if p, ok := f.failures[cmd.Script]; ok && p.remaining > 0 {
		p.remaining--
		plan = p
	}
	blocker = f.blockers[cmd.Script]
	return plan, blocker
}

// Execute runs the scripted behavior for cmd.
func (f *FakeRunner) Execute(ctx context.Context, cmd Command) (Result, error) {
	if f.OnExecute != nil {
		f.mu.Lock()
		f.calls = append(f.calls, cmd)
		f.mu.Unlock()
		return f.OnExecute(cmd), nil
	}
	plan, blocker := f.record(cmd)
	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return Result{ExitCode: -1, TimedOut: true}, nil
		}
	}
	if plan != nil {
		return Result{ExitCode: plan.exitCode, TimedOut: plan.timedOut}, nil
	}
	return Result{ExitCode: 0}, nil
}

// Start registers a fake long-lived process for cmd and returns its handle.
func (f *FakeRunner) Start(ctx context.Context, cmd Command) (Handle, error) {
	plan, _ := f.record(cmd)
	if plan != nil {
		return nil, fmt.Errorf("spawn failed for %q", cmd.Script)
	}
	h := NewFakeHandle()
	f.mu.Lock()
	f.handles[cmd.Script] = h
	f.mu.Unlock()
	return h, nil
}

// Handle returns the fake handle for script, if one was started.
func (f *FakeRunner) Handle(script string) *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[script]
}

// FakeHandle is a controllable Handle.
type FakeHandle struct {
	done     chan Result
	running  atomic.Bool
	exitOnce sync.Once
}

// NewFakeHandle returns a running fake handle.
func NewFakeHandle() *FakeHandle {
	h := &FakeHandle{done: make(chan Result, 1)}
	h.running.Store(true)
	return h
}

// Exit makes the fake process exit with the given code.
func (h *FakeHandle) Exit(code int) {
	h.exitOnce.Do(func() {
		h.running.Store(false)
		h.done <- Result{ExitCode: code}
	})
}

func (h *FakeHandle) Wait() <-chan Result { return h.done }

func (h *FakeHandle) IsRunning() bool { return h.running.Load() }

// Terminate force-stops the fake process with exit code -1.
func (h *FakeHandle) Terminate() error {
	h.Exit(-1)
	return nil
}
