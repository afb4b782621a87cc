// Package orchestrator owns the live registry of component instances and
// sequences their transitions according to the dependency graph.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/events"
	"git.home.luguber.info/inful/edged/internal/graph"
	"git.home.luguber.info/inful/edged/internal/lifecycle"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/retry"
	"git.home.luguber.info/inful/edged/internal/runner"
)

// Options configures an Orchestrator.
type Options struct {
	Runner          runner.Runner
	Bus             *events.Bus
	Policy          retry.Policy
	StepWorkers     int
	StepDefaults    lifecycle.StepDefaults
	WorkDir         string
	ShutdownTimeout time.Duration
	// EnvFn supplies the per-component step environment (configuration
	// snapshot); may be nil.
	EnvFn func(component string) []string
	// StepObserver receives the duration of every completed lifecycle step;
	// may be nil.
	StepObserver func(step string, d time.Duration)
}

// Orchestrator is the single writer of the instance registry. Structural
// mutations happen only through Admit/Remove/SetGraph; reads are snapshots.
type Orchestrator struct {
	opts Options
	pool lifecycle.StepPool

	mu   sync.RWMutex
	sups map[string]*lifecycle.Supervisor
	g    *graph.Graph
	// depStopped marks components stopped because a HARD dependency left
	// RUNNING; they restart when it returns.
	depStopped map[string]bool

	runCtx context.Context
}

// New creates an empty orchestrator.
func New(opts Options) *Orchestrator {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	return &Orchestrator{
		opts:       opts,
		pool:       lifecycle.NewStepPool(opts.StepWorkers),
		sups:       make(map[string]*lifecycle.Supervisor),
		depStopped: make(map[string]bool),
		runCtx:     context.Background(),
	}
}

// Admit adds a component instance to the registry in NEW. Admitting a name
// that is already present is an error; reconciliation removes the old
// instance first.
func (o *Orchestrator) Admit(def model.ComponentDefinition) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sups[def.Name]; exists {
		return fmt.Errorf("component %s already admitted", def.Name)
	}
	inst := lifecycle.NewInstance(def, o.opts.Bus)
	sup := lifecycle.NewSupervisor(inst, o.opts.Runner, o.opts.Policy, o.pool, o.opts.StepDefaults, o.opts.WorkDir)
	sup.EnvFn = o.opts.EnvFn
	sup.StepObserver = o.opts.StepObserver
	name := def.Name
	sup.OnRestartNeeded = func(string) { go o.restartAfterCrash(name) }
	o.sups[name] = sup
	return nil
}

// Remove deletes an instance from the registry. The caller stops it first.
func (o *Orchestrator) Remove(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sups, name)
	delete(o.depStopped, name)
}

// SetGraph installs the dependency graph for the current component set and
// refreshes every instance's dependent back-references.
func (o *Orchestrator) SetGraph(g *graph.Graph) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.g = g
	for name, sup := range o.sups {
		sup.Instance().SetDependents(g.HardDependents(name))
	}
}

func (o *Orchestrator) supervisor(name string) (*lifecycle.Supervisor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sup, ok := o.sups[name]
	return sup, ok
}

func (o *Orchestrator) currentGraph() *graph.Graph {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.g
}

// GetState returns the state of a registered component.
func (o *Orchestrator) GetState(name string) (model.State, error) {
	sup, ok := o.supervisor(name)
	if !ok {
		return "", &errors.UnknownComponentError{Name: name}
	}
	return sup.Instance().State(), nil
}

// States returns a snapshot of every registered component's state.
func (o *Orchestrator) States() map[string]model.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]model.State, len(o.sups))
	for name, sup := range o.sups {
		out[name] = sup.Instance().State()
	}
	return out
}

// Definitions returns a snapshot of every registered component's definition.
func (o *Orchestrator) Definitions() map[string]model.ComponentDefinition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]model.ComponentDefinition, len(o.sups))
	for name, sup := range o.sups {
		out[name] = sup.Instance().Definition()
	}
	return out
}

// Instance exposes a registered instance for read-only inspection.
func (o *Orchestrator) Instance(name string) (*lifecycle.Instance, error) {
	sup, ok := o.supervisor(name)
	if !ok {
		return nil, &errors.UnknownComponentError{Name: name}
	}
	return sup.Instance(), nil
}

// ReportState is the self-report hook for long-running managed processes.
// Only a RUNNING report is meaningful: it confirms readiness of a component
// whose run step requires it.
func (o *Orchestrator) ReportState(name string, state model.State) error {
	if state != model.StateRunning {
		return fmt.Errorf("unsupported self-reported state %s", state)
	}
	sup, ok := o.supervisor(name)
	if !ok {
		return &errors.UnknownComponentError{Name: name}
	}
	sup.MarkReady()
	return nil
}
