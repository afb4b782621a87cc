// Package lifecycle implements the per-component-instance state machine and
// the supervisor that drives its lifecycle steps.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/events"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
)

// transitions is the allowed state transition table. Any transition outside
// this table is rejected; the retry counter and all state writes happen only
// inside transition(), keeping the machine auditable.
var transitions = map[model.State][]model.State{
	model.StateNew:       {model.StateInstalled, model.StateErrored},
	model.StateInstalled: {model.StateStarting, model.StateStopping},
	model.StateStarting:  {model.StateRunning, model.StateFinished, model.StateErrored, model.StateStopping},
	model.StateRunning:   {model.StateStopping, model.StateFinished, model.StateErrored},
	model.StateStopping:  {model.StateFinished, model.StateNew, model.StateInstalled},
	model.StateFinished:  {model.StateStarting, model.StateStopping},
	model.StateErrored:   {model.StateStopping, model.StateBroken},
	model.StateBroken:    {},
}

// Instance is one live component instance owned by the orchestrator's
// registry. Its state only changes through transition(); at most one
// lifecycle step is in flight at a time.
type Instance struct {
	def model.ComponentDefinition
	bus *events.Bus

	mu          sync.Mutex
	state       model.State
	retries     int
	lastFailure time.Time
	inflight    bool
	// dependents holds names of components that HARD-depend on this one.
	// Used only for notification fan-out, never for ownership.
	dependents map[string]struct{}
}

// NewInstance creates an instance in NEW.
func NewInstance(def model.ComponentDefinition, bus *events.Bus) *Instance {
	return &Instance{
		def:        def,
		bus:        bus,
		state:      model.StateNew,
		dependents: make(map[string]struct{}),
	}
}

// Definition returns the immutable component definition.
func (i *Instance) Definition() model.ComponentDefinition { return i.def }

// Name returns the component name.
func (i *Instance) Name() string { return i.def.Name }

// State returns the current state.
func (i *Instance) State() model.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Retries returns the current retry counter.
func (i *Instance) Retries() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.retries
}

// LastFailure returns when the last step failure was recorded.
func (i *Instance) LastFailure() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastFailure
}

// SetDependents replaces the dependent set, rebuilt on every reconciliation.
func (i *Instance) SetDependents(names []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dependents = make(map[string]struct{}, len(names))
	for _, n := range names {
		i.dependents[n] = struct{}{}
	}
}

// Dependents returns the sorted names of HARD dependents.
func (i *Instance) Dependents() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.dependents))
	for n := range i.dependents {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// transition moves the instance to next if the table allows it, publishing
// the change. It is the single writer of state and the retry counter.
func (i *Instance) transition(next model.State, reason string) error {
	i.mu.Lock()
	from := i.state
	allowed := false
	for _, s := range transitions[from] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		i.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s for %s", from, next, i.def.Name)
	}

	i.state = next
	switch next {
	case model.StateErrored:
		i.retries++
		i.lastFailure = time.Now()
	case model.StateRunning, model.StateFinished:
		if from != model.StateStopping {
			i.retries = 0
		}
	}
	i.mu.Unlock()

	slog.Debug("component state changed",
		logfields.Component(i.def.Name),
		logfields.OldState(string(from)),
		logfields.NewState(string(next)),
		slog.String("reason", reason))

	i.bus.Publish(events.StateChange{
		Component:  i.def.Name,
		Version:    i.def.Version,
		From:       from,
		To:         next,
		Reason:     reason,
		OccurredAt: time.Now(),
	})
	return nil
}

// tryAcquireStep claims the single in-flight step slot.
func (i *Instance) tryAcquireStep() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inflight {
		return false
	}
	i.inflight = true
	return true
}

func (i *Instance) releaseStep() {
	i.mu.Lock()
	i.inflight = false
	i.mu.Unlock()
}
