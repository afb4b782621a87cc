package orchestrator

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/lifecycle"
	"git.home.luguber.info/inful/edged/internal/model"
)

// StartComponents drives every named instance to its target state. Instances
// are released as soon as their HARD dependencies are satisfied, so
// independent components proceed in parallel; dependents block on the event
// bus until unblocked by a dependency's state change. The returned map holds
// one entry per requested component; a nil value means it reached its target.
func (o *Orchestrator) StartComponents(ctx context.Context, names []string) map[string]error {
	requested := make(map[string]struct{}, len(names))
	for _, n := range names {
		requested[n] = struct{}{}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]error, len(names))
	)
	record := func(name string, err error) {
		mu.Lock()
		results[name] = err
		mu.Unlock()
	}

	// Topological order is not needed for correctness here (gating is event
	// driven) but launching in order keeps logs and step scheduling aligned
	// with the dependency structure.
	for _, name := range o.orderedSubset(requested) {
		sup, ok := o.supervisor(name)
		if !ok {
			record(name, &errors.UnknownComponentError{Name: name})
			continue
		}
		wg.Add(1)
		go func(name string, sup *lifecycle.Supervisor) {
			defer wg.Done()
			if err := sup.EnsureInstalled(ctx); err != nil {
				record(name, err)
				return
			}
			record(name, sup.Start(ctx, o.gateFor(name)))
		}(name, sup)
	}
	wg.Wait()
	return results
}

// orderedSubset filters the current graph order down to the requested set;
// names without a graph entry are appended sorted at the end.
func (o *Orchestrator) orderedSubset(requested map[string]struct{}) []string {
	g := o.currentGraph()
	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	if g != nil {
		for _, name := range g.Order() {
			if _, ok := requested[name]; ok {
				out = append(out, name)
				seen[name] = struct{}{}
			}
		}
	}
	for name := range requested {
		if _, ok := seen[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// gateFor returns the readiness gate for name: it blocks until every HARD
// dependency is RUNNING/FINISHED, re-evaluating only when a state event
// arrives, and fails once any dependency is BROKEN or missing.
func (o *Orchestrator) gateFor(name string) lifecycle.GateFunc {
	return func(ctx context.Context) error {
		sub, cancel := o.opts.Bus.Subscribe()
		defer cancel()
		for {
			satisfied, blocked := o.dependencyStatus(name)
			if blocked != "" {
				return errors.DependencyFailure(name, blocked)
			}
			if satisfied {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-sub:
				if !ok {
					return context.Canceled
				}
			}
		}
	}
}

// dependencyStatus evaluates name's gating condition. blocked names a HARD
// dependency that will never become ready within this activation.
func (o *Orchestrator) dependencyStatus(name string) (satisfied bool, blocked string) {
	g := o.currentGraph()
	if g == nil {
		return true, ""
	}
	for _, dep := range g.HardDependencies(name) {
		sup, ok := o.supervisor(dep)
		if !ok {
			return false, dep
		}
		st := sup.Instance().State()
		if st == model.StateBroken {
			return false, dep
		}
		if !st.Ready() {
			return false, ""
		}
	}
	return true, ""
}

// StopComponents drives every named instance to FINISHED in reverse
// dependency order: an instance's shutdown step starts only once all of its
// HARD dependents are no longer active, bounded per instance by the shutdown
// timeout so one slow dependent cannot stall the device indefinitely.
func (o *Orchestrator) StopComponents(ctx context.Context, names []string, reason string) map[string]error {
	requested := make(map[string]struct{}, len(names))
	for _, n := range names {
		requested[n] = struct{}{}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]error, len(names))
	)
	record := func(name string, err error) {
		mu.Lock()
		results[name] = err
		mu.Unlock()
	}

	for name := range requested {
		sup, ok := o.supervisor(name)
		if !ok {
			record(name, nil) // already gone
			continue
		}
		wg.Add(1)
		go func(name string, sup *lifecycle.Supervisor) {
			defer wg.Done()
			waitCtx, cancel := context.WithTimeout(ctx, o.opts.ShutdownTimeout)
			defer cancel()
			// Best effort: on timeout we proceed and force-terminate rather
			// than leave the component running forever.
			_ = o.awaitDependentsStopped(waitCtx, name)

			stopCtx, cancelStop := context.WithTimeout(ctx, o.opts.ShutdownTimeout)
			defer cancelStop()
			record(name, sup.Stop(stopCtx, reason))
		}(name, sup)
	}
	wg.Wait()
	return results
}

// awaitDependentsStopped blocks until none of name's HARD dependents are
// active, re-evaluating on state events.
func (o *Orchestrator) awaitDependentsStopped(ctx context.Context, name string) error {
	sub, cancel := o.opts.Bus.Subscribe()
	defer cancel()
	for {
		if !o.hasActiveDependents(name) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub:
			if !ok {
				return context.Canceled
			}
		}
	}
}

func (o *Orchestrator) hasActiveDependents(name string) bool {
	g := o.currentGraph()
	if g == nil {
		return false
	}
	for _, dep := range g.HardDependents(name) {
		sup, ok := o.supervisor(dep)
		if !ok {
			continue
		}
		if sup.Instance().State().IsActive() {
			return true
		}
	}
	return false
}
