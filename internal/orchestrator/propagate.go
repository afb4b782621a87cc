package orchestrator

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/edged/internal/events"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
)

// Run is the orchestrator's propagation loop. It watches the global event
// stream and enforces the HARD-dependency contract at runtime: a dependency
// leaving RUNNING forces its active dependents to stop (without touching
// their retry budgets), and its return to RUNNING restarts them. It blocks
// until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	sub, cancel := o.opts.Bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev events.StateChange) {
	switch {
	case ev.From == model.StateRunning && ev.To != model.StateFinished:
		// FINISHED is a clean completion and still satisfies dependents.
		o.stopDependents(ctx, ev.Component)
	case ev.To == model.StateBroken || ev.To == model.StateErrored:
		o.stopDependents(ctx, ev.Component)
	case ev.To == model.StateRunning:
		o.restartDependencyStopped(ev.Component)
	}
}

// stopDependents forces active HARD dependents of name into STOPPING. The
// stop is attributed to the dependency, so it does not consume the
// dependents' own retry budgets.
func (o *Orchestrator) stopDependents(ctx context.Context, name string) {
	g := o.currentGraph()
	if g == nil {
		return
	}
	for _, depName := range g.HardDependents(name) {
		sup, ok := o.supervisor(depName)
		if !ok {
			continue
		}
		st := sup.Instance().State()
		if st != model.StateStarting && st != model.StateRunning {
			continue
		}

		o.mu.Lock()
		o.depStopped[depName] = true
		o.mu.Unlock()

		slog.Info("stopping component: dependency unavailable",
			logfields.Component(depName),
			logfields.Dependency(name))

		go func(dep string) {
			stopCtx, cancel := context.WithTimeout(ctx, o.opts.ShutdownTimeout)
			defer cancel()
			s, ok := o.supervisor(dep)
			if !ok {
				return
			}
			if err := s.Stop(stopCtx, "dependency "+name+" unavailable"); err != nil {
				slog.Warn("stop dependent", logfields.Component(dep), logfields.Error(err))
			}
			// Cascade: this component leaving RUNNING is itself an event the
			// loop observes, so transitive dependents follow.
		}(depName)
	}
}

// restartDependencyStopped restarts dependents that were stopped because
// name was unavailable, now that it is RUNNING again.
func (o *Orchestrator) restartDependencyStopped(name string) {
	g := o.currentGraph()
	if g == nil {
		return
	}
	for _, depName := range g.HardDependents(name) {
		o.mu.Lock()
		marked := o.depStopped[depName]
		if marked {
			delete(o.depStopped, depName)
		}
		runCtx := o.runCtx
		o.mu.Unlock()
		if !marked {
			continue
		}

		slog.Info("restarting component: dependency recovered",
			logfields.Component(depName),
			logfields.Dependency(name))
		// The dependent's stop may still be in flight; wait for it to park
		// before restarting.
		go func(dep string) {
			o.awaitRestartable(runCtx, dep)
			o.startGated(runCtx, dep)
		}(depName)
	}
}

// awaitRestartable blocks until name is in a state Start accepts.
func (o *Orchestrator) awaitRestartable(ctx context.Context, name string) {
	sub, cancel := o.opts.Bus.Subscribe()
	defer cancel()
	for {
		sup, ok := o.supervisor(name)
		if !ok {
			return
		}
		switch sup.Instance().State() {
		case model.StateInstalled, model.StateFinished:
			return
		}
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
		}
	}
}

// restartAfterCrash re-gates and restarts a component whose supervisor
// finished its crash backoff.
func (o *Orchestrator) restartAfterCrash(name string) {
	o.mu.RLock()
	runCtx := o.runCtx
	o.mu.RUnlock()
	o.startGated(runCtx, name)
}

func (o *Orchestrator) startGated(ctx context.Context, name string) {
	sup, ok := o.supervisor(name)
	if !ok {
		return
	}
	if err := sup.Start(ctx, o.gateFor(name)); err != nil {
		slog.Warn("restart failed",
			logfields.Component(name),
			logfields.Error(err))
	}
}
