package deployment

import (
	"encoding/json"
	"sort"

	"git.home.luguber.info/inful/edged/internal/graph"
	"git.home.luguber.info/inful/edged/internal/model"
)

// Diff is the reconciliation plan between the running set and a desired set.
// Reference-counted removal falls out of the closure computation: a
// component reachable from any remaining root appears in the desired set and
// is therefore never in ToRemove.
type Diff struct {
	// ToAdd: newly reachable from the new roots.
	ToAdd []string
	// ToRemove: no longer transitively reachable from any root.
	ToRemove []string
	// ToUpdate: present in both sets with a different version or
	// configuration.
	ToUpdate []string
}

// Empty reports whether the deployment changes nothing.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// stopSet is the union of removals and old versions of updates, stopped in
// shutdown order before activation proceeds.
func (d Diff) stopSet() []string {
	out := make([]string, 0, len(d.ToRemove)+len(d.ToUpdate))
	out = append(out, d.ToRemove...)
	out = append(out, d.ToUpdate...)
	return out
}

// startSet is the union of additions and new versions of updates.
func (d Diff) startSet() []string {
	out := make([]string, 0, len(d.ToAdd)+len(d.ToUpdate))
	out = append(out, d.ToAdd...)
	out = append(out, d.ToUpdate...)
	return out
}

// computeDiff compares the running definitions with the desired closure.
// upToDate reports whether a same-version component needs no refresh: its
// effective configuration is already live and its instance is in a usable
// state for the current activation stage.
func computeDiff(current, desired map[string]model.ComponentDefinition, upToDate func(name string) bool) Diff {
	var d Diff
	for name := range current {
		if _, kept := desired[name]; !kept {
			d.ToRemove = append(d.ToRemove, name)
		}
	}
	for name, def := range desired {
		cur, exists := current[name]
		switch {
		case !exists:
			d.ToAdd = append(d.ToAdd, name)
		case cur.Version != def.Version:
			d.ToUpdate = append(d.ToUpdate, name)
		case !upToDate(name):
			d.ToUpdate = append(d.ToUpdate, name)
		}
	}
	sort.Strings(d.ToAdd)
	sort.Strings(d.ToRemove)
	sort.Strings(d.ToUpdate)
	return d
}

// requiresBootstrap decides the activation strategy: the bootstrap path is
// taken when a nucleus component changes version, or when any added/updated
// component declares a bootstrap step.
func requiresBootstrap(d Diff, current, desired map[string]model.ComponentDefinition) bool {
	for _, name := range d.startSet() {
		def := desired[name]
		if def.HasBootstrap() {
			return true
		}
		if def.KindOrDefault() == model.KindNucleus {
			if cur, exists := current[name]; !exists || cur.Version != def.Version {
				return true
			}
		}
	}
	return false
}

// nucleusChanged reports whether a nucleus version change is part of the
// plan; it forces a runtime restart even when the nucleus recipe carries no
// explicit bootstrap command.
func nucleusChanged(d Diff, current, desired map[string]model.ComponentDefinition) bool {
	for _, name := range d.startSet() {
		def := desired[name]
		if def.KindOrDefault() != model.KindNucleus {
			continue
		}
		if cur, exists := current[name]; !exists || cur.Version != def.Version {
			return true
		}
	}
	return false
}

// bootstrapDefs returns the changed definitions carrying bootstrap steps in
// dependency order.
func bootstrapDefs(d Diff, desired map[string]model.ComponentDefinition, g *graph.Graph) []model.ComponentDefinition {
	changed := make(map[string]struct{}, len(d.ToAdd)+len(d.ToUpdate))
	for _, name := range d.startSet() {
		changed[name] = struct{}{}
	}
	var defs []model.ComponentDefinition
	for _, name := range g.Order() {
		if _, ok := changed[name]; !ok {
			continue
		}
		if def := desired[name]; def.HasBootstrap() {
			defs = append(defs, def)
		}
	}
	return defs
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
