// Package graph builds the component dependency graph and computes the
// deterministic startup/shutdown orders used by the orchestrator.
package graph

import (
	"fmt"
	"sort"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/model"
)

// Edge is one dependency relation: Depender needs Dependee.
type Edge struct {
	Depender string
	Dependee string
	Type     model.DependencyType
}

// Graph is the immutable output of Build: the validated DAG plus its
// deterministic topological order. It is rebuilt on every reconciliation.
type Graph struct {
	order    []string
	edges    []Edge
	hardDeps map[string][]string // depender -> HARD dependees
	// dependents maps dependee -> all names that declare it (HARD only),
	// used for failure propagation and shutdown gating.
	hardDependents map[string][]string
	allDependents  map[string][]string
}

// Build validates the definitions against each other and computes the
// topological order. Both HARD and SOFT edges contribute to ordering; only
// HARD edges gate transitions. A reference to a component absent from defs
// fails validation, as does any cycle.
func Build(defs map[string]model.ComponentDefinition) (*Graph, error) {
	g := &Graph{
		hardDeps:       make(map[string][]string),
		hardDependents: make(map[string][]string),
		allDependents:  make(map[string][]string),
	}

	inDegree := make(map[string]int, len(defs))
	for name := range defs {
		inDegree[name] = 0
	}

	for name, def := range defs {
		for _, dep := range def.Dependencies {
			if _, ok := defs[dep.Name]; !ok {
				return nil, errors.ConfigError(
					fmt.Sprintf("component %s depends on %s, which is not part of the deployment", name, dep.Name))
			}
			if dep.Name == name {
				return nil, errors.ConfigError(fmt.Sprintf("component %s depends on itself", name))
			}
			g.edges = append(g.edges, Edge{Depender: name, Dependee: dep.Name, Type: dep.Kind()})
			inDegree[name]++
			g.allDependents[dep.Name] = append(g.allDependents[dep.Name], name)
			if dep.Kind() == model.DependencyHard {
				g.hardDeps[name] = append(g.hardDeps[name], dep.Name)
				g.hardDependents[dep.Name] = append(g.hardDependents[dep.Name], name)
			}
		}
	}

	order, err := kahnOrder(defs, inDegree, g.allDependents)
	if err != nil {
		return nil, err
	}
	g.order = order

	for _, m := range []map[string][]string{g.hardDeps, g.hardDependents, g.allDependents} {
		for _, names := range m {
			sort.Strings(names)
		}
	}
	return g, nil
}

// kahnOrder runs Kahn's algorithm with a lexicographically sorted frontier so
// identical input always yields the identical order.
func kahnOrder(defs map[string]model.ComponentDefinition, inDegree map[string]int, dependents map[string][]string) ([]string, error) {
	var frontier []string
	for name, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, name)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(defs))
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		order = append(order, name)

		released := false
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				frontier = append(frontier, dep)
				released = true
			}
		}
		if released {
			sort.Strings(frontier)
		}
	}

	if len(order) != len(defs) {
		var remaining []string
		for name := range defs {
			if inDegree[name] > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &errors.CyclicDependencyError{Node: remaining[0], Remaining: remaining}
	}
	return order, nil
}

// Order returns the startup order: every dependee before its dependers.
// The returned slice must not be mutated.
func (g *Graph) Order() []string {
	return g.order
}

// ReverseOrder returns the shutdown order.
func (g *Graph) ReverseOrder() []string {
	rev := make([]string, len(g.order))
	for i, name := range g.order {
		rev[len(g.order)-1-i] = name
	}
	return rev
}

// HardDependencies returns the HARD dependees of name, sorted.
func (g *Graph) HardDependencies(name string) []string {
	return g.hardDeps[name]
}

// HardDependents returns the names that HARD-depend on name, sorted.
func (g *Graph) HardDependents(name string) []string {
	return g.hardDependents[name]
}

// Dependents returns every name that declares a dependency on name.
func (g *Graph) Dependents(name string) []string {
	return g.allDependents[name]
}

// Edges returns all dependency edges.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Contains reports whether name was part of the built definition set.
func (g *Graph) Contains(name string) bool {
	for _, n := range g.order {
		if n == name {
			return true
		}
	}
	return false
}
