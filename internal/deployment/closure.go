package deployment

import (
	"fmt"
	"sort"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/graph"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/recipe"
)

// resolveClosure expands the root components of a document into the full
// transitive definition set. Constraints accumulate per component: when two
// dependers pin the same dependency, the resolved version must satisfy both.
// A component already resolved is re-resolved whenever a new constraint for
// it appears; the worklist converges because resolution is deterministic.
func resolveClosure(res *recipe.Resolver, doc model.DeploymentDocument) (map[string]model.ComponentDefinition, *graph.Graph, error) {
	constraints := make(map[string][]string)
	roots := make([]string, 0, len(doc.RootComponents))
	for name, c := range doc.RootComponents {
		constraints[name] = append(constraints[name], c)
		roots = append(roots, name)
	}
	sort.Strings(roots)

	defs := make(map[string]model.ComponentDefinition)
	work := roots
	for len(work) > 0 {
		name := work[0]
		work = work[1:]

		def, err := res.ResolveAll(name, constraints[name])
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		if prev, seen := defs[name]; seen && prev.Version == def.Version {
			continue
		}
		defs[name] = def

		for _, dep := range def.Dependencies {
			if dep.VersionConstraint != "" {
				constraints[dep.Name] = append(constraints[dep.Name], dep.VersionConstraint)
			} else if _, known := constraints[dep.Name]; !known {
				constraints[dep.Name] = nil
			}
			work = append(work, dep.Name)
		}
	}

	g, err := graph.Build(defs)
	if err != nil {
		return nil, nil, err
	}
	return defs, g, nil
}

// validateDocument performs the synchronous admission checks: every root must
// resolve, the closure must be acyclic, and the document needs at least one
// root. Nothing in the running state is touched.
func validateDocument(res *recipe.Resolver, doc model.DeploymentDocument) error {
	if len(doc.RootComponents) == 0 {
		return errors.ConfigError("deployment document declares no root components")
	}
	_, _, err := resolveClosure(res, doc)
	return err
}
