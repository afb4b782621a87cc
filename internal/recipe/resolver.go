// Package recipe loads component recipes and resolves version constraints.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/model"
)

// Resolver resolves (name, version constraint) pairs to component
// definitions from a local recipe directory. Recipes are YAML files, one
// component version per file; all versions of a component may coexist.
type Resolver struct {
	dir string

	mu      sync.RWMutex
	recipes map[string][]versioned // name -> versions, descending
}

type versioned struct {
	version *semver.Version
	def     model.ComponentDefinition
}

// NewResolver creates a resolver over dir and loads it once.
func NewResolver(dir string) (*Resolver, error) {
	r := &Resolver{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the recipe directory. Called after a recipe channel sync.
func (r *Resolver) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read recipe dir %s: %w", r.dir, err)
	}

	recipes := make(map[string][]versioned)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		def, err := loadFile(filepath.Join(r.dir, name))
		if err != nil {
			return err
		}
		v, err := semver.NewVersion(def.Version)
		if err != nil {
			return errors.RecipeError(err, fmt.Sprintf("recipe %s: invalid version %q", name, def.Version))
		}
		recipes[def.Name] = append(recipes[def.Name], versioned{version: v, def: def})
	}

	for name := range recipes {
		vs := recipes[name]
		sort.Slice(vs, func(i, j int) bool { return vs[i].version.GreaterThan(vs[j].version) })
		recipes[name] = vs
	}

	r.mu.Lock()
	r.recipes = recipes
	r.mu.Unlock()
	return nil
}

func loadFile(path string) (model.ComponentDefinition, error) {
	var def model.ComponentDefinition
	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("read recipe %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, errors.RecipeError(err, fmt.Sprintf("parse recipe %s", path))
	}
	if def.Name == "" {
		return def, errors.RecipeError(nil, fmt.Sprintf("recipe %s: missing component name", path))
	}
	if def.Lifecycle.Startup != nil && def.Lifecycle.Run != nil {
		return def, errors.RecipeError(nil,
			fmt.Sprintf("recipe %s: declares both startup and run steps", path))
	}
	return def, nil
}

// Resolve returns the highest recipe version of name satisfying constraint.
// An empty constraint matches any version.
func (r *Resolver) Resolve(name, constraint string) (model.ComponentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.recipes[name]
	if !ok || len(versions) == 0 {
		return model.ComponentDefinition{}, errors.RecipeError(nil,
			fmt.Sprintf("no recipe found for component %s", name))
	}
	if constraint == "" {
		return versions[0].def, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return model.ComponentDefinition{}, errors.RecipeError(err,
			fmt.Sprintf("invalid version constraint %q for %s", constraint, name))
	}
	for _, v := range versions {
		if c.Check(v.version) {
			return v.def, nil
		}
	}
	return model.ComponentDefinition{}, errors.RecipeError(nil,
		fmt.Sprintf("no version of %s satisfies %q", name, constraint))
}

// ResolveAll satisfies several constraints at once, used when more than one
// depender pins the same dependency.
func (r *Resolver) ResolveAll(name string, constraints []string) (model.ComponentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.recipes[name]
	if !ok || len(versions) == 0 {
		return model.ComponentDefinition{}, errors.RecipeError(nil,
			fmt.Sprintf("no recipe found for component %s", name))
	}

	var parsed []*semver.Constraints
	for _, raw := range constraints {
		if raw == "" {
			continue
		}
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return model.ComponentDefinition{}, errors.RecipeError(err,
				fmt.Sprintf("invalid version constraint %q for %s", raw, name))
		}
		parsed = append(parsed, c)
	}

outer:
	for _, v := range versions {
		for _, c := range parsed {
			if !c.Check(v.version) {
				continue outer
			}
		}
		return v.def, nil
	}
	return model.ComponentDefinition{}, errors.RecipeError(nil,
		fmt.Sprintf("no version of %s satisfies all constraints %v", name, constraints))
}

// Known returns the sorted component names with at least one recipe.
func (r *Resolver) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recipes))
	for name := range r.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
