package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/edged/internal/graph"
	"git.home.luguber.info/inful/edged/internal/model"
)

func mkDef(name, version string) model.ComponentDefinition {
	return model.ComponentDefinition{Name: name, Version: version}
}

func allUpToDate(string) bool { return true }

func TestComputeDiffAddRemoveUpdate(t *testing.T) {
	current := map[string]model.ComponentDefinition{
		"keep":   mkDef("keep", "1.0.0"),
		"old":    mkDef("old", "1.0.0"),
		"bumped": mkDef("bumped", "1.0.0"),
	}
	desired := map[string]model.ComponentDefinition{
		"keep":   mkDef("keep", "1.0.0"),
		"bumped": mkDef("bumped", "2.0.0"),
		"fresh":  mkDef("fresh", "1.0.0"),
	}

	d := computeDiff(current, desired, allUpToDate)
	assert.Equal(t, []string{"fresh"}, d.ToAdd)
	assert.Equal(t, []string{"old"}, d.ToRemove)
	assert.Equal(t, []string{"bumped"}, d.ToUpdate)
	assert.False(t, d.Empty())
}

func TestComputeDiffConfigChangeIsUpdate(t *testing.T) {
	defs := map[string]model.ComponentDefinition{"svc": mkDef("svc", "1.0.0")}

	d := computeDiff(defs, defs, func(name string) bool { return false })
	assert.Equal(t, []string{"svc"}, d.ToUpdate)

	d = computeDiff(defs, defs, allUpToDate)
	assert.True(t, d.Empty())
}

func TestComputeDiffSharedDependencyKept(t *testing.T) {
	// Removing one root must not remove a dependency still reachable from the
	// other: the closure of the remaining roots contains it, so it never shows
	// up in ToRemove.
	current := map[string]model.ComponentDefinition{
		"lib":   mkDef("lib", "1.0.0"),
		"rootA": {Name: "rootA", Version: "1.0.0", Dependencies: []model.Dependency{{Name: "lib"}}},
		"rootB": {Name: "rootB", Version: "1.0.0", Dependencies: []model.Dependency{{Name: "lib"}}},
	}
	desired := map[string]model.ComponentDefinition{
		"lib":   mkDef("lib", "1.0.0"),
		"rootB": current["rootB"],
	}

	d := computeDiff(current, desired, allUpToDate)
	assert.Equal(t, []string{"rootA"}, d.ToRemove)
	assert.NotContains(t, d.ToRemove, "lib")
}

func TestRequiresBootstrap(t *testing.T) {
	withBootstrap := model.ComponentDefinition{
		Name: "fw", Version: "2.0.0",
		Lifecycle: model.Lifecycle{Bootstrap: &model.Step{Script: "flash.sh"}},
	}
	plain := mkDef("svc", "1.0.0")

	current := map[string]model.ComponentDefinition{}
	desired := map[string]model.ComponentDefinition{"fw": withBootstrap, "svc": plain}
	d := computeDiff(current, desired, allUpToDate)
	assert.True(t, requiresBootstrap(d, current, desired))

	desired = map[string]model.ComponentDefinition{"svc": plain}
	d = computeDiff(current, desired, allUpToDate)
	assert.False(t, requiresBootstrap(d, current, desired))
}

func TestRequiresBootstrapOnNucleusVersionChange(t *testing.T) {
	current := map[string]model.ComponentDefinition{
		"nucleus": {Name: "nucleus", Version: "1.0.0", Kind: model.KindNucleus},
	}
	desired := map[string]model.ComponentDefinition{
		"nucleus": {Name: "nucleus", Version: "1.1.0", Kind: model.KindNucleus},
	}
	d := computeDiff(current, desired, allUpToDate)
	assert.True(t, requiresBootstrap(d, current, desired))
	assert.True(t, nucleusChanged(d, current, desired))

	// Same version: nothing to bootstrap.
	d = computeDiff(current, current, allUpToDate)
	assert.False(t, requiresBootstrap(d, current, current))
	assert.False(t, nucleusChanged(d, current, current))
}

func TestBootstrapDefsInDependencyOrder(t *testing.T) {
	base := model.ComponentDefinition{
		Name: "base", Version: "1.0.0",
		Lifecycle: model.Lifecycle{Bootstrap: &model.Step{Script: "base.sh"}},
	}
	top := model.ComponentDefinition{
		Name: "top", Version: "1.0.0",
		Dependencies: []model.Dependency{{Name: "base"}},
		Lifecycle:    model.Lifecycle{Bootstrap: &model.Step{Script: "top.sh"}},
	}
	desired := map[string]model.ComponentDefinition{"base": base, "top": top}
	g, err := graph.Build(desired)
	require.NoError(t, err)

	d := computeDiff(map[string]model.ComponentDefinition{}, desired, allUpToDate)
	defs := bootstrapDefs(d, desired, g)
	require.Len(t, defs, 2)
	assert.Equal(t, "base", defs[0].Name)
	assert.Equal(t, "top", defs[1].Name)
}
