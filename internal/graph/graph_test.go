package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	edgederrors "git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/model"
)

func def(name string, deps ...model.Dependency) model.ComponentDefinition {
	return model.ComponentDefinition{Name: name, Version: "1.0.0", Dependencies: deps}
}

func hard(name string) model.Dependency {
	return model.Dependency{Name: name, Type: model.DependencyHard}
}

func soft(name string) model.Dependency {
	return model.Dependency{Name: name, Type: model.DependencySoft}
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestBuildTopologicalOrder(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"db":    def("db"),
		"cache": def("cache"),
		"app":   def("app", hard("db"), hard("cache")),
		"web":   def("web", hard("app")),
	}
	g, err := Build(defs)
	require.NoError(t, err)

	order := g.Order()
	require.Len(t, order, 4)
	assert.Less(t, indexOf(order, "db"), indexOf(order, "app"))
	assert.Less(t, indexOf(order, "cache"), indexOf(order, "app"))
	assert.Less(t, indexOf(order, "app"), indexOf(order, "web"))
}

func TestBuildDeterministicOrder(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"a": def("a"),
		"b": def("b"),
		"c": def("c"),
	}
	g, err := Build(defs)
	require.NoError(t, err)
	// Independent components order lexicographically, every time.
	assert.Equal(t, []string{"a", "b", "c"}, g.Order())

	for i := 0; i < 10; i++ {
		g2, err := Build(defs)
		require.NoError(t, err)
		assert.Equal(t, g.Order(), g2.Order())
	}
}

func TestSoftDependencyOrdersButDoesNotGate(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"log": def("log"),
		"app": def("app", soft("log")),
	}
	g, err := Build(defs)
	require.NoError(t, err)

	order := g.Order()
	assert.Less(t, indexOf(order, "log"), indexOf(order, "app"))
	// SOFT edges never appear in the gating sets.
	assert.Empty(t, g.HardDependencies("app"))
	assert.Empty(t, g.HardDependents("log"))
	assert.Equal(t, []string{"app"}, g.Dependents("log"))
}

func TestBuildRejectsCycle(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"a": def("a", hard("b")),
		"b": def("b", hard("c")),
		"c": def("c", hard("a")),
	}
	_, err := Build(defs)
	require.Error(t, err)

	var cyc *edgederrors.CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, "a", cyc.Node)
	assert.Len(t, cyc.Remaining, 3)
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"app": def("app", hard("ghost")),
	}
	_, err := Build(defs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"app": def("app", hard("app")),
	}
	_, err := Build(defs)
	require.Error(t, err)
}

func TestReverseOrder(t *testing.T) {
	defs := map[string]model.ComponentDefinition{
		"db":  def("db"),
		"app": def("app", hard("db")),
	}
	g, err := Build(defs)
	require.NoError(t, err)

	rev := g.ReverseOrder()
	assert.Less(t, indexOf(rev, "app"), indexOf(rev, "db"))
}

func TestContains(t *testing.T) {
	g, err := Build(map[string]model.ComponentDefinition{"a": def("a")})
	require.NoError(t, err)
	assert.True(t, g.Contains("a"))
	assert.False(t, g.Contains("b"))
}
