package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	writeRecipe(t, dir, "db-1.0.0.yaml", `
name: db
version: 1.0.0
lifecycle:
  run:
    script: ./db
`)
	writeRecipe(t, dir, "db-1.2.0.yaml", `
name: db
version: 1.2.0
lifecycle:
  run:
    script: ./db
`)
	writeRecipe(t, dir, "db-2.0.0.yaml", `
name: db
version: 2.0.0
lifecycle:
  run:
    script: ./db
`)
	r, err := NewResolver(dir)
	require.NoError(t, err)
	return r, dir
}

func TestResolveHighestSatisfying(t *testing.T) {
	r, _ := newTestResolver(t)

	def, err := r.Resolve("db", "^1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", def.Version)

	def, err = r.Resolve("db", "")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", def.Version, "empty constraint picks the highest version")
}

func TestResolveUnknownComponent(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve("ghost", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestResolveUnsatisfiableConstraint(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve("db", ">=3.0.0")
	require.Error(t, err)
}

func TestResolveInvalidConstraint(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve("db", "not a constraint")
	require.Error(t, err)
}

func TestResolveAllIntersectsConstraints(t *testing.T) {
	r, _ := newTestResolver(t)

	def, err := r.ResolveAll("db", []string{">=1.0.0", "<2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", def.Version)

	_, err = r.ResolveAll("db", []string{"^1.0.0", "^2.0.0"})
	require.Error(t, err, "disjoint constraints cannot be satisfied")
}

func TestLoadRejectsStartupAndRun(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "bad-1.0.0.yaml", `
name: bad
version: 1.0.0
lifecycle:
  startup:
    script: ./check
  run:
    script: ./svc
`)
	_, err := NewResolver(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup and run")
}

func TestLoadRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "anon.yaml", `
version: 1.0.0
lifecycle: {}
`)
	_, err := NewResolver(dir)
	require.Error(t, err)
}

func TestReloadPicksUpNewRecipes(t *testing.T) {
	r, dir := newTestResolver(t)
	assert.Equal(t, []string{"db"}, r.Known())

	writeRecipe(t, dir, "app-1.0.0.yaml", `
name: app
version: 1.0.0
dependencies:
  - name: db
    versionConstraint: "^2.0.0"
lifecycle:
  run:
    script: ./app
`)
	require.NoError(t, r.Reload())
	assert.Equal(t, []string{"app", "db"}, r.Known())

	def, err := r.Resolve("app", "")
	require.NoError(t, err)
	require.Len(t, def.Dependencies, 1)
	assert.Equal(t, "db", def.Dependencies[0].Name)
	assert.Equal(t, "^2.0.0", def.Dependencies[0].VersionConstraint)
}
