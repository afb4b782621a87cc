package deployment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/edged/internal/bootstrap"
	"git.home.luguber.info/inful/edged/internal/config"
	"git.home.luguber.info/inful/edged/internal/configstore"
	edgederrs "git.home.luguber.info/inful/edged/internal/errors"
	"git.home.luguber.info/inful/edged/internal/events"
	"git.home.luguber.info/inful/edged/internal/model"
	"git.home.luguber.info/inful/edged/internal/orchestrator"
	"git.home.luguber.info/inful/edged/internal/recipe"
	"git.home.luguber.info/inful/edged/internal/retry"
	"git.home.luguber.info/inful/edged/internal/runner"
)

type fixture struct {
	rec      *Reconciler
	orch     *orchestrator.Orchestrator
	fake     *runner.FakeRunner
	cfg      *configstore.Store
	tracker  *Tracker
	recipes  string
	stateDir string
	restarts []bootstrap.RestartKind
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		recipes:  t.TempDir(),
		stateDir: t.TempDir(),
		fake:     runner.NewFakeRunner(),
		tracker:  NewTracker(),
	}

	var err error
	f.cfg, err = configstore.New(filepath.Join(f.stateDir, "config.json"))
	require.NoError(t, err)

	f.orch = orchestrator.New(orchestrator.Options{
		Runner:          f.fake,
		Bus:             events.NewBus(),
		Policy:          retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1),
		StepWorkers:     4,
		ShutdownTimeout: time.Second,
	})

	taskStore, err := bootstrap.NewTaskStore(filepath.Join(f.stateDir, "bootstrap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = taskStore.Close() })
	boot := bootstrap.NewManager(taskStore, f.fake, "", time.Second)

	f.writeRecipe(t, "db-1.0.0.yaml", `
name: db
version: 1.0.0
lifecycle:
  startup:
    script: start-db
defaultConfig:
  port: 5432
`)
	f.writeRecipe(t, "app-1.0.0.yaml", `
name: app
version: 1.0.0
dependencies:
  - name: db
lifecycle:
  startup:
    script: start-app-1
`)
	f.writeRecipe(t, "app-2.0.0.yaml", `
name: app
version: 2.0.0
dependencies:
  - name: db
lifecycle:
  startup:
    script: start-app-2
`)

	resolver, err := recipe.NewResolver(f.recipes)
	require.NoError(t, err)

	f.rec, err = New(Options{
		Orchestrator:   f.orch,
		Resolver:       resolver,
		Config:         f.cfg,
		Bootstrap:      boot,
		Tracker:        f.tracker,
		StateDir:       f.stateDir,
		DefaultTimeout: 30 * time.Second,
		Restart: func(kind bootstrap.RestartKind) error {
			f.restarts = append(f.restarts, kind)
			return nil
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) writeRecipe(t *testing.T, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.recipes, file), []byte(body), 0o644))
}

func doc(id string, roots map[string]string) model.DeploymentDocument {
	return model.DeploymentDocument{
		ID:             id,
		Timestamp:      time.Now(),
		RootComponents: roots,
	}
}

func TestActivateSucceeds(t *testing.T) {
	f := newFixture(t)

	st := f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0"}))
	assert.Equal(t, model.DeploymentSucceeded, st.State)

	states := f.orch.States()
	assert.Equal(t, model.StateRunning, states["app"])
	assert.Equal(t, model.StateRunning, states["db"], "dependency pulled in via closure")

	// Recipe defaults landed in the config tree.
	port, ok := f.cfg.Lookup("components/db/port")
	require.True(t, ok)
	assert.Equal(t, 5432, port)
}

func TestActivateNoChangeIsSuccess(t *testing.T) {
	f := newFixture(t)
	d := doc("d1", map[string]string{"app": "^1.0.0"})
	require.Equal(t, model.DeploymentSucceeded, f.rec.Activate(context.Background(), d).State)

	calls := f.fake.CallCount("start-app-1")
	d2 := doc("d2", map[string]string{"app": "^1.0.0"})
	st := f.rec.Activate(context.Background(), d2)
	assert.Equal(t, model.DeploymentSucceeded, st.State)
	assert.Equal(t, calls, f.fake.CallCount("start-app-1"), "unchanged components must not restart")
}

func TestActivateUpgradesComponent(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, model.DeploymentSucceeded,
		f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0"})).State)

	st := f.rec.Activate(context.Background(), doc("d2", map[string]string{"app": "^2.0.0"}))
	assert.Equal(t, model.DeploymentSucceeded, st.State)
	assert.Equal(t, 1, f.fake.CallCount("start-app-2"))

	inst, err := f.orch.Instance("app")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", inst.Definition().Version)
}

func TestActivateRemovesUnreferencedComponents(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, model.DeploymentSucceeded,
		f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0", "db": ""})).State)

	// db stays: still reachable through app's dependency closure.
	st := f.rec.Activate(context.Background(), doc("d2", map[string]string{"app": "^1.0.0"}))
	require.Equal(t, model.DeploymentSucceeded, st.State)
	_, err := f.orch.Instance("db")
	assert.NoError(t, err)

	// Dropping app drops db too: nothing references it anymore.
	f.writeRecipe(t, "standalone-1.0.0.yaml", `
name: standalone
version: 1.0.0
lifecycle:
  startup:
    script: start-standalone
`)
	require.NoError(t, f.rec.resolver.Reload())
	st = f.rec.Activate(context.Background(), doc("d3", map[string]string{"standalone": ""}))
	require.Equal(t, model.DeploymentSucceeded, st.State)
	_, err = f.orch.Instance("app")
	assert.Error(t, err)
	_, err = f.orch.Instance("db")
	assert.Error(t, err)
}

func TestSubmitRejectsUnknownComponent(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Submit(doc("", map[string]string{"ghost": ""}))
	require.Error(t, err)
	assert.ErrorIs(t, err, edgederrs.ErrDeploymentRejected)
}

func TestFailureWithDoNothingPolicy(t *testing.T) {
	f := newFixture(t)
	f.fake.FailFirst("start-app-1", 10, 1)

	st := f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0"}))
	assert.Equal(t, model.DeploymentFailed, st.State)
	require.Contains(t, st.ComponentErrors, "app")
	// DO_NOTHING: the failed instance is left as-is for inspection.
	assert.Equal(t, model.StateBroken, f.orch.States()["app"])
}

func TestFailureWithRollbackPolicy(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, model.DeploymentSucceeded,
		f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0"})).State)

	f.fake.FailFirst("start-app-2", 10, 1)
	d2 := doc("d2", map[string]string{"app": "^2.0.0"})
	d2.FailurePolicy = model.PolicyRollback

	st := f.rec.Activate(context.Background(), d2)
	assert.Equal(t, model.DeploymentRollbackSucceeded, st.State)
	require.Contains(t, st.ComponentErrors, "app")

	inst, err := f.orch.Instance("app")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", inst.Definition().Version, "rollback restores the previous version")
	assert.Equal(t, model.StateRunning, inst.State())

	// The rollback target is unchanged: d1 remains the last applied document.
	require.NotNil(t, f.rec.LastApplied())
	assert.Equal(t, "d1", f.rec.LastApplied().ID)
}

func TestRollbackRestoresConfigOnlyChange(t *testing.T) {
	f := newFixture(t)
	d1 := doc("d1", map[string]string{"app": "^1.0.0"})
	d1.ConfigOverrides = map[string]map[string]any{"app": {"x": 1}}
	require.Equal(t, model.DeploymentSucceeded, f.rec.Activate(context.Background(), d1).State)

	// Same version, new override; the restart under it exhausts the retry
	// budget, so the rollback attempt itself runs clean.
	f.fake.FailFirst("start-app-1", 2, 1)
	d2 := doc("d2", map[string]string{"app": "^1.0.0"})
	d2.ConfigOverrides = map[string]map[string]any{"app": {"x": 2}}
	d2.FailurePolicy = model.PolicyRollback

	st := f.rec.Activate(context.Background(), d2)
	assert.Equal(t, model.DeploymentRollbackSucceeded, st.State)
	require.Contains(t, st.ComponentErrors, "app")

	// The component is restarted under d1's configuration, not left broken
	// with d2's override still live.
	assert.Equal(t, model.StateRunning, f.orch.States()["app"])
	x, ok := f.cfg.Lookup("components/app/x")
	require.True(t, ok)
	assert.Equal(t, 1, x)
	assert.Equal(t, "d1", f.rec.LastApplied().ID)
}

func TestActivationTimeoutFails(t *testing.T) {
	f := newFixture(t)
	f.fake.BlockScript("start-app-1")

	d := doc("d1", map[string]string{"app": "^1.0.0"})
	d.TimeoutSeconds = 1
	st := f.rec.Activate(context.Background(), d)
	assert.Equal(t, model.DeploymentFailed, st.State)
	assert.Contains(t, st.Detail, "deployment timed out")
	assert.Contains(t, st.ComponentErrors, "app")
}

func TestRollbackWithoutTargetFails(t *testing.T) {
	f := newFixture(t)
	f.fake.FailFirst("start-app-1", 10, 1)
	d := doc("d1", map[string]string{"app": "^1.0.0"})
	d.FailurePolicy = model.PolicyRollback

	st := f.rec.Activate(context.Background(), d)
	assert.Equal(t, model.DeploymentFailed, st.State, "no previous deployment to roll back to")
}

func TestLastAppliedSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, model.DeploymentSucceeded,
		f.rec.Activate(context.Background(), doc("d1", map[string]string{"app": "^1.0.0"})).State)

	reloaded, err := New(Options{
		Orchestrator: f.orch,
		Resolver:     f.rec.resolver,
		Config:       f.cfg,
		Bootstrap:    f.rec.boot,
		Tracker:      NewTracker(),
		StateDir:     f.stateDir,
	})
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastApplied())
	assert.Equal(t, "d1", reloaded.LastApplied().ID)
}

func TestBootstrapPathRunsTasksThenActivates(t *testing.T) {
	f := newFixture(t)
	f.writeRecipe(t, "fw-1.0.0.yaml", `
name: fw
version: 1.0.0
lifecycle:
  bootstrap:
    script: flash-fw
  startup:
    script: start-fw
`)
	require.NoError(t, f.rec.resolver.Reload())

	st := f.rec.Activate(context.Background(), doc("d1", map[string]string{"fw": ""}))
	assert.Equal(t, model.DeploymentSucceeded, st.State)
	assert.Equal(t, 1, f.fake.CallCount("flash-fw"))
	assert.Equal(t, model.StateRunning, f.orch.States()["fw"])
	assert.Empty(t, f.restarts)
}

func TestBootstrapRestartAndResume(t *testing.T) {
	f := newFixture(t)
	f.writeRecipe(t, "fw-1.0.0.yaml", `
name: fw
version: 1.0.0
lifecycle:
  bootstrap:
    script: flash-fw
  startup:
    script: start-fw
`)
	require.NoError(t, f.rec.resolver.Reload())
	f.fake.FailFirst("flash-fw", 1, 100) // exit 100: restart the runtime

	st := f.rec.Activate(context.Background(), doc("d1", map[string]string{"fw": ""}))
	assert.Equal(t, model.DeploymentInProgress, st.State)
	require.Len(t, f.restarts, 1)
	assert.Equal(t, bootstrap.RestartProcess, f.restarts[0])

	// "Restart": resume the persisted activation. The completed task is not
	// re-run.
	require.NoError(t, f.rec.ResumePending(context.Background()))
	final, ok := f.tracker.Get("d1")
	require.True(t, ok)
	assert.Equal(t, model.DeploymentSucceeded, final.State)
	assert.Equal(t, 1, f.fake.CallCount("flash-fw"))
	assert.Equal(t, model.StateRunning, f.orch.States()["fw"])

	// Nothing pending anymore.
	require.NoError(t, f.rec.ResumePending(context.Background()))
}
