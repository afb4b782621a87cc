// Package daemon assembles and runs the edged runtime: orchestrator,
// reconciler, control API, recipe sync, and event publication.
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/edged/internal/api"
	"git.home.luguber.info/inful/edged/internal/bootstrap"
	"git.home.luguber.info/inful/edged/internal/config"
	"git.home.luguber.info/inful/edged/internal/configstore"
	"git.home.luguber.info/inful/edged/internal/deployment"
	"git.home.luguber.info/inful/edged/internal/events"
	"git.home.luguber.info/inful/edged/internal/lifecycle"
	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/metrics"
	"git.home.luguber.info/inful/edged/internal/orchestrator"
	"git.home.luguber.info/inful/edged/internal/recipe"
	"git.home.luguber.info/inful/edged/internal/retry"
	"git.home.luguber.info/inful/edged/internal/runner"
)

// ErrRestartRequested is returned from Run when a bootstrap task asked for a
// process restart. The supervising init system (or wrapper script) restarts
// the process; the interrupted deployment resumes on the next boot.
var ErrRestartRequested = fmt.Errorf("runtime restart requested")

// Daemon owns the long-lived subsystems.
type Daemon struct {
	cfg *config.Config

	bus      *events.Bus
	journal  *events.Journal
	nats     *events.NATSPublisher
	metrics  *metrics.Metrics
	cfgStore *configstore.Store
	resolver *recipe.Resolver
	gitSrc   *recipe.GitSource
	orch     *orchestrator.Orchestrator
	boot     *bootstrap.Manager
	taskDB   *bootstrap.TaskStore
	tracker  *deployment.Tracker
	rec      *deployment.Reconciler
	apiSrv   *api.Server
	run      runner.Runner

	// restartCh carries the bootstrap restart demand out of the reconciler
	// goroutine into the run loop.
	restartCh chan bootstrap.RestartKind
	started   time.Time
}

// New builds the daemon from configuration. Nothing is started yet.
func New(cfg *config.Config) (*Daemon, error) {
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.RecipeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if cfg.Paths.DeployDir != "" {
		if err := os.MkdirAll(cfg.Paths.DeployDir, 0o755); err != nil {
			return nil, fmt.Errorf("create deploy dir: %w", err)
		}
	}

	d := &Daemon{
		cfg:       cfg,
		bus:       events.NewBus(),
		run:       runner.NewExecRunner(),
		tracker:   deployment.NewTracker(),
		restartCh: make(chan bootstrap.RestartKind, 1),
		started:   time.Now(),
	}

	var err error
	d.cfgStore, err = configstore.New(filepath.Join(cfg.Paths.StateDir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}

	d.journal, err = events.NewJournal(filepath.Join(cfg.Paths.StateDir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("open event journal: %w", err)
	}

	d.taskDB, err = bootstrap.NewTaskStore(filepath.Join(cfg.Paths.StateDir, "bootstrap.db"))
	if err != nil {
		return nil, fmt.Errorf("open bootstrap store: %w", err)
	}
	d.boot = bootstrap.NewManager(d.taskDB, d.run, cfg.Paths.WorkDir,
		config.Duration(cfg.Deployment.BootstrapTimeout, 120*time.Second))

	d.resolver, err = recipe.NewResolver(cfg.Paths.RecipeDir)
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	if cfg.RecipeRepo.URL != "" {
		auth, err := recipe.BuildAuth(cfg.RecipeRepo.Auth)
		if err != nil {
			return nil, err
		}
		d.gitSrc = &recipe.GitSource{
			URL:    cfg.RecipeRepo.URL,
			Branch: cfg.RecipeRepo.Branch,
			Dir:    cfg.Paths.RecipeDir,
			Auth:   auth,
		}
	}

	d.orch = orchestrator.New(orchestrator.Options{
		Runner:      d.run,
		Bus:         d.bus,
		Policy:      retry.FromConfig(cfg.Lifecycle),
		StepWorkers: cfg.Lifecycle.StepWorkers,
		StepDefaults: lifecycle.StepDefaults{
			Install:  config.Duration(cfg.Lifecycle.InstallTimeout, 120*time.Second),
			Startup:  config.Duration(cfg.Lifecycle.StartupTimeout, 120*time.Second),
			Shutdown: config.Duration(cfg.Lifecycle.ShutdownTimeout, 15*time.Second),
		},
		WorkDir:         cfg.Paths.WorkDir,
		ShutdownTimeout: config.Duration(cfg.Lifecycle.ShutdownTimeout, 15*time.Second),
		EnvFn:           d.componentEnv,
		// d.metrics is assigned below, before any component runs a step.
		StepObserver: func(step string, dur time.Duration) { d.metrics.StepObserved(step, dur) },
	})

	d.metrics = metrics.New(func() int { return len(d.orch.States()) })

	if cfg.Events.NATSURL != "" {
		d.nats, err = events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			// Event forwarding is best effort; the device must keep working
			// without its broker.
			slog.Warn("NATS unavailable, state events stay local", logfields.Error(err))
		}
	}

	d.rec, err = deployment.New(deployment.Options{
		Orchestrator:   d.orch,
		Resolver:       d.resolver,
		Config:         d.cfgStore,
		Bootstrap:      d.boot,
		Tracker:        d.tracker,
		StateDir:       cfg.Paths.StateDir,
		DefaultTimeout: config.Duration(cfg.Deployment.Timeout, 10*time.Minute),
		Restart:        d.requestRestart,
		Recorder:       d.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build reconciler: %w", err)
	}

	d.apiSrv = api.NewServer(cfg.API.Listen, d, d.metrics.Handler())
	return d, nil
}

// componentEnv flattens a component's configuration subtree into the step
// environment so lifecycle scripts see their effective configuration.
func (d *Daemon) componentEnv(component string) []string {
	snap, rev := d.cfgStore.Snapshot("components/" + component)
	env := []string{
		fmt.Sprintf("EDGED_CONFIG_REVISION=%d", rev),
	}
	for key, value := range snap {
		env = append(env, fmt.Sprintf("EDGED_CONFIG_%s=%v", envKey(key), value))
	}
	return env
}

// envKey uppercases and sanitises a config key for the environment.
func envKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-('a'-'A'))
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// requestRestart is the reconciler's restart hook. A device reboot is
// delegated to the OS; a process restart is signalled to the run loop.
func (d *Daemon) requestRestart(kind bootstrap.RestartKind) error {
	d.metrics.RestartRequested()
	select {
	case d.restartCh <- kind:
	default:
	}
	return nil
}

// Close releases persistent resources. Call after Run returns.
func (d *Daemon) Close() {
	if d.nats != nil {
		d.nats.Close()
	}
	if err := d.journal.Close(); err != nil {
		slog.Warn("closing journal", logfields.Error(err))
	}
	if err := d.taskDB.Close(); err != nil {
		slog.Warn("closing bootstrap store", logfields.Error(err))
	}
	d.bus.Close()
}
