package daemon

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/edged/internal/bootstrap"
	"git.home.luguber.info/inful/edged/internal/logfields"
)

// Run starts every subsystem and blocks until ctx is cancelled, a subsystem
// fails, or a bootstrap task demands a process restart (ErrRestartRequested).
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("edged starting",
		logfields.Path(d.cfg.Paths.StateDir),
		slog.String("api", d.cfg.API.Listen))

	// An interrupted bootstrap-path deployment resumes before anything else:
	// the component set on disk may be half-applied.
	if err := d.rec.ResumePending(ctx); err != nil {
		return err
	}
	// Bring the last applied component set back up.
	if last := d.rec.LastApplied(); last != nil {
		slog.Info("restoring last applied deployment", logfields.DeploymentID(last.ID))
		st := d.rec.Activate(ctx, *last)
		slog.Info("restore finished",
			logfields.DeploymentID(last.ID),
			slog.String("status", string(st.State)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return d.orch.Run(gctx) })
	g.Go(func() error { return d.apiSrv.Start(gctx) })
	g.Go(func() error { return d.pumpJournal(gctx) })
	g.Go(func() error { return d.pumpMetrics(gctx) })
	g.Go(func() error { return d.runScheduler(gctx) })
	g.Go(func() error { return d.cfgStore.Watch(gctx) })
	g.Go(func() error { return d.runConfigRestarts(gctx) })
	if d.nats != nil {
		g.Go(func() error {
			ch, cancelSub := d.bus.Subscribe()
			defer cancelSub()
			d.nats.Run(gctx, ch)
			return nil
		})
	}
	if d.cfg.Paths.DeployDir != "" {
		g.Go(func() error { return d.watchDeployDir(gctx) })
	}

	var restart bootstrap.RestartKind
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case restart = <-d.restartCh:
			return ErrRestartRequested
		}
	})

	err := g.Wait()
	if err == ErrRestartRequested {
		d.stopAll()
		if restart == bootstrap.RestartDevice {
			rebootDevice()
		}
		return ErrRestartRequested
	}
	d.stopAll()
	if err == context.Canceled {
		return nil
	}
	return err
}

// stopAll stops every running component before the process exits, bounded by
// the shutdown timeout per component.
func (d *Daemon) stopAll() {
	states := d.orch.States()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	if len(names) == 0 {
		return
	}
	slog.Info("stopping components for shutdown", slog.Int("count", len(names)))
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	d.orch.StopComponents(stopCtx, names, "daemon shutdown")
}

// rebootDevice asks the OS to reboot. Failure is logged, not returned: the
// pending deployment is persisted either way and resumes when the device
// eventually restarts.
func rebootDevice() {
	slog.Info("rebooting device for bootstrap")
	if err := exec.Command("systemctl", "reboot").Run(); err != nil {
		slog.Error("device reboot failed", logfields.Error(err))
	}
}
