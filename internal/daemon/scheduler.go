package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/edged/internal/config"
	"git.home.luguber.info/inful/edged/internal/logfields"
)

// runScheduler owns the periodic jobs: recipe channel sync from git (when
// configured) and the journal retention sweep. It blocks until ctx is
// cancelled.
func (d *Daemon) runScheduler(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	if d.gitSrc != nil {
		interval := config.Duration(d.cfg.RecipeRepo.SyncInterval, 5*time.Minute)
		_, err = s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(d.syncRecipes),
			gocron.WithName("recipe-sync"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}
	}

	_, err = s.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(d.pruneJournal),
		gocron.WithName("journal-gc"),
	)
	if err != nil {
		return err
	}

	s.Start()
	<-ctx.Done()
	return s.Shutdown()
}

// pruneJournal trims state-change history past the retention window.
func (d *Daemon) pruneJournal() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	retention := config.Duration(d.cfg.Events.JournalRetention, 7*24*time.Hour)
	n, err := d.journal.Prune(ctx, retention)
	if err != nil {
		slog.Warn("pruning state journal", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Debug("pruned state journal", slog.Int64("entries", n))
	}
}

// syncRecipes pulls the recipe repository and reloads the resolver on change.
func (d *Daemon) syncRecipes() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	changed, err := d.gitSrc.Sync(ctx)
	if err != nil {
		slog.Warn("recipe sync failed", logfields.Error(err))
		return
	}
	if !changed {
		return
	}
	slog.Info("recipe channel updated, reloading recipes")
	if err := d.resolver.Reload(); err != nil {
		slog.Error("reloading recipes", logfields.Error(err))
	}
}
