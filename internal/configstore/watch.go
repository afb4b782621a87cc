package configstore

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/edged/internal/logfields"
)

// Watch reloads the store when its backing file is modified externally, so
// out-of-band configuration edits surface as ordinary change notifications.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.filePath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic writers replace the file,
	// which would orphan a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		return err
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.filePath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce bursts of events from a single save.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := s.Reload(); err != nil {
					slog.Warn("reload config store", logfields.Path(s.filePath), logfields.Error(err))
				} else {
					slog.Debug("config store reloaded", logfields.Path(s.filePath))
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config store watcher", logfields.Error(err))
		}
	}
}
