package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
)

// watchDeployDir watches for deployment documents dropped into the deploy
// directory and submits them. Writes are debounced so a document being
// streamed in is read once, when complete.
func (d *Daemon) watchDeployDir(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(d.cfg.Paths.DeployDir); err != nil {
		return err
	}
	slog.Info("watching for deployment documents", logfields.Path(d.cfg.Paths.DeployDir))

	const debounce = 300 * time.Millisecond
	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Reset(debounce)
				continue
			}
			pending[path] = time.AfterFunc(debounce, func() {
				d.submitFile(path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("deploy dir watch error", logfields.Error(err))
		}
	}
}

// submitFile reads, submits, and consumes one dropped-in document. The file
// is renamed away afterwards so a restart does not resubmit it.
func (d *Daemon) submitFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("reading deployment document", logfields.Path(path), logfields.Error(err))
		return
	}
	var doc model.DeploymentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("parsing deployment document", logfields.Path(path), logfields.Error(err))
		d.consumeFile(path, "invalid")
		return
	}

	id, err := d.rec.Submit(doc)
	if err != nil {
		slog.Error("deployment rejected", logfields.Path(path), logfields.Error(err))
		d.consumeFile(path, "rejected")
		return
	}
	slog.Info("deployment submitted from file",
		logfields.Path(path), logfields.DeploymentID(id))
	d.consumeFile(path, "submitted")
}

func (d *Daemon) consumeFile(path, suffix string) {
	if err := os.Rename(path, path+"."+suffix); err != nil {
		slog.Warn("consuming deployment document", logfields.Path(path), logfields.Error(err))
	}
}
