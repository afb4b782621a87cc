package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/configstore"
	"git.home.luguber.info/inful/edged/internal/logfields"
)

// runConfigRestarts restarts components whose configuration subtree changed
// outside a deployment activation (an operator edit through the persisted
// tree). Changes written by the reconciler during an activation are ignored:
// the activation restarts the affected components itself.
func (d *Daemon) runConfigRestarts(ctx context.Context) error {
	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
	)
	kick := make(chan struct{}, 1)

	cancel := d.cfgStore.Subscribe("components", func(c configstore.Change) {
		if d.tracker.CurrentID() != "" {
			return
		}
		name := componentFromPath(c.Path)
		if name == "" {
			return
		}
		mu.Lock()
		pending[name] = struct{}{}
		mu.Unlock()
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-kick:
		}
		// Settle window: one burst of edits restarts each component once.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}

		mu.Lock()
		names := make([]string, 0, len(pending))
		for n := range pending {
			names = append(names, n)
		}
		pending = make(map[string]struct{})
		mu.Unlock()

		d.restartForConfig(ctx, names)
	}
}

// restartForConfig bounces the named components so they pick up their new
// configuration snapshot at the next step boundary.
func (d *Daemon) restartForConfig(ctx context.Context, names []string) {
	registered := names[:0]
	for _, name := range names {
		if _, err := d.orch.GetState(name); err != nil {
			continue
		}
		slog.Info("restarting component: configuration changed", logfields.Component(name))
		registered = append(registered, name)
	}
	if len(registered) == 0 {
		return
	}
	d.orch.StopComponents(ctx, registered, "configuration changed")
	d.orch.StartComponents(ctx, registered)
}

// componentFromPath extracts the component name from a "components/<name>/…"
// configuration path.
func componentFromPath(path string) string {
	rest := strings.TrimPrefix(path, "components/")
	if rest == path || rest == "" {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}
