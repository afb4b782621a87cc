package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/edged/internal/logfields"
)

// pumpJournal appends every state change to the sqlite journal, keyed by the
// deployment being activated at the time (empty outside activations).
func (d *Daemon) pumpJournal(ctx context.Context) error {
	ch, cancel := d.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := d.journal.Append(ctx, d.tracker.CurrentID(), ev); err != nil {
				slog.Warn("journaling state change",
					logfields.Component(ev.Component), logfields.Error(err))
			}
		}
	}
}

// pumpMetrics counts state transitions.
func (d *Daemon) pumpMetrics(ctx context.Context) error {
	ch, cancel := d.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			d.metrics.Transition(ev.Component, ev.To)
		}
	}
}
