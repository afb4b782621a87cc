package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/edged/internal/logfields"
)

// NATSPublisher forwards global state changes to an external NATS subject so
// fleet tooling off the device can follow rollout progress. It is optional:
// a nil publisher is a no-op.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("edged"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, subjectPrefix: subjectPrefix}, nil
}

// Run pumps events from ch to NATS until ch closes or ctx is done.
func (p *NATSPublisher) Run(ctx context.Context, ch <-chan StateChange) {
	if p == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.publish(ev)
		}
	}
}

func (p *NATSPublisher) publish(ev StateChange) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal state event", logfields.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, ev.Component)
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("publish state event to nats",
			logfields.Component(ev.Component), logfields.Error(err))
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
