// Package events carries component state-change notifications between the
// lifecycle layer and its observers. Coordination across instances happens
// exclusively through this bus: dependents re-evaluate their gating condition
// on receipt, never by calling into another instance.
package events

import (
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/edged/internal/logfields"
	"git.home.luguber.info/inful/edged/internal/model"
)

// StateChange is published for every accepted lifecycle transition.
type StateChange struct {
	Component  string      `json:"component"`
	Version    string      `json:"version"`
	From       model.State `json:"from"`
	To         model.State `json:"to"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

const defaultBuffer = 256

type subscriber struct {
	ch        chan StateChange
	component string // empty = global
}

// Bus fans state changes out to global and per-component subscribers.
// Publish never blocks a transition: a subscriber that falls behind its
// buffer loses events and a warning is logged.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	buffer int
	closed bool
}

// NewBus creates a bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return &Bus{buffer: defaultBuffer}
}

// Subscribe registers a global subscriber. The returned cancel function must
// be called to release the subscription.
func (b *Bus) Subscribe() (<-chan StateChange, func()) {
	return b.subscribe("")
}

// SubscribeComponent registers a subscriber for a single component's events.
func (b *Bus) SubscribeComponent(name string) (<-chan StateChange, func()) {
	return b.subscribe(name)
}

func (b *Bus) subscribe(component string) (<-chan StateChange, func()) {
	sub := &subscriber{ch: make(chan StateChange, b.buffer), component: component}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber. Events for a single
// component keep transition order because each instance publishes from its
// own step goroutine, one step in flight at a time.
func (b *Bus) Publish(ev StateChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.component != "" && sub.component != ev.Component {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("dropping state event for slow subscriber",
				logfields.Component(ev.Component),
				logfields.NewState(string(ev.To)))
		}
	}
}

// Close stops delivery and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
