package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/edged/internal/model"
)

func change(component string, to model.State) StateChange {
	return StateChange{Component: component, From: model.StateNew, To: to, OccurredAt: time.Now()}
}

func recv(t *testing.T, ch <-chan StateChange) StateChange {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StateChange{}
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(change("a", model.StateInstalled))
	b.Publish(change("a", model.StateStarting))
	b.Publish(change("a", model.StateRunning))

	assert.Equal(t, model.StateInstalled, recv(t, ch).To)
	assert.Equal(t, model.StateStarting, recv(t, ch).To)
	assert.Equal(t, model.StateRunning, recv(t, ch).To)
}

func TestSubscribeComponentFilters(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.SubscribeComponent("db")
	defer cancel()

	b.Publish(change("app", model.StateRunning))
	b.Publish(change("db", model.StateRunning))

	ev := recv(t, ch)
	assert.Equal(t, "db", ev.Component)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected event for %s", extra.Component)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	b.Publish(change("a", model.StateRunning))

	_, open := <-ch
	require.False(t, open, "channel should be closed after cancel")
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()
	_, open := <-ch
	assert.False(t, open)
}
