package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pscheid92/activitypulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushEvent(room string) domain.ActivityEvent {
	return domain.ActivityEvent{Type: "push", Room: room, Event: json.RawMessage(`{"kind":"push"}`)}
}

func TestDispatch_RejectsInvalidRoom(t *testing.T) {
	h := newHub(t, NoopBroker{})
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	for _, room := range []string{"", " padded", string(make([]byte, domain.MaxRoomLength+1))} {
		_, err := dispatcher.Dispatch(context.Background(), pushEvent(room))
		assert.ErrorIs(t, err, domain.ErrInvalidRoom, "room %q", room)
	}
}

func TestDispatch_LocalModeWithoutBroker(t *testing.T) {
	h := newHub(t, NoopBroker{})
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	result, err := dispatcher.Dispatch(context.Background(), pushEvent("team:42"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchResult{Mode: domain.DispatchModeLocal, Delivered: 1}, result)

	assert.Eventually(t, func() bool { return len(transport.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_FallsBackOnPublishError(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errPeerGone
	h := newHub(t, broker)
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	result, err := dispatcher.Dispatch(context.Background(), pushEvent("team:42"))
	require.NoError(t, err, "broker failures never reach producers")
	assert.Equal(t, domain.DispatchModeLocal, result.Mode)
	assert.Equal(t, 1, result.Delivered)
}

func TestDispatch_BrokerModeDeliversOnce(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.bridge.Start(ctx)

	result, err := dispatcher.Dispatch(ctx, pushEvent("team:42"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchResult{Mode: domain.DispatchModeBroker}, result)
	assert.Equal(t, 1, broker.publishCount())

	assert.Eventually(t, func() bool { return len(transport.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, transport.received(), 1, "broker echo is the only delivery")
}

func TestDispatch_DeliversLocallyWhenBrokerSubscriptionMissing(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errPeerGone
	h := newHub(t, broker)
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	result, err := dispatcher.Dispatch(context.Background(), pushEvent("team:42"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchModeBroker, result.Mode)

	assert.Eventually(t, func() bool { return len(transport.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_SubscriptionLandingDuringPublishStillDelivers(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errPeerGone
	h := newHub(t, broker)
	dispatcher := NewDispatcher(h.bridge, h.rooms, nil)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")
	require.False(t, h.bridge.IsSubscribed("team:42"))

	// The broker recovers right after the publish, too late to echo it back.
	broker.afterPublish = func() {
		broker.mu.Lock()
		broker.subscribeErr = nil
		broker.mu.Unlock()
		h.bridge.Resync()
	}

	result, err := dispatcher.Dispatch(context.Background(), pushEvent("team:42"))
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchModeBroker, result.Mode)
	assert.True(t, h.bridge.IsSubscribed("team:42"))

	assert.Eventually(t, func() bool { return len(transport.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
