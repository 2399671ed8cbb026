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

func TestBridge_DisabledWithNoopBroker(t *testing.T) {
	h := newHub(t, NoopBroker{})

	assert.False(t, h.bridge.Enabled())
	err := h.bridge.Publish(context.Background(), domain.ActivityEvent{Room: "team:42", Event: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrBrokerDisabled)
	assert.ErrorIs(t, h.bridge.Ping(context.Background()), domain.ErrBrokerDisabled)

	// Returns immediately.
	h.bridge.Start(context.Background())
}

func TestBridge_SubscriptionFollowsRoomIndex(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)
	require.True(t, h.bridge.Enabled())

	a := h.registry.Add(&fakeTransport{}, "user-a", "")
	b := h.registry.Add(&fakeTransport{}, "user-b", "")
	t.Cleanup(func() {
		h.registry.Remove(a)
		h.registry.Remove(b)
	})

	h.rooms.Subscribe(a, "team:42")
	h.rooms.Subscribe(b, "team:42")
	assert.Equal(t, 1, broker.subscriptions("ws:team:42"), "one broker subscription per room")
	assert.True(t, h.bridge.IsSubscribed("team:42"))

	h.rooms.Unsubscribe(a, "team:42")
	assert.Equal(t, 1, broker.subscriptions("ws:team:42"))

	h.rooms.Unsubscribe(b, "team:42")
	assert.Equal(t, 0, broker.subscriptions("ws:team:42"))
	assert.False(t, h.bridge.IsSubscribed("team:42"))
}

func TestBridge_SubscribeFailureKeepsLocalMembership(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errPeerGone
	h := newHub(t, broker)

	a := h.registry.Add(&fakeTransport{}, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(a) })

	assert.True(t, h.rooms.Subscribe(a, "team:42"))
	assert.Equal(t, 1, h.rooms.RoomSize("team:42"))
	assert.False(t, h.bridge.IsSubscribed("team:42"))
}

func TestBridge_ResyncRetriesFailedSubscribe(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errPeerGone
	h := newHub(t, broker)

	a := h.registry.Add(&fakeTransport{}, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(a) })
	require.True(t, h.rooms.Subscribe(a, "team:42"))
	require.False(t, h.bridge.IsSubscribed("team:42"))

	h.bridge.Resync()
	assert.False(t, h.bridge.IsSubscribed("team:42"), "still failing while the broker is down")

	broker.mu.Lock()
	broker.subscribeErr = nil
	broker.mu.Unlock()

	h.bridge.Resync()
	assert.True(t, h.bridge.IsSubscribed("team:42"))
	assert.Equal(t, 1, broker.subscriptions("ws:team:42"))

	h.bridge.Resync()
	assert.Equal(t, 1, broker.subscriptions("ws:team:42"), "resync is idempotent")
}

func TestBridge_ResyncReleasesEmptyRooms(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)

	a := h.registry.Add(&fakeTransport{}, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(a) })
	require.True(t, h.rooms.Subscribe(a, "team:42"))
	require.True(t, h.bridge.IsSubscribed("team:42"))

	// Drop the membership behind the bridge's back, as if the unsubscribe hook never ran.
	h.registry.Remove(a)
	h.rooms.mu.Lock()
	delete(h.rooms.rooms, "team:42")
	h.rooms.mu.Unlock()

	h.bridge.Resync()
	assert.False(t, h.bridge.IsSubscribed("team:42"))
	assert.Equal(t, 0, broker.subscriptions("ws:team:42"))
}

func TestBridge_DeliversBrokerMessages(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.bridge.Start(ctx)

	err := h.bridge.Publish(ctx, domain.ActivityEvent{Type: "push", Room: "team:42", Event: json.RawMessage(`{"kind":"push"}`)})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(transport.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"event","room":"team:42","event":{"kind":"push"}}`, string(transport.received()[0]))
}

func TestBridge_DropsMalformedMessages(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)

	transport := &fakeTransport{}
	id := h.registry.Add(transport, "user-a", "")
	t.Cleanup(func() { h.registry.Remove(id) })
	h.rooms.Subscribe(id, "team:42")

	tests := []struct {
		name string
		msg  domain.BrokerMessage
	}{
		{"invalid json", domain.BrokerMessage{Channel: "ws:team:42", Payload: []byte("{not json")}},
		{"missing event", domain.BrokerMessage{Channel: "ws:team:42", Payload: []byte(`{"type":"push","room":"team:42"}`)}},
		{"foreign channel", domain.BrokerMessage{Channel: "other:team:42", Payload: []byte(`{"event":{}}`)}},
		{"empty room", domain.BrokerMessage{Channel: "ws:", Payload: []byte(`{"event":{}}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() { h.bridge.handleMessage(tt.msg) })
		})
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, transport.received())
}

func TestBridge_ChannelRoomIsAuthoritative(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)

	in42 := &fakeTransport{}
	in99 := &fakeTransport{}
	id42 := h.registry.Add(in42, "user-a", "")
	id99 := h.registry.Add(in99, "user-b", "")
	t.Cleanup(func() {
		h.registry.Remove(id42)
		h.registry.Remove(id99)
	})
	h.rooms.Subscribe(id42, "team:42")
	h.rooms.Subscribe(id99, "team:99")

	h.bridge.handleMessage(domain.BrokerMessage{
		Channel: "ws:team:42",
		Payload: []byte(`{"type":"push","room":"team:99","event":{"n":1}}`),
	})

	assert.Eventually(t, func() bool { return len(in42.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, in99.received())
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	broker := newFakeBroker()
	h := newHub(t, broker)

	h.bridge.Close()
	h.bridge.Close()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.True(t, broker.closed)
}
