package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/activitypulse/internal/domain"
)

var errPeerGone = errors.New("peer gone")

// fakeTransport records every frame written to it. A non-nil block channel stalls
// WriteMessage until it is closed.
type fakeTransport struct {
	mu        sync.Mutex
	messages  [][]byte
	pings     int
	closeCode int
	closeText string
	closed    bool
	pingErr   error
	writeErr  error
	block     chan struct{}
}

func (f *fakeTransport) WriteMessage(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeTransport) WritePing([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeTransport) CloseWithCode(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = code
	f.closeText = reason
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.messages...)
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) closedWith() (int, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeText, f.closed
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// fakeBroker is an in-process broker that loops published messages back to subscribers.
type fakeBroker struct {
	mu           sync.Mutex
	subscribed   map[string]int
	published    []domain.BrokerMessage
	publishErr   error
	subscribeErr error
	messages     chan domain.BrokerMessage
	closed       bool

	// afterPublish runs once the publish returned, outside the lock.
	afterPublish func()
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subscribed: make(map[string]int),
		messages:   make(chan domain.BrokerMessage, 16),
	}
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := b.publish(channel, payload); err != nil {
		return err
	}
	if b.afterPublish != nil {
		b.afterPublish()
	}
	return nil
}

func (b *fakeBroker) publish(channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, domain.BrokerMessage{Channel: channel, Payload: payload})
	if b.subscribed[channel] > 0 {
		b.messages <- domain.BrokerMessage{Channel: channel, Payload: payload}
	}
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	for _, ch := range channels {
		b.subscribed[ch]++
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(_ context.Context, channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		delete(b.subscribed, ch)
	}
	return nil
}

func (b *fakeBroker) Messages() <-chan domain.BrokerMessage { return b.messages }

func (b *fakeBroker) Ping(context.Context) error { return nil }

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) subscriptions(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed[channel]
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// hub wires a registry, a room index and a bridge the way the service does.
type hub struct {
	clock    *clockwork.FakeClock
	registry *Registry
	rooms    *RoomIndex
	bridge   *Bridge
}

func newHub(t *testing.T, broker domain.Broker) *hub {
	t.Helper()

	h := &hub{clock: clockwork.NewFakeClock()}
	h.registry = NewRegistry(h.clock, 0, nil)
	h.rooms = NewRoomIndex(h.registry,
		func(room string) { h.bridge.Subscribe(room) },
		func(room string) { h.bridge.Unsubscribe(room) },
		nil)
	h.bridge = NewBridge(broker, h.rooms, nil)
	return h
}
