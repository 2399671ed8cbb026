// Package memory provides an in-process domain.Broker. Brokers created from the same Bus
// behave like separate processes sharing one pub/sub server.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pscheid92/activitypulse/internal/domain"
)

const messageBuffer = 256

var (
	ErrClosed      = errors.New("broker closed")
	ErrUnreachable = errors.New("bus unreachable")
)

// Bus routes published messages to every attached broker subscribed to the channel.
type Bus struct {
	mu      sync.RWMutex
	brokers map[*Broker]struct{}
	down    bool
}

func NewBus() *Bus {
	return &Bus{brokers: make(map[*Broker]struct{})}
}

// SetDown makes every broker on the bus fail as if the server were unreachable.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *Bus) isDown() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.down
}

// NewBroker attaches a new broker to the bus.
func (b *Bus) NewBroker() *Broker {
	broker := &Broker{
		bus:      b,
		channels: make(map[string]struct{}),
		messages: make(chan domain.BrokerMessage, messageBuffer),
	}

	b.mu.Lock()
	b.brokers[broker] = struct{}{}
	b.mu.Unlock()
	return broker
}

func (b *Bus) publish(msg domain.BrokerMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for broker := range b.brokers {
		broker.deliver(msg)
	}
}

func (b *Bus) detach(broker *Broker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.brokers, broker)
}

// Broker is one process's view of a Bus.
type Broker struct {
	bus *Bus

	mu       sync.RWMutex
	channels map[string]struct{}
	closed   bool

	messages  chan domain.BrokerMessage
	closeOnce sync.Once
}

var _ domain.Broker = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	b.bus.publish(domain.BrokerMessage{Channel: channel, Payload: append([]byte(nil), payload...)})
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		b.channels[ch] = struct{}{}
	}
	return nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		delete(b.channels, ch)
	}
	return nil
}

func (b *Broker) Messages() <-chan domain.BrokerMessage {
	return b.messages
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.check(ctx)
}

// Close detaches the broker and closes its message stream.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.bus.detach(b)

		b.mu.Lock()
		b.closed = true
		close(b.messages)
		b.mu.Unlock()
	})
	return nil
}

// Subscribed reports whether the broker currently receives channel.
func (b *Broker) Subscribed(channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.channels[channel]
	return ok
}

func (b *Broker) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if b.bus.isDown() {
		return ErrUnreachable
	}
	return nil
}

func (b *Broker) deliver(msg domain.BrokerMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if _, ok := b.channels[msg.Channel]; !ok {
		return
	}

	select {
	case b.messages <- msg:
	default:
		slog.Warn("Dropping broker message for slow subscriber", "channel", msg.Channel)
	}
}
