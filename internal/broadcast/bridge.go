package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/domain"
)

const brokerCallTimeout = 2 * time.Second

// Bridge keeps the broker's channel subscriptions in step with the local room index and
// feeds broker traffic back into local broadcasts.
type Bridge struct {
	broker  domain.Broker
	rooms   *RoomIndex
	enabled bool
	metrics *metrics.BrokerMetrics

	mu         sync.Mutex
	subscribed map[string]struct{}

	closeOnce sync.Once
}

// NewBridge wires broker to rooms. A NoopBroker disables cross-process fan-out for the
// lifetime of the bridge. m may be nil.
func NewBridge(broker domain.Broker, rooms *RoomIndex, m *metrics.BrokerMetrics) *Bridge {
	_, noop := broker.(NoopBroker)
	b := &Bridge{
		broker:     broker,
		rooms:      rooms,
		enabled:    !noop,
		metrics:    m,
		subscribed: make(map[string]struct{}),
	}

	if m != nil {
		if b.enabled {
			m.Enabled.Set(1)
		} else {
			m.Enabled.Set(0)
		}
	}
	return b
}

// Enabled reports whether events travel through the broker.
func (b *Bridge) Enabled() bool {
	return b.enabled
}

// Subscribe makes sure the broker delivers room's channel while the room has local subscribers.
func (b *Bridge) Subscribe(room string) {
	b.reconcile(room)
}

// Unsubscribe releases room's channel once the room has no local subscribers left.
func (b *Bridge) Unsubscribe(room string) {
	b.reconcile(room)
}

// Resync reconciles every room that has local subscribers or a broker subscription. It retries
// subscribes that failed while the broker was unreachable.
func (b *Bridge) Resync() {
	if !b.enabled {
		return
	}

	rooms := b.rooms.Rooms()
	b.mu.Lock()
	for room := range b.subscribed {
		rooms = append(rooms, room)
	}
	b.mu.Unlock()

	seen := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		if _, dup := seen[room]; dup {
			continue
		}
		seen[room] = struct{}{}
		b.reconcile(room)
	}
}

func (b *Bridge) reconcile(room string) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, subscribed := b.subscribed[room]
	wanted := b.rooms.RoomSize(room) > 0
	channel := domain.ChannelForRoom(room)

	ctx, cancel := context.WithTimeout(context.Background(), brokerCallTimeout)
	defer cancel()

	switch {
	case wanted && !subscribed:
		if err := b.broker.Subscribe(ctx, channel); err != nil {
			b.subscribeFailed("subscribe", room, err)
			return
		}
		b.subscribed[room] = struct{}{}
		slog.Debug("Subscribed to broker channel", "channel", channel)
	case !wanted && subscribed:
		if err := b.broker.Unsubscribe(ctx, channel); err != nil {
			b.subscribeFailed("unsubscribe", room, err)
		}
		// Dropped either way: a stale broker subscription only costs filtered traffic.
		delete(b.subscribed, room)
		slog.Debug("Unsubscribed from broker channel", "channel", channel)
	default:
		return
	}

	if b.metrics != nil {
		b.metrics.Subscriptions.Set(float64(len(b.subscribed)))
	}
}

func (b *Bridge) subscribeFailed(op, room string, err error) {
	if b.metrics != nil {
		b.metrics.SubscribeErrors.Inc()
	}
	slog.Warn("Broker "+op+" failed", "room", room, "error", err)
}

// IsSubscribed reports whether the broker currently delivers room's channel to this process.
func (b *Bridge) IsSubscribed(room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subscribed[room]
	return ok
}

// Start consumes broker messages until ctx is cancelled or the broker closes its stream.
// It returns immediately when the bridge is disabled.
func (b *Bridge) Start(ctx context.Context) {
	if !b.enabled {
		return
	}

	messages := b.broker.Messages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				slog.Info("Broker message stream closed")
				return
			}
			b.handleMessage(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleMessage(msg domain.BrokerMessage) {
	room, ok := domain.RoomFromChannel(msg.Channel)
	if !ok {
		b.malformed(msg.Channel, errors.New("unexpected channel"))
		return
	}

	var event domain.ActivityEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		b.malformed(msg.Channel, err)
		return
	}
	if len(event.Event) == 0 {
		b.malformed(msg.Channel, errors.New("missing event payload"))
		return
	}

	if b.metrics != nil {
		b.metrics.Received.Inc()
	}
	b.rooms.BroadcastToRoom(room, event.Event)
}

func (b *Bridge) malformed(channel string, err error) {
	if b.metrics != nil {
		b.metrics.Malformed.Inc()
	}
	slog.Warn("Dropping malformed broker message", "channel", channel, "error", err)
}

// Publish sends event to every process subscribed to its room, this one included.
func (b *Bridge) Publish(ctx context.Context, event domain.ActivityEvent) error {
	if !b.enabled {
		return domain.ErrBrokerDisabled
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()

	if err := b.broker.Publish(ctx, domain.ChannelForRoom(event.Room), payload); err != nil {
		b.published("error")
		return fmt.Errorf("publish to %s: %w", event.Room, err)
	}
	b.published("ok")
	return nil
}

func (b *Bridge) published(result string) {
	if b.metrics != nil {
		b.metrics.Published.WithLabelValues(result).Inc()
	}
}

// Ping checks broker reachability. A disabled bridge reports ErrBrokerDisabled.
func (b *Bridge) Ping(ctx context.Context) error {
	if !b.enabled {
		return domain.ErrBrokerDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()
	return b.broker.Ping(ctx)
}

// Close releases the broker. Errors are logged, never returned.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		if err := b.broker.Close(); err != nil {
			slog.Warn("Failed to close broker", "error", err)
		}
	})
}
