package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/activitypulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const messageBuffer = 256

// Broker implements domain.Broker on Redis Pub/Sub. Publishing shares the pooled client;
// all subscriptions live on one dedicated PubSub connection.
type Broker struct {
	rdb *goredis.Client
	sub *goredis.PubSub

	messages  chan domain.BrokerMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ domain.Broker = (*Broker)(nil)

// NewBroker takes ownership of rdb and closes it on Close.
func NewBroker(ctx context.Context, rdb *goredis.Client) *Broker {
	b := &Broker{
		rdb:      rdb,
		sub:      rdb.Subscribe(ctx),
		messages: make(chan domain.BrokerMessage, messageBuffer),
		done:     make(chan struct{}),
	}

	b.wg.Add(1)
	go b.forward()
	return b
}

func (b *Broker) forward() {
	defer b.wg.Done()
	defer close(b.messages)

	ch := b.sub.Channel(goredis.WithChannelSize(messageBuffer))
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case b.messages <- domain.BrokerMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-b.done:
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) error {
	if err := b.sub.Subscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := b.sub.Unsubscribe(ctx, channels...); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (b *Broker) Messages() <-chan domain.BrokerMessage {
	return b.messages
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close tears down the subscription connection and the pool.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		subErr := b.sub.Close()
		b.wg.Wait()
		rdbErr := b.rdb.Close()
		if subErr != nil {
			err = fmt.Errorf("failed to close subscription: %w", subErr)
		} else if rdbErr != nil {
			err = fmt.Errorf("failed to close client: %w", rdbErr)
		}
	})
	return err
}
