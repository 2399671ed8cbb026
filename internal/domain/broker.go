package domain

import "context"

// BrokerMessage is one payload received on a subscribed broker channel.
type BrokerMessage struct {
	Channel string
	Payload []byte
}

// Broker is the cross-process publish/subscribe channel. Implementations must accept
// Subscribe and Unsubscribe from multiple goroutines and deliver every message for a
// subscribed channel on Messages until Close.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Messages() <-chan BrokerMessage
	Ping(ctx context.Context) error
	Close() error
}
