package broadcast

import (
	"context"

	"github.com/pscheid92/activitypulse/internal/domain"
)

// NoopBroker stands in when no broker is reachable. Publishing reports ErrBrokerDisabled so
// callers fall back to local delivery.
type NoopBroker struct{}

var _ domain.Broker = NoopBroker{}

func (NoopBroker) Publish(context.Context, string, []byte) error { return domain.ErrBrokerDisabled }
func (NoopBroker) Subscribe(context.Context, ...string) error    { return nil }
func (NoopBroker) Unsubscribe(context.Context, ...string) error  { return nil }
func (NoopBroker) Messages() <-chan domain.BrokerMessage         { return nil }
func (NoopBroker) Ping(context.Context) error                    { return nil }
func (NoopBroker) Close() error                                  { return nil }
