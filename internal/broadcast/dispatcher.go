package broadcast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/domain"
)

// Dispatcher is the single entry point producers use to broadcast activity into a room.
type Dispatcher struct {
	bridge  *Bridge
	rooms   *RoomIndex
	metrics *metrics.RoomMetrics
}

var _ domain.EventDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(bridge *Bridge, rooms *RoomIndex, m *metrics.RoomMetrics) *Dispatcher {
	return &Dispatcher{bridge: bridge, rooms: rooms, metrics: m}
}

// Dispatch routes event through the broker, falling back to local delivery when the broker
// is disabled or fails. The only error it returns is an invalid room.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.ActivityEvent) (domain.DispatchResult, error) {
	if err := domain.ValidateRoom(event.Room); err != nil {
		return domain.DispatchResult{}, err
	}

	// Read before publishing: a subscription that lands after the publish would miss the echo.
	echoed := d.bridge.IsSubscribed(event.Room)

	err := d.bridge.Publish(ctx, event)
	switch {
	case err == nil:
		if !echoed && d.rooms.RoomSize(event.Room) > 0 {
			d.rooms.BroadcastToRoom(event.Room, event.Event)
		}
		d.count(domain.DispatchModeBroker)
		return domain.DispatchResult{Mode: domain.DispatchModeBroker}, nil
	case errors.Is(err, domain.ErrBrokerDisabled):
	default:
		slog.Warn("Broker publish failed, delivering locally", "room", event.Room, "error", err)
	}

	delivered := d.rooms.BroadcastToRoom(event.Room, event.Event)
	d.count(domain.DispatchModeLocal)
	return domain.DispatchResult{Mode: domain.DispatchModeLocal, Delivered: delivered}, nil
}

func (d *Dispatcher) count(mode string) {
	if d.metrics != nil {
		d.metrics.Dispatches.WithLabelValues(mode).Inc()
	}
}
