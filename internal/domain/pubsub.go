package domain

import "context"

// Dispatch modes reported back to producers.
const (
	DispatchModeBroker = "broker"
	DispatchModeLocal  = "local"
)

// DispatchResult describes how one event left this process.
// Delivered counts local recipients and is zero when the broker carried the event.
type DispatchResult struct {
	Mode      string `json:"mode"`
	Delivered int    `json:"delivered"`
}

// EventDispatcher is the ingestion point producers use to broadcast into a room.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event ActivityEvent) (DispatchResult, error)
}
