package broadcast

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/domain"
)

// RoomIndex maps room names to their local subscribers.
// Lock order is index then registry; registry code never calls back into the index.
type RoomIndex struct {
	mu       sync.RWMutex
	rooms    map[string]map[domain.ConnID]struct{}
	registry *Registry
	metrics  *metrics.RoomMetrics

	// Called outside the index lock.
	onFirstSubscriber func(room string)
	onRoomEmpty       func(room string)
}

// NewRoomIndex creates an empty index over registry. Both hooks and m may be nil.
func NewRoomIndex(registry *Registry, onFirstSubscriber, onRoomEmpty func(room string), m *metrics.RoomMetrics) *RoomIndex {
	return &RoomIndex{
		rooms:             make(map[string]map[domain.ConnID]struct{}),
		registry:          registry,
		metrics:           m,
		onFirstSubscriber: onFirstSubscriber,
		onRoomEmpty:       onRoomEmpty,
	}
}

// Subscribe adds the connection to room. Unknown connections are rejected and nothing changes.
func (ri *RoomIndex) Subscribe(id domain.ConnID, room string) bool {
	ri.mu.Lock()
	if !ri.registry.AddRoom(id, room) {
		ri.mu.Unlock()
		return false
	}

	members, exists := ri.rooms[room]
	if !exists {
		members = make(map[domain.ConnID]struct{})
		ri.rooms[room] = members
	}
	members[id] = struct{}{}
	first := !exists
	ri.mu.Unlock()

	if first {
		if ri.metrics != nil {
			ri.metrics.ActiveRooms.Inc()
		}
		slog.Debug("Room activated", "room", room)
		if ri.onFirstSubscriber != nil {
			ri.onFirstSubscriber(room)
		}
	}
	return true
}

// Unsubscribe removes the connection from room. A no-op if it was not subscribed.
func (ri *RoomIndex) Unsubscribe(id domain.ConnID, room string) {
	ri.mu.Lock()
	ri.registry.RemoveRoom(id, room)
	emptied := ri.removeMemberLocked(id, room)
	ri.mu.Unlock()

	if emptied {
		ri.roomEmptied(room)
	}
}

// RemoveFromAllRooms unsubscribes a still-registered connection from every room it joined.
func (ri *RoomIndex) RemoveFromAllRooms(id domain.ConnID) {
	info, ok := ri.registry.Get(id)
	if !ok {
		return
	}
	for _, room := range info.Rooms {
		ri.Unsubscribe(id, room)
	}
}

// DropConnection releases the memberships of a connection that has already been
// removed from the registry.
func (ri *RoomIndex) DropConnection(id domain.ConnID, rooms []string) {
	var emptied []string

	ri.mu.Lock()
	for _, room := range rooms {
		if ri.removeMemberLocked(id, room) {
			emptied = append(emptied, room)
		}
	}
	ri.mu.Unlock()

	for _, room := range emptied {
		ri.roomEmptied(room)
	}
}

func (ri *RoomIndex) removeMemberLocked(id domain.ConnID, room string) bool {
	members, exists := ri.rooms[room]
	if !exists {
		return false
	}
	if _, member := members[id]; !member {
		return false
	}
	delete(members, id)
	if len(members) > 0 {
		return false
	}
	delete(ri.rooms, room)
	return true
}

func (ri *RoomIndex) roomEmptied(room string) {
	if ri.metrics != nil {
		ri.metrics.ActiveRooms.Dec()
	}
	slog.Debug("Room released", "room", room)
	if ri.onRoomEmpty != nil {
		ri.onRoomEmpty(room)
	}
}

// BroadcastToRoom delivers event to every local subscriber of room and returns how many
// accepted it. Connections that refuse the frame stay registered.
func (ri *RoomIndex) BroadcastToRoom(room string, event json.RawMessage) int {
	ri.mu.RLock()
	members := ri.rooms[room]
	ids := make([]domain.ConnID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	ri.mu.RUnlock()

	if len(ids) == 0 {
		return 0
	}

	frame, err := json.Marshal(domain.EventFrame{Type: domain.FrameEvent, Room: room, Event: event})
	if err != nil {
		slog.Error("Failed to encode event frame", "room", room, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range ids {
		if ri.registry.Send(id, frame) {
			delivered++
		}
	}

	if ri.metrics != nil {
		ri.metrics.Broadcasts.Inc()
		ri.metrics.Recipients.Observe(float64(delivered))
	}
	return delivered
}

// RoomSize returns the number of local subscribers of room.
func (ri *RoomIndex) RoomSize(room string) int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.rooms[room])
}

// RoomCount returns the number of rooms with at least one local subscriber.
func (ri *RoomIndex) RoomCount() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.rooms)
}

// Rooms returns the sorted names of every room with local subscribers.
func (ri *RoomIndex) Rooms() []string {
	ri.mu.RLock()
	names := make([]string, 0, len(ri.rooms))
	for room := range ri.rooms {
		names = append(names, room)
	}
	ri.mu.RUnlock()

	slices.Sort(names)
	return names
}
