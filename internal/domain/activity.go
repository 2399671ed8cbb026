package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelPrefix is prepended to a room name to form its broker channel.
const ChannelPrefix = "ws:"

// MaxRoomLength bounds room names accepted from clients and producers.
const MaxRoomLength = 200

// Frame types exchanged with clients.
const (
	FrameEvent        = "event"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// PingPayload is carried by every heartbeat ping frame.
var PingPayload = []byte(`{"type":"ping"}`)

// ActivityEvent is one unit of domain activity routed to a room.
// Event is opaque to the fan-out core and forwarded byte for byte.
type ActivityEvent struct {
	Type  string          `json:"type"`
	Room  string          `json:"room"`
	Event json.RawMessage `json:"event"`
}

// EventFrame is the envelope written to subscribed clients.
type EventFrame struct {
	Type  string          `json:"type"`
	Room  string          `json:"room"`
	Event json.RawMessage `json:"event"`
}

// ControlFrame covers every client-bound or client-originated frame that is not an event.
type ControlFrame struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Error string `json:"error,omitempty"`
}

// ChannelForRoom returns the broker channel carrying a room's events.
func ChannelForRoom(room string) string {
	return ChannelPrefix + room
}

// RoomFromChannel strips the channel prefix. ok is false for foreign channels.
func RoomFromChannel(channel string) (string, bool) {
	room, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

// ValidateRoom rejects empty, oversized, or whitespace-padded room names.
func ValidateRoom(room string) error {
	if room == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoom)
	}
	if len(room) > MaxRoomLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidRoom, MaxRoomLength)
	}
	if strings.TrimSpace(room) != room {
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidRoom)
	}
	return nil
}
