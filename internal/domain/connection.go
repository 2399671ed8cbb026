package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnID identifies one registration of a transport. It is never reused.
type ConnID = uuid.UUID

// Identity is the verified caller of a connection, resolved by the upstream gateway.
type Identity struct {
	UserID string
	TeamID string
}

// Close codes sent when the server ends a connection.
const (
	CloseServerShutdown   = 1001
	CloseHeartbeatTimeout = 4000
)

// ConnectionInfo is a point-in-time copy of a registered connection's metadata.
type ConnectionInfo struct {
	ID             ConnID
	UserID         string
	TeamID         string
	ConnectedAt    time.Time
	LastLivenessAt time.Time
	Rooms          []string
}

// HasRoom reports whether the connection is subscribed to room.
func (c ConnectionInfo) HasRoom(room string) bool {
	for _, r := range c.Rooms {
		if r == room {
			return true
		}
	}
	return false
}
