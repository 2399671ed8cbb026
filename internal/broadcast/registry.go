package broadcast

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/domain"
)

type connection struct {
	info   domain.ConnectionInfo
	rooms  map[string]struct{}
	writer *clientWriter
}

func (c *connection) snapshot() domain.ConnectionInfo {
	info := c.info
	info.Rooms = make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		info.Rooms = append(info.Rooms, room)
	}
	slices.Sort(info.Rooms)
	return info
}

// Registry is the authoritative store of live connections.
// Every method tolerates unknown IDs: disconnects race with in-flight work routinely.
type Registry struct {
	mu             sync.RWMutex
	connections    map[domain.ConnID]*connection
	clock          clockwork.Clock
	bufferMessages int
	metrics        *metrics.ConnectionMetrics
}

// NewRegistry creates an empty registry.
// bufferMessages sets the per-connection backpressure budget (DefaultSendBufferMessages if <= 0).
// m may be nil.
func NewRegistry(clock clockwork.Clock, bufferMessages int, m *metrics.ConnectionMetrics) *Registry {
	if bufferMessages <= 0 {
		bufferMessages = DefaultSendBufferMessages
	}
	return &Registry{
		connections:    make(map[domain.ConnID]*connection),
		clock:          clock,
		bufferMessages: bufferMessages,
		metrics:        m,
	}
}

// Add registers transport under a fresh ID and starts its writer.
func (r *Registry) Add(transport Transport, userID, teamID string) domain.ConnID {
	now := r.clock.Now()
	conn := &connection{
		info: domain.ConnectionInfo{
			ID:             uuid.New(),
			UserID:         userID,
			TeamID:         teamID,
			ConnectedAt:    now,
			LastLivenessAt: now,
		},
		rooms:  make(map[string]struct{}),
		writer: newClientWriter(transport, r.bufferMessages),
	}

	r.mu.Lock()
	r.connections[conn.info.ID] = conn
	total := len(r.connections)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
	slog.Debug("Connection registered", "conn_id", conn.info.ID.String(), "user_id", userID, "team_id", teamID, "total_connections", total)
	return conn.info.ID
}

// Remove deregisters the connection, stops its writer and closes its transport.
// The returned metadata lets the caller clean up room memberships.
func (r *Registry) Remove(id domain.ConnID) (domain.ConnectionInfo, bool) {
	r.mu.Lock()
	conn, exists := r.connections[id]
	if !exists {
		r.mu.Unlock()
		return domain.ConnectionInfo{}, false
	}
	delete(r.connections, id)
	info := conn.snapshot()
	r.mu.Unlock()

	conn.writer.stop()

	if r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
	slog.Debug("Connection removed", "conn_id", id.String(), "user_id", info.UserID, "rooms", len(info.Rooms))
	return info, true
}

// Get returns a copy of the connection's metadata.
func (r *Registry) Get(id domain.ConnID) (domain.ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	if !exists {
		return domain.ConnectionInfo{}, false
	}
	return conn.snapshot(), true
}

// RecordLiveness marks the connection as responsive now. Timestamps never move backwards.
func (r *Registry) RecordLiveness(id domain.ConnID) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[id]
	if !exists {
		return
	}
	if now.After(conn.info.LastLivenessAt) {
		conn.info.LastLivenessAt = now
	}
}

// AddRoom records room in the connection's own room set. It reports false for unknown connections.
func (r *Registry) AddRoom(id domain.ConnID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[id]
	if !exists {
		return false
	}
	conn.rooms[room] = struct{}{}
	return true
}

// RemoveRoom drops room from the connection's own room set.
func (r *Registry) RemoveRoom(id domain.ConnID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, exists := r.connections[id]; exists {
		delete(conn.rooms, room)
	}
}

// Send queues message for delivery and reports whether it was accepted.
// It never blocks: a closed transport or a buffer above the backpressure budget drops the message.
func (r *Registry) Send(id domain.ConnID, message []byte) bool {
	r.mu.RLock()
	conn, exists := r.connections[id]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	switch conn.writer.trySend(message) {
	case sendQueued:
		if r.metrics != nil {
			r.metrics.MessagesSent.Inc()
		}
		return true
	case sendBackpressure:
		if r.metrics != nil {
			r.metrics.MessagesDropped.WithLabelValues("backpressure").Inc()
		}
		slog.Debug("Dropping frame for slow client", "conn_id", id.String(), "buffered_bytes", conn.writer.buffered())
		return false
	default:
		if r.metrics != nil {
			r.metrics.MessagesDropped.WithLabelValues("closed").Inc()
		}
		return false
	}
}

// Ping writes a heartbeat ping frame to the connection.
func (r *Registry) Ping(id domain.ConnID) error {
	r.mu.RLock()
	conn, exists := r.connections[id]
	r.mu.RUnlock()
	if !exists {
		return domain.ErrConnectionNotFound
	}
	return conn.writer.ping()
}

// Close ends the connection's transport with a close frame. The connection stays registered.
func (r *Registry) Close(id domain.ConnID, code int, reason string) {
	r.mu.RLock()
	conn, exists := r.connections[id]
	r.mu.RUnlock()
	if !exists {
		return
	}
	conn.writer.terminate(code, reason)
}

// IsOpen reports whether the connection is registered and its transport still accepts frames.
func (r *Registry) IsOpen(id domain.ConnID) bool {
	r.mu.RLock()
	conn, exists := r.connections[id]
	r.mu.RUnlock()
	return exists && conn.writer.isOpen()
}

// Snapshot returns the metadata of every registered connection.
func (r *Registry) Snapshot() []domain.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]domain.ConnectionInfo, 0, len(r.connections))
	for _, conn := range r.connections {
		infos = append(infos, conn.snapshot())
	}
	return infos
}

// IDs returns the IDs of every registered connection.
func (r *Registry) IDs() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ConnID, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

// Size returns the number of registered connections.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
