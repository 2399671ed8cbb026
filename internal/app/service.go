package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/broadcast"
	"github.com/pscheid92/activitypulse/internal/domain"
)

const defaultResyncInterval = 5 * time.Second

type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	SendBufferMessages int
	// ResyncInterval paces the retry of broker subscriptions lost to an outage.
	ResyncInterval time.Duration
}

// Stats is a point-in-time view of this process.
type Stats struct {
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	BrokerMode  string `json:"broker_mode"`
}

// Service is the application layer over the fan-out core.
type Service struct {
	registry   *broadcast.Registry
	rooms      *broadcast.RoomIndex
	bridge     *broadcast.Bridge
	monitor    *broadcast.HeartbeatMonitor
	dispatcher *broadcast.Dispatcher

	clock          clockwork.Clock
	resyncInterval time.Duration

	mu           sync.Mutex
	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}
	stopOnce     sync.Once
}

// NewService wires the core around broker. Pass broadcast.NoopBroker{} to run local-only.
// m may be nil.
func NewService(broker domain.Broker, clock clockwork.Clock, cfg Config, m *metrics.Set) *Service {
	if m == nil {
		m = &metrics.Set{}
	}

	s := &Service{clock: clock, resyncInterval: cfg.ResyncInterval}
	if s.resyncInterval <= 0 {
		s.resyncInterval = defaultResyncInterval
	}
	s.registry = broadcast.NewRegistry(clock, cfg.SendBufferMessages, m.Connections)
	s.rooms = broadcast.NewRoomIndex(s.registry,
		func(room string) { s.bridge.Subscribe(room) },
		func(room string) { s.bridge.Unsubscribe(room) },
		m.Rooms)
	s.bridge = broadcast.NewBridge(broker, s.rooms, m.Broker)
	s.monitor = broadcast.NewHeartbeatMonitor(s.registry, s.releaseRooms, clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, m.Connections)
	s.dispatcher = broadcast.NewDispatcher(s.bridge, s.rooms, m.Rooms)
	return s
}

// Start launches the heartbeat monitor and the broker listener.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bridgeCancel != nil {
		return
	}

	s.monitor.Start(ctx)

	bridgeCtx, cancel := context.WithCancel(ctx)
	s.bridgeCancel = cancel
	s.bridgeDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.resyncLoop(bridgeCtx)
		}()
		s.bridge.Start(bridgeCtx)
		wg.Wait()
	}(s.bridgeDone)

	slog.Info("Fan-out service started", "broker_mode", s.brokerMode())
}

func (s *Service) resyncLoop(ctx context.Context) {
	if !s.bridge.Enabled() {
		return
	}

	ticker := s.clock.NewTicker(s.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.bridge.Resync()
		}
	}
}

// Stop closes every connection, then releases the broker. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.monitor.Stop()

		s.mu.Lock()
		cancel, done := s.bridgeCancel, s.bridgeDone
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		s.bridge.Close()
		slog.Info("Fan-out service stopped")
	})
}

// Connect registers an upgraded client connection.
func (s *Service) Connect(ctx context.Context, transport broadcast.Transport, identity domain.Identity) domain.ConnID {
	id := s.registry.Add(transport, identity.UserID, identity.TeamID)
	slog.InfoContext(ctx, "Client connected", "conn_id", id.String(), "user_id", identity.UserID, "team_id", identity.TeamID)
	return id
}

// Disconnect deregisters a connection and releases its rooms. Idempotent.
func (s *Service) Disconnect(id domain.ConnID) {
	info, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	s.rooms.DropConnection(id, info.Rooms)
	slog.Info("Client disconnected", "conn_id", id.String(), "user_id", info.UserID, "rooms", len(info.Rooms))
}

func (s *Service) releaseRooms(info domain.ConnectionInfo) {
	s.rooms.DropConnection(info.ID, info.Rooms)
}

// Subscribe joins a connection to room.
func (s *Service) Subscribe(id domain.ConnID, room string) error {
	if err := domain.ValidateRoom(room); err != nil {
		return err
	}
	if !s.rooms.Subscribe(id, room) {
		return domain.ErrConnectionNotFound
	}
	// A joiner also retries a broker subscription that an earlier outage left missing.
	if s.bridge.Enabled() && !s.bridge.IsSubscribed(room) {
		s.bridge.Subscribe(room)
	}
	return nil
}

// Unsubscribe removes a connection from room. Leaving a room never joined is not an error.
func (s *Service) Unsubscribe(id domain.ConnID, room string) error {
	if err := domain.ValidateRoom(room); err != nil {
		return err
	}
	s.rooms.Unsubscribe(id, room)
	return nil
}

func (s *Service) RecordLiveness(id domain.ConnID) {
	s.registry.RecordLiveness(id)
}

// Send queues a frame for one connection. See broadcast.Registry.Send.
func (s *Service) Send(id domain.ConnID, frame []byte) bool {
	return s.registry.Send(id, frame)
}

// Dispatch is the producer entry point.
func (s *Service) Dispatch(ctx context.Context, event domain.ActivityEvent) (domain.DispatchResult, error) {
	return s.dispatcher.Dispatch(ctx, event)
}

// RoomSize returns the number of local subscribers of room.
func (s *Service) RoomSize(room string) int {
	return s.rooms.RoomSize(room)
}

func (s *Service) Stats() Stats {
	return Stats{
		Connections: s.registry.Size(),
		Rooms:       s.rooms.RoomCount(),
		BrokerMode:  s.brokerMode(),
	}
}

// Ready reports whether the broker answers. A service running local-only is always ready.
func (s *Service) Ready(ctx context.Context) error {
	if !s.bridge.Enabled() {
		return nil
	}
	return s.bridge.Ping(ctx)
}

func (s *Service) brokerMode() string {
	if s.bridge.Enabled() {
		return domain.DispatchModeBroker
	}
	return domain.DispatchModeLocal
}
