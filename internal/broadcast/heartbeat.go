package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/domain"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
)

// HeartbeatMonitor pings every registered connection on a fixed interval and evicts the
// ones whose last liveness is older than the timeout.
type HeartbeatMonitor struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	onEvict  func(info domain.ConnectionInfo)
	metrics  *metrics.ConnectionMetrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewHeartbeatMonitor creates a monitor over registry.
// onEvict runs after a connection has been closed and removed from the registry; it is
// where room memberships get released. onEvict and m may be nil.
func NewHeartbeatMonitor(registry *Registry, onEvict func(domain.ConnectionInfo), clock clockwork.Clock, interval, timeout time.Duration, m *metrics.ConnectionMetrics) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HeartbeatMonitor{
		registry: registry,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		onEvict:  onEvict,
		metrics:  m,
	}
}

// Start launches the tick loop. The loop is a plain goroutine, so it never holds the process open.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil || m.stopped {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(loopCtx, m.done)

	slog.Info("Heartbeat monitor started", "interval", m.interval, "timeout", m.timeout)
}

func (m *HeartbeatMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.tick()
		}
	}
}

// tick runs one liveness pass. A failed ping counts as a timeout; the next tick is the retry.
func (m *HeartbeatMonitor) tick() {
	now := m.clock.Now()

	for _, info := range m.registry.Snapshot() {
		elapsed := now.Sub(info.LastLivenessAt)
		if elapsed > m.timeout {
			slog.Info("Evicting unresponsive connection", "conn_id", info.ID.String(), "user_id", info.UserID, "elapsed", elapsed)
			m.evict(info.ID, domain.CloseHeartbeatTimeout, "heartbeat timeout", metrics.EvictHeartbeatTimeout)
			continue
		}

		if err := m.registry.Ping(info.ID); err != nil {
			slog.Info("Evicting connection after failed ping", "conn_id", info.ID.String(), "user_id", info.UserID, "error", err)
			m.evict(info.ID, domain.CloseHeartbeatTimeout, "heartbeat failed", metrics.EvictPingFailed)
		}
	}
}

// evict closes the transport and removes the connection without waiting for the
// transport's own close event, which may never fire for a dead peer.
func (m *HeartbeatMonitor) evict(id domain.ConnID, code int, reason, metricReason string) {
	m.registry.Close(id, code, reason)
	info, ok := m.registry.Remove(id)
	if !ok {
		return
	}

	if m.metrics != nil {
		m.metrics.Evictions.WithLabelValues(metricReason).Inc()
	}
	if m.onEvict != nil {
		m.onEvict(info)
	}
}

// Stop halts the tick loop and closes every remaining connection with a shutdown code,
// leaving the registry empty. Safe to call more than once.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	remaining := m.registry.Snapshot()
	for _, info := range remaining {
		m.evict(info.ID, domain.CloseServerShutdown, "Server shutting down", metrics.EvictShutdown)
	}

	slog.Info("Heartbeat monitor stopped", "disconnected_clients", len(remaining))
}
