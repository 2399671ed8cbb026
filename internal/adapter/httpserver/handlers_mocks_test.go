package httpserver

import (
	"context"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/activitypulse/internal/app"
	"github.com/pscheid92/activitypulse/internal/domain"
	"github.com/pscheid92/activitypulse/internal/platform/config"
)

type mockAppService struct {
	dispatchFn func(ctx context.Context, event domain.ActivityEvent) (domain.DispatchResult, error)
	roomSizeFn func(room string) int
	stats      app.Stats

	dispatched []domain.ActivityEvent
}

func (m *mockAppService) Dispatch(ctx context.Context, event domain.ActivityEvent) (domain.DispatchResult, error) {
	m.dispatched = append(m.dispatched, event)
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, event)
	}
	return domain.DispatchResult{Mode: domain.DispatchModeLocal}, nil
}

func (m *mockAppService) RoomSize(room string) int {
	if m.roomSizeFn != nil {
		return m.roomSizeFn(room)
	}
	return 0
}

func (m *mockAppService) Stats() app.Stats {
	return m.stats
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:            "development",
		Port:              "0",
		AppURL:            "http://localhost:8080",
		DispatchRateLimit: 1000,
		DispatchRateBurst: 1000,
	}
}

func newTestServer(t *testing.T, svc appService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:      echo.New(),
		config:    testConfig(),
		app:       svc,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}
