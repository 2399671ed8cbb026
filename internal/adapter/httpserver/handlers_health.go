package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/activitypulse/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupCheckTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()

	response := map[string]any{
		"status": "ok",
		"uptime": uptime,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessCheckTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// runHealthChecks runs every check so one report names all failures. The first failure is
// kept at the top level for callers that only read failed_check.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context) error {
	response := map[string]any{
		"status":      "ready",
		"broker_mode": s.app.Stats().BrokerMode,
	}
	status := http.StatusOK

	if len(s.healthChecks) > 0 {
		checks := make(map[string]string, len(s.healthChecks))
		for _, hc := range s.healthChecks {
			err := hc.Check(ctx)
			if err == nil {
				checks[hc.Name] = "ok"
				continue
			}

			checks[hc.Name] = err.Error()
			if status == http.StatusOK {
				status = http.StatusServiceUnavailable
				response["status"] = "unhealthy"
				response["failed_check"] = hc.Name
				response["error"] = err.Error()
			}
		}
		response["checks"] = checks
	}

	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
