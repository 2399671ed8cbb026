package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/activitypulse/internal/adapter/httpserver"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	"github.com/pscheid92/activitypulse/internal/adapter/redis"
	"github.com/pscheid92/activitypulse/internal/adapter/websocket"
	"github.com/pscheid92/activitypulse/internal/app"
	"github.com/pscheid92/activitypulse/internal/broadcast"
	"github.com/pscheid92/activitypulse/internal/domain"
	"github.com/pscheid92/activitypulse/internal/platform/config"
	"github.com/pscheid92/activitypulse/internal/platform/logging"
	"github.com/pscheid92/activitypulse/internal/platform/version"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, appSvc *app.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Sends 1001 to every client still connected, then releases the broker.
		appSvc.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupBroker connects to Redis when configured. An unreachable Redis is not fatal: the
// process runs local-only and reports it. The breaker is nil in local-only mode.
func setupBroker(ctx context.Context, cfg *config.Config, m *metrics.BrokerMetrics) (domain.Broker, *redis.CircuitBreakerHook) {
	if cfg.RedisURL == "" {
		slog.Info("No REDIS_URL configured, running in local-only mode")
		return broadcast.NoopBroker{}, nil
	}

	breaker := redis.NewCircuitBreakerHook(m)
	rdb, err := redis.NewClient(cfg.RedisURL, breaker, redis.NewMetricsHook(m))
	if err != nil {
		slog.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	if err := redis.WaitReady(ctx, rdb, cfg.BrokerConnectTimeout); err != nil {
		slog.Warn("Redis unreachable, running in local-only mode", "error", err, "budget", cfg.BrokerConnectTimeout)
		_ = rdb.Close()
		return broadcast.NoopBroker{}, nil
	}

	slog.Info("Connected to Redis broker")
	return redis.NewBroker(ctx, rdb), breaker
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version, "commit", info.Commit)

	registry := metrics.NewRegistry()
	m := metrics.NewSet(registry)

	ctx := context.Background()
	broker, breaker := setupBroker(ctx, cfg, m.Broker)

	appSvc := app.NewService(broker, clock, app.Config{
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatTimeout:   cfg.HeartbeatTimeout,
		SendBufferMessages: cfg.SendBufferMessages,
		ResyncInterval:     cfg.BrokerResyncInterval,
	}, m)
	appSvc.Start(ctx)

	limits := websocket.NewLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectRate, cfg.ConnectBurst)
	wsHandler := websocket.NewHandler(appSvc, limits, websocket.HandlerConfig{
		AppURL:      cfg.AppURL,
		Development: cfg.IsDevelopment(),
	}, m.Connections)

	healthChecks := []httpserver.HealthCheck{
		{Name: "broker", Check: appSvc.Ready},
	}
	if breaker != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "broker_circuit", Check: breaker.Check})
	}
	srv := httpserver.NewServer(cfg, appSvc, wsHandler.Serve, metrics.Handler(registry), m.HTTP, healthChecks)

	done := runGracefulShutdown(srv, appSvc)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
