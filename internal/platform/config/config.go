package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Empty runs the service in local-only mode.
	RedisURL             string        `env:"REDIS_URL"`
	BrokerConnectTimeout time.Duration `env:"BROKER_CONNECT_TIMEOUT" default:"5s"`
	BrokerResyncInterval time.Duration `env:"BROKER_RESYNC_INTERVAL" default:"5s"`

	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout   time.Duration `env:"HEARTBEAT_TIMEOUT" default:"60s"`
	SendBufferMessages int           `env:"SEND_BUFFER_MESSAGES" default:"100"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectRate             float64 `env:"CONNECT_RATE" default:"10"`
	ConnectBurst            int     `env:"CONNECT_BURST" default:"20"`

	DispatchRateLimit float64 `env:"DISPATCH_RATE_LIMIT" default:"50"`
	DispatchRateBurst int     `env:"DISPATCH_RATE_BURST" default:"100"`
}

// IsDevelopment reports whether development-only conveniences are enabled.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.AppEnv != "development" && cfg.AppEnv != "production" {
		return fmt.Errorf("APP_ENV must be development or production, got %q", cfg.AppEnv)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"HEARTBEAT_INTERVAL", cfg.HeartbeatInterval},
		{"HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout},
		{"BROKER_CONNECT_TIMEOUT", cfg.BrokerConnectTimeout},
		{"BROKER_RESYNC_INTERVAL", cfg.BrokerResyncInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return errors.New("HEARTBEAT_TIMEOUT must be greater than HEARTBEAT_INTERVAL")
	}

	if cfg.SendBufferMessages <= 0 {
		return errors.New("SEND_BUFFER_MESSAGES must be positive")
	}
	if cfg.MaxWebSocketConnections <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return errors.New("MAX_CONNECTIONS_PER_IP must be positive")
	}
	if cfg.ConnectRate <= 0 || cfg.ConnectBurst <= 0 {
		return errors.New("CONNECT_RATE and CONNECT_BURST must be positive")
	}
	if cfg.DispatchRateLimit <= 0 || cfg.DispatchRateBurst <= 0 {
		return errors.New("DISPATCH_RATE_LIMIT and DISPATCH_RATE_BURST must be positive")
	}

	if _, err := url.Parse(cfg.AppURL); err != nil {
		return fmt.Errorf("APP_URL is not a valid URL: %w", err)
	}

	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use redis:// or rediss://, got %q", u.Scheme)
		}
	}

	return nil
}
