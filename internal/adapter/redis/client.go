package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/activitypulse/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient creates a pooled go-redis client from a URL (e.g. "redis://localhost:6379")
// and installs hooks. It does not touch the network.
func NewClient(redisURL string, hooks ...goredis.Hook) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	for _, hook := range hooks {
		rdb.AddHook(hook)
	}
	return rdb, nil
}

// WaitReady pings rdb until it answers or the budget runs out.
func WaitReady(ctx context.Context, rdb *goredis.Client, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	policy := retry.Policy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Debug("Redis not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	err := retry.Do(ctx, policy, nil, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}
	return nil
}
