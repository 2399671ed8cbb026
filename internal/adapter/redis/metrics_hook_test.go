package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/activitypulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMetricsHook_CountsCommandsByStatus(t *testing.T) {
	m := metrics.NewBrokerMetrics(prometheus.NewRegistry())
	hook := NewMetricsHook(m)
	ctx := context.Background()

	ok := hook.ProcessHook(failingProcess(nil))
	miss := hook.ProcessHook(failingProcess(goredis.Nil))
	broken := hook.ProcessHook(failingProcess(errors.New("connection reset")))

	_ = ok(ctx, goredis.NewIntCmd(ctx, "publish", "ws:room", "x"))
	_ = ok(ctx, goredis.NewIntCmd(ctx, "publish", "ws:room", "x"))
	_ = miss(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	_ = broken(ctx, goredis.NewIntCmd(ctx, "publish", "ws:room", "x"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.Commands.WithLabelValues("publish", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Commands.WithLabelValues("get", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Commands.WithLabelValues("publish", "error")), 0)
}

func TestMetricsHook_CountsDialErrors(t *testing.T) {
	m := metrics.NewBrokerMetrics(prometheus.NewRegistry())
	hook := NewMetricsHook(m)

	dial := hook.DialHook(func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	_, err := dial(context.Background(), "tcp", "localhost:6379")

	assert.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DialErrors), 0)
}
