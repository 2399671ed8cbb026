package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pscheid92/activitypulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL string
	redContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := NewClient(testRedisURL, NewCircuitBreakerHook(nil))
	require.NoError(t, err)
	require.NoError(t, WaitReady(context.Background(), client, 5*time.Second))
	return client
}

func setupTestBroker(t *testing.T) *Broker {
	t.Helper()
	broker := NewBroker(context.Background(), setupTestClient(t))
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func waitMessage(t *testing.T, b *Broker) domain.BrokerMessage {
	t.Helper()
	select {
	case msg := <-b.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broker message")
		return domain.BrokerMessage{}
	}
}

func awaitSubscribers(t *testing.T, b *Broker, channel string, want int64) {
	t.Helper()
	assert.Eventually(t, func() bool {
		counts, err := b.rdb.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not-a-url")
	assert.Error(t, err)
}

func TestWaitReady_UnreachableServerHonoursBudget(t *testing.T) {
	client, err := NewClient("redis://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	start := time.Now()
	err = WaitReady(context.Background(), client, 300*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBroker_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	publisher := setupTestBroker(t)
	subscriber := setupTestBroker(t)

	require.NoError(t, subscriber.Subscribe(ctx, "ws:team:42"))
	awaitSubscribers(t, publisher, "ws:team:42", 1)

	payload := []byte(`{"type":"push","room":"team:42","event":{"kind":"push"}}`)
	require.NoError(t, publisher.Publish(ctx, "ws:team:42", payload))

	msg := waitMessage(t, subscriber)
	assert.Equal(t, "ws:team:42", msg.Channel)
	assert.Equal(t, payload, msg.Payload)
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	publisher := setupTestBroker(t)
	subscriber := setupTestBroker(t)

	require.NoError(t, subscriber.Subscribe(ctx, "ws:a", "ws:b"))
	require.NoError(t, subscriber.Unsubscribe(ctx, "ws:a"))
	awaitSubscribers(t, publisher, "ws:a", 0)
	awaitSubscribers(t, publisher, "ws:b", 1)

	require.NoError(t, publisher.Publish(ctx, "ws:a", []byte("dropped")))
	require.NoError(t, publisher.Publish(ctx, "ws:b", []byte("kept")))

	msg := waitMessage(t, subscriber)
	assert.Equal(t, "ws:b", msg.Channel)
	assert.Equal(t, []byte("kept"), msg.Payload)
}

func TestBroker_CloseEndsStream(t *testing.T) {
	broker := NewBroker(context.Background(), setupTestClient(t))
	require.NoError(t, broker.Ping(context.Background()))

	require.NoError(t, broker.Close())
	require.NoError(t, broker.Close())

	_, ok := <-broker.Messages()
	assert.False(t, ok)
}
