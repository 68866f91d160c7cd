package streams

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestStepQueueRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	require.NoError(t, err)
	defer func() { _ = redisC.Terminate(ctx) }()
	endpoint, err := redisC.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer func() { _ = client.Close() }()

	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	q := NewStepQueue(NewPublisher(client, reg), "", 1000)

	require.NoError(t, q.Enqueue(ctx, "job-1", 0, TriggerCreate))
	require.NoError(t, EnsureGroup(ctx, client, q.Stream(), "workers"))
	require.NoError(t, EnsureGroup(ctx, client, q.Stream(), "workers"))

	_, err = client.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream(), Values: map[string]interface{}{"envelope": "garbage"}}).Result()
	require.NoError(t, err)

	first := NewConsumer(client, reg, "workers", "w1")
	msgs, err := first.Read(ctx, q.Stream(), WithBlock(time.Second), WithCount(10))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	p, err := DecodeStep(msgs[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, StepPayload{JobID: "job-1", ExpectedIteration: 0, Trigger: TriggerCreate}, p)

	lag, err := first.LagMetrics(ctx, q.Stream())
	require.NoError(t, err)
	assert.Equal(t, int64(1), lag.Pending)

	second := NewConsumer(client, reg, "workers", "w2")
	claimed, _, err := second.AutoClaim(ctx, q.Stream(), 0, "", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, msgs[0].ID, claimed[0].ID)

	require.NoError(t, q.Requeue(ctx, claimed[0].Envelope))
	require.NoError(t, second.Ack(ctx, q.Stream(), claimed[0].ID))

	retried, err := second.Read(ctx, q.Stream(), WithBlock(time.Second))
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Envelope.Attempt)
}
