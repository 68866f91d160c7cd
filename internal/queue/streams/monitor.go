package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// LagMetrics describes backlog and pending state of a consumer group.
type LagMetrics struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// GroupLag reads group info for stream. Lag is -1 when the group is missing.
func GroupLag(ctx context.Context, client redis.UniversalClient, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, errors.New("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, errors.New("stream and group are required")
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	m := LagMetrics{Lag: -1}
	for _, info := range groups {
		if info.Name == group {
			m.Pending = info.Pending
			m.Lag = info.Lag
			m.Consumers = info.Consumers
			break
		}
	}
	if m.Pending == 0 {
		return m, nil
	}
	entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
	}
	if len(entries) > 0 {
		m.OldestIdle = entries[0].Idle
	}
	return m, nil
}

// ObserveLag registers gauges reporting the group's pending count and
// backlog on every collection.
func ObserveLag(meter otelmetric.Meter, client redis.UniversalClient, stream, group string) error {
	pending, err := meter.Int64ObservableGauge("queue_pending_messages",
		otelmetric.WithDescription("Messages delivered but not yet acknowledged"))
	if err != nil {
		return err
	}
	lag, err := meter.Int64ObservableGauge("queue_lag_messages",
		otelmetric.WithDescription("Messages not yet delivered to the group"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o otelmetric.Observer) error {
		m, err := GroupLag(ctx, client, stream, group)
		if err != nil {
			return nil
		}
		o.ObserveInt64(pending, m.Pending)
		o.ObserveInt64(lag, m.Lag)
		return nil
	}, pending, lag)
	return err
}
