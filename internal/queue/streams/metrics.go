package streams

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	stepsPublished    otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("realism/queue/streams")
	c, err := meter.Int64Counter(
		"queue_steps_published_total",
		otelmetric.WithDescription("Step requests published to the job.step stream"),
	)
	if err == nil {
		stepsPublished = c
	}
}

func recordStepPublished(ctx context.Context, trigger Trigger) {
	streamMetricsOnce.Do(initStreamMetrics)
	if stepsPublished == nil {
		return
	}
	stepsPublished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("trigger", string(trigger))))
}
