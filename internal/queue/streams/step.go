package streams

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	// StreamJobStep carries step requests to workers.
	StreamJobStep = "job.step"
	EventJobStep  = "job.step"
	StepVersion   = "v1"
)

// Trigger records why a step was requested.
type Trigger string

const (
	TriggerCreate   Trigger = "create"
	TriggerContinue Trigger = "continue"
	TriggerSchedule Trigger = "schedule"
	TriggerWebhook  Trigger = "webhook"
	TriggerManual   Trigger = "manual"
)

// StepPayload asks a worker to advance one job by one step.
type StepPayload struct {
	JobID             string  `json:"job_id"`
	ExpectedIteration int     `json:"expected_iteration"`
	Trigger           Trigger `json:"trigger"`
}

// DecodeStep extracts a step payload from an envelope.
func DecodeStep(env Envelope) (StepPayload, error) {
	if env.EventType != EventJobStep {
		return StepPayload{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	var p StepPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return StepPayload{}, fmt.Errorf("decode step payload: %w", err)
	}
	return p, nil
}

// StepQueue publishes step requests onto the job.step stream.
type StepQueue struct {
	publisher *Publisher
	stream    string
	maxLen    int64
}

func NewStepQueue(pub *Publisher, stream string, maxLen int64) *StepQueue {
	if stream == "" {
		stream = StreamJobStep
	}
	return &StepQueue{publisher: pub, stream: stream, maxLen: maxLen}
}

func (q *StepQueue) Stream() string { return q.stream }

// Enqueue publishes a step request for jobID at the given iteration.
func (q *StepQueue) Enqueue(ctx context.Context, jobID string, iteration int, trigger Trigger) error {
	payload := StepPayload{JobID: jobID, ExpectedIteration: iteration, Trigger: trigger}
	if _, err := q.publisher.PublishRaw(ctx, q.stream, EventJobStep, StepVersion, payload, WithMaxLenApprox(q.maxLen)); err != nil {
		return fmt.Errorf("enqueue step for %s: %w", jobID, err)
	}
	recordStepPublished(ctx, trigger)
	return nil
}

// Requeue republishes env as its next attempt.
func (q *StepQueue) Requeue(ctx context.Context, env Envelope) error {
	if _, err := q.publisher.Publish(ctx, q.stream, env.Retry(), WithMaxLenApprox(q.maxLen)); err != nil {
		return fmt.Errorf("requeue %s: %w", env.EventID, err)
	}
	return nil
}
