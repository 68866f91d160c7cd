package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/realism/internal/orchestrator"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/store"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// StepRunner executes one step request and ends runs that cannot go on.
type StepRunner interface {
	RunStep(ctx context.Context, jobID string, expectedIteration *int) (orchestrator.StepResult, error)
	Abandon(ctx context.Context, jobID, reason string) error
}

// Source is where step requests come from.
type Source interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

type Requeuer interface {
	Requeue(ctx context.Context, env streams.Envelope) error
	Enqueue(ctx context.Context, jobID string, iteration int, trigger streams.Trigger) error
}

// ProcessorConfig tunes the consume loop.
type ProcessorConfig struct {
	Stream      string
	Block       time.Duration
	BatchSize   int64
	ClaimIdle   time.Duration
	MaxAttempts int
}

func (c ProcessorConfig) normalize() ProcessorConfig {
	if c.Stream == "" {
		c.Stream = streams.StreamJobStep
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Processor consumes job.step requests and hands them to a StepRunner.
type Processor struct {
	logger   *zap.Logger
	runner   StepRunner
	source   Source
	requeue  Requeuer
	cfg      ProcessorConfig
	tracer   trace.Tracer
	handled  otelmetric.Int64Counter
	retries  otelmetric.Int64Counter
	dropped  otelmetric.Int64Counter
	claimPos string
}

// NewProcessor constructs a Processor. meter and tracer may be nil.
func NewProcessor(logger *zap.Logger, runner StepRunner, source Source, requeue Requeuer, cfg ProcessorConfig, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("worker")
	}
	p := &Processor{
		logger:   logger,
		runner:   runner,
		source:   source,
		requeue:  requeue,
		cfg:      cfg.normalize(),
		tracer:   tracer,
		claimPos: "0-0",
	}
	if meter != nil {
		var err error
		if p.handled, err = meter.Int64Counter("worker_steps_handled_total"); err != nil {
			logger.Warn("create handled counter failed", zap.Error(err))
		}
		if p.retries, err = meter.Int64Counter("worker_step_retries_total"); err != nil {
			logger.Warn("create retry counter failed", zap.Error(err))
		}
		if p.dropped, err = meter.Int64Counter("worker_steps_dropped_total"); err != nil {
			logger.Warn("create dropped counter failed", zap.Error(err))
		}
	}
	return p
}

// Start consumes until ctx is cancelled. Entries abandoned by crashed
// consumers are reclaimed between reads.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("worker processor starting", zap.String("stream", p.cfg.Stream))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker processor stopping", zap.Error(ctx.Err()))
			return nil
		default:
		}

		p.reclaim(ctx)
		msgs, err := p.source.Read(ctx, p.cfg.Stream, streams.WithBlock(p.cfg.Block), streams.WithCount(p.cfg.BatchSize))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("read stream failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.Handle(ctx, msg)
		}
	}
}

func (p *Processor) reclaim(ctx context.Context) {
	msgs, next, err := p.source.AutoClaim(ctx, p.cfg.Stream, p.cfg.ClaimIdle, p.claimPos, p.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("autoclaim failed", zap.Error(err))
		}
		return
	}
	p.claimPos = next
	if p.claimPos == "" {
		p.claimPos = "0-0"
	}
	for _, msg := range msgs {
		p.logger.Info("reclaimed abandoned step", zap.String("message_id", msg.ID))
		p.Handle(ctx, msg)
	}
}

// Handle processes one message and always acknowledges it. Infrastructure
// failures are republished as a new attempt until MaxAttempts, after which
// the run is abandoned.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) {
	ctx, span := p.tracer.Start(ctx, "worker.handle_step")
	defer span.End()
	defer func() {
		if err := p.source.Ack(context.WithoutCancel(ctx), p.cfg.Stream, msg.ID); err != nil {
			p.logger.Warn("ack failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}()

	payload, err := streams.DecodeStep(msg.Envelope)
	if err != nil {
		p.count(ctx, p.dropped, "decode")
		p.logger.Warn("dropping undecodable step", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int("job.expected_iteration", payload.ExpectedIteration),
		attribute.String("job.trigger", string(payload.Trigger)),
	)
	log := p.logger.With(
		zap.String("job_id", payload.JobID),
		zap.Int("expected_iteration", payload.ExpectedIteration),
		zap.Int("attempt", msg.Envelope.Attempt),
	)

	iter := payload.ExpectedIteration
	res, err := p.runner.RunStep(ctx, payload.JobID, &iter)
	switch {
	case err == nil:
		p.count(ctx, p.handled, string(res.Outcome))
		log.Debug("step handled", zap.Bool("done", res.Done), zap.Int("iteration", res.Iteration), zap.Bool("fenced", res.Fenced))
	case errors.Is(err, store.ErrNotFound):
		p.count(ctx, p.dropped, "not_found")
		log.Warn("dropping step for missing job")
	case errors.Is(err, ErrContinuation):
		log.Warn("continuation was not enqueued, retrying once", zap.Error(err))
		if qerr := p.requeue.Enqueue(ctx, payload.JobID, res.Iteration, streams.TriggerContinue); qerr != nil {
			p.count(ctx, p.dropped, "continuation")
			p.abandon(ctx, log, payload.JobID, fmt.Sprintf("Could not schedule the next step: %v", qerr))
		}
	case errors.Is(err, ErrOutcome):
		p.count(ctx, p.dropped, "outcome")
		p.abandon(ctx, log, payload.JobID, fmt.Sprintf("Could not record the run outcome: %v", err))
	case msg.Envelope.Attempt+1 >= p.cfg.MaxAttempts:
		p.count(ctx, p.dropped, "exhausted")
		log.Error("giving up on step", zap.Error(err))
		p.abandon(ctx, log, payload.JobID, fmt.Sprintf("Step failed after %d attempts: %v", msg.Envelope.Attempt+1, err))
	default:
		log.Warn("step failed, requeueing", zap.Error(err))
		if rerr := p.requeue.Requeue(ctx, msg.Envelope); rerr != nil {
			log.Error("requeue failed", zap.Error(rerr))
			p.abandon(ctx, log, payload.JobID, fmt.Sprintf("Could not retry step: %v", rerr))
			return
		}
		p.count(ctx, p.retries, "")
	}
}

func (p *Processor) abandon(ctx context.Context, log *zap.Logger, jobID, reason string) {
	if err := p.runner.Abandon(context.WithoutCancel(ctx), jobID, reason); err != nil {
		log.Error("abandoning run failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (p *Processor) count(ctx context.Context, c otelmetric.Int64Counter, reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		c.Add(ctx, 1)
		return
	}
	c.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", reason)))
}
