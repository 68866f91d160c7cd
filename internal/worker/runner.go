package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/orchestrator"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/store"
	"go.uber.org/zap"
)

// DefaultClaimTTL bounds how long a (job, iteration) claim blocks duplicates.
const DefaultClaimTTL = 10 * time.Minute

var (
	// ErrContinuation wraps a failure to request the next step after a step
	// succeeded. The step itself is not retried.
	ErrContinuation = errors.New("enqueue continuation")
	// ErrOutcome wraps a failure to write a finished run back to its job. The
	// engine has already dropped the checkpoint, so the step cannot be retried.
	ErrOutcome = errors.New("record run outcome")
)

const abandonMessage = "Job stopped after an internal error. Partial results may be available."

const applyAttempts = 3

// Jobs is the lifecycle surface the runner drives.
type Jobs interface {
	Get(ctx context.Context, id string) (job.Job, error)
	Start(ctx context.Context, id string) (job.Job, error)
	Complete(ctx context.Context, id string, a artifact.Artifact) (job.Job, error)
	Fail(ctx context.Context, id, reason string) (job.Job, error)
	RecordRun(ctx context.Context, id string, a artifact.Artifact, spentThisRun float64) (job.Job, error)
	RecordRunFailure(ctx context.Context, id, reason string) (job.Job, error)
}

type Stepper interface {
	Step(ctx context.Context, j job.Job, expectedIteration *int) (orchestrator.StepResult, error)
}

// Claimer provides expiring mutual exclusion keys.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, iteration int, trigger streams.Trigger) error
}

// RunLog is what Abandon needs to close a run: the viewer-facing event log
// and the checkpoint.
type RunLog interface {
	AppendStreamEvent(ctx context.Context, jobID string, ev job.StreamEvent) error
	DeleteState(ctx context.Context, jobID string) error
}

// Runner performs one step for a job and applies its outcome.
type Runner struct {
	jobs     Jobs
	engine   Stepper
	claims   Claimer
	queue    Enqueuer
	runLog   RunLog
	claimTTL time.Duration
	logger   *zap.Logger
}

type RunnerOption func(*Runner)

func WithClaimTTL(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.claimTTL = d
		}
	}
}

// WithRunLog lets Abandon emit an error event and drop the checkpoint.
func WithRunLog(l RunLog) RunnerOption {
	return func(r *Runner) { r.runLog = l }
}

func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner wires a runner. A nil queue disables continuation.
func NewRunner(jobs Jobs, engine Stepper, claims Claimer, queue Enqueuer, opts ...RunnerOption) *Runner {
	r := &Runner{
		jobs:     jobs,
		engine:   engine,
		claims:   claims,
		queue:    queue,
		claimTTL: DefaultClaimTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunStep advances jobID by one step. When expectedIteration is set the
// (job, iteration) pair is claimed first so concurrent deliveries of the same
// request collapse into one. A successful claim is left to expire; it is
// released only when the step returns an infrastructure error.
func (r *Runner) RunStep(ctx context.Context, jobID string, expectedIteration *int) (orchestrator.StepResult, error) {
	j, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return orchestrator.StepResult{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !j.Status.Runnable() {
		return orchestrator.StepResult{Done: true, Outcome: orchestrator.OutcomeSkipped}, nil
	}
	log := r.logger.With(zap.String("job_id", jobID))

	var claimKey string
	if expectedIteration != nil && r.claims != nil {
		claimKey = store.StepClaimKey(jobID, *expectedIteration)
		ok, err := r.claims.Claim(ctx, claimKey, r.claimTTL)
		if err != nil {
			return orchestrator.StepResult{}, fmt.Errorf("claim step: %w", err)
		}
		if !ok {
			log.Debug("step already claimed", zap.Int("iteration", *expectedIteration))
			return orchestrator.StepResult{Iteration: *expectedIteration, Fenced: true}, nil
		}
	}
	release := func() {
		if claimKey == "" {
			return
		}
		if err := r.claims.Release(context.WithoutCancel(ctx), claimKey); err != nil {
			log.Warn("release step claim failed", zap.Error(err))
		}
	}

	if j.Status == job.StatusPending {
		if j, err = r.jobs.Start(ctx, jobID); err != nil {
			release()
			return orchestrator.StepResult{}, fmt.Errorf("start job: %w", err)
		}
	}

	res, err := r.engine.Step(ctx, j, expectedIteration)
	if err != nil {
		release()
		return orchestrator.StepResult{}, err
	}

	if err := r.applyWithRetry(ctx, j, res); err != nil {
		release()
		return res, fmt.Errorf("%w: %v", ErrOutcome, err)
	}
	if !res.Done && !res.Fenced && r.queue != nil {
		if err := r.queue.Enqueue(ctx, jobID, res.Iteration, streams.TriggerContinue); err != nil {
			return res, fmt.Errorf("%w: %v", ErrContinuation, err)
		}
	}
	return res, nil
}

func (r *Runner) applyWithRetry(ctx context.Context, j job.Job, res orchestrator.StepResult) error {
	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		if err = r.apply(ctx, j, res); err == nil {
			return nil
		}
		r.logger.Warn("record outcome failed", zap.String("job_id", j.ID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

// Abandon ends the current run of jobID after its step could not be carried
// through: an error event is emitted, the checkpoint dropped and the job
// failed. Persistent jobs record a failed run and keep their schedule. Jobs
// that are no longer runnable are left alone.
func (r *Runner) Abandon(ctx context.Context, jobID, reason string) error {
	j, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !j.Status.Runnable() {
		return nil
	}
	var errs []error
	if r.runLog != nil {
		if err := r.runLog.AppendStreamEvent(ctx, jobID, job.ErrorEvent(abandonMessage)); err != nil {
			errs = append(errs, fmt.Errorf("append error event: %w", err))
		}
		if err := r.runLog.DeleteState(ctx, jobID); err != nil {
			errs = append(errs, fmt.Errorf("delete checkpoint: %w", err))
		}
	}
	if j.Persistent() {
		_, err = r.jobs.RecordRunFailure(ctx, jobID, reason)
	} else {
		_, err = r.jobs.Fail(ctx, jobID, reason)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("fail job: %w", err))
	}
	r.logger.Warn("run abandoned", zap.String("job_id", jobID), zap.String("reason", reason))
	return errors.Join(errs...)
}

// apply writes a finished run back to the job. One-shot jobs end; persistent
// jobs stay running and wait for their next trigger. Spend was already
// recorded call by call, so runs add nothing here.
func (r *Runner) apply(ctx context.Context, j job.Job, res orchestrator.StepResult) error {
	var err error
	switch res.Outcome {
	case orchestrator.OutcomeCompleted:
		var a artifact.Artifact
		if res.Artifact != nil {
			a = *res.Artifact
		}
		if j.Persistent() {
			_, err = r.jobs.RecordRun(ctx, j.ID, a, 0)
		} else {
			_, err = r.jobs.Complete(ctx, j.ID, a)
		}
	case orchestrator.OutcomeFailed:
		if j.Persistent() {
			_, err = r.jobs.RecordRunFailure(ctx, j.ID, res.Reason)
		} else {
			_, err = r.jobs.Fail(ctx, j.ID, res.Reason)
		}
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s outcome: %w", res.Outcome, err)
	}
	r.logger.Info("run finished",
		zap.String("job_id", j.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Float64("spend_total", res.SpendTotal),
		zap.String("reason", res.Reason))
	return nil
}
