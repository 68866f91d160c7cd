package server

import (
	"context"
	"errors"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/queue/streams"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/mohammad-safakhou/realism/internal/worker"
	"go.uber.org/zap"
)

// ScheduleStore is what the scheduler reads and locks.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) (map[string]string, error)
	HasState(ctx context.Context, jobID string) (bool, error)
	worker.Claimer
}

type JobReader interface {
	Get(ctx context.Context, id string) (job.Job, error)
}

// Scheduler enqueues new runs of persistent jobs when their cron is due.
type Scheduler struct {
	Store    ScheduleStore
	Jobs     JobReader
	Queue    worker.Enqueuer
	Interval time.Duration
	LockTTL  time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick triggers every due schedule once and returns how many runs it queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	log := s.logger()
	schedules, err := s.Store.ListSchedules(ctx)
	if err != nil {
		log.Warn("list schedules failed", zap.Error(err))
		return 0
	}
	now := s.now()
	fired := 0
	for jobID, spec := range schedules {
		if ctx.Err() != nil {
			return fired
		}
		j, err := s.Jobs.Get(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn("load scheduled job failed", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		if !j.Persistent() || !j.Status.Runnable() {
			continue
		}
		base := j.CreatedAt
		if j.LastRunAt != nil {
			base = *j.LastRunAt
		}
		if !isDue(spec, j.Cadence, base, now) {
			continue
		}
		if busy, err := s.Store.HasState(ctx, jobID); err != nil || busy {
			continue
		}
		ok, err := s.Store.Claim(ctx, store.ScheduleLockKey(jobID), s.LockTTL)
		if err != nil || !ok {
			continue
		}
		if err := s.Queue.Enqueue(ctx, jobID, 0, streams.TriggerSchedule); err != nil {
			log.Error("enqueue scheduled run failed", zap.String("job_id", jobID), zap.Error(err))
			_ = s.Store.Release(context.WithoutCancel(ctx), store.ScheduleLockKey(jobID))
			continue
		}
		log.Info("scheduled run queued", zap.String("job_id", jobID), zap.String("cron", spec))
		fired++
	}
	return fired
}

// isDue reports whether the first cron tick after base has passed. An
// unparsable spec falls back to the job's cadence.
func isDue(spec string, cadence job.Cadence, base, now time.Time) bool {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return cadence.Due(base, now)
	}
	next := expr.Next(base)
	return !next.IsZero() && !next.After(now)
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
