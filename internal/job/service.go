package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/realism/internal/artifact"
)

// Repository persists job records. GetJob returns an error wrapping the
// store's not-found sentinel for unknown ids.
type Repository interface {
	SaveJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (Job, error)
}

// CreateParams are the caller-supplied fields of a new job.
type CreateParams struct {
	ID          string
	UserID      string
	Goal        string
	Budget      float64
	Type        Type
	Cadence     Cadence
	SpendRuleID string
	ScheduleID  string
}

// Service owns every status-changing write to a job record.
type Service struct {
	repo Repository
	now  func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a pending job with zero spend.
func (s *Service) Create(ctx context.Context, p CreateParams) (Job, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	typ := p.Type
	if typ == "" {
		typ = TypeOneShot
	}
	j := Job{
		ID:          id,
		UserID:      p.UserID,
		Goal:        strings.TrimSpace(p.Goal),
		Budget:      p.Budget,
		Type:        typ,
		Status:      StatusPending,
		Cadence:     p.Cadence,
		SpendRuleID: p.SpendRuleID,
		ScheduleID:  p.ScheduleID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return Job{}, fmt.Errorf("save job: %w", err)
	}
	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) update(ctx context.Context, id string, mutate func(*Job)) (Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	mutate(&j)
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return Job{}, fmt.Errorf("save job %s: %w", id, err)
	}
	return j, nil
}

// Start marks the job running.
func (s *Service) Start(ctx context.Context, id string) (Job, error) {
	return s.update(ctx, id, func(j *Job) { j.Status = StatusRunning })
}

// Complete stores the artifact and closes a one-shot job.
func (s *Service) Complete(ctx context.Context, id string, a artifact.Artifact) (Job, error) {
	now := s.now().UTC()
	return s.update(ctx, id, func(j *Job) {
		j.Status = StatusComplete
		j.Artifact = &a
		j.CompletedAt = &now
	})
}

// Fail closes a job with a human-readable reason.
func (s *Service) Fail(ctx context.Context, id, reason string) (Job, error) {
	now := s.now().UTC()
	return s.update(ctx, id, func(j *Job) {
		j.Status = StatusFailed
		j.FailureReason = reason
		j.CompletedAt = &now
	})
}

// AddSpend adds a non-negative amount to the job's spend total.
func (s *Service) AddSpend(ctx context.Context, id string, amount float64) (Job, error) {
	if amount < 0 {
		return Job{}, fmt.Errorf("negative spend %v", amount)
	}
	return s.update(ctx, id, func(j *Job) { j.SpendTotal += amount })
}

// Pause stops a job from accepting further steps.
func (s *Service) Pause(ctx context.Context, id string) (Job, error) {
	return s.update(ctx, id, func(j *Job) { j.Status = StatusPaused })
}

// RecordRun stores the artifact of a finished persistent run and schedules
// the next one. The job stays running.
func (s *Service) RecordRun(ctx context.Context, id string, a artifact.Artifact, spentThisRun float64) (Job, error) {
	now := s.now().UTC()
	return s.update(ctx, id, func(j *Job) {
		next := j.Cadence.Next(now)
		j.Artifact = &a
		j.LastRunAt = &now
		j.NextRunAt = &next
		if spentThisRun > 0 {
			j.SpendTotal += spentThisRun
		}
		j.FailureReason = ""
		j.Status = StatusRunning
	})
}

// RecordRunFailure notes a failed persistent run. The job keeps its schedule
// and the previous artifact.
func (s *Service) RecordRunFailure(ctx context.Context, id, reason string) (Job, error) {
	now := s.now().UTC()
	return s.update(ctx, id, func(j *Job) {
		next := j.Cadence.Next(now)
		j.LastRunAt = &now
		j.NextRunAt = &next
		j.FailureReason = reason
		j.Status = StatusRunning
	})
}
