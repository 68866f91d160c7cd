package job

import (
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
)

// Type distinguishes jobs that run once from jobs re-run on a cadence.
type Type string

const (
	TypeOneShot    Type = "one-shot"
	TypePersistent Type = "persistent"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusPaused   Status = "paused"
)

// Runnable reports whether another step may be executed for a job in s.
func (s Status) Runnable() bool {
	return s == StatusPending || s == StatusRunning
}

// SortPriority orders statuses for job listings, lowest first.
func (s Status) SortPriority() int {
	switch s {
	case StatusRunning:
		return 0
	case StatusPending:
		return 1
	case StatusComplete:
		return 2
	case StatusPaused:
		return 3
	case StatusFailed:
		return 4
	}
	return 5
}

// Job is one user intent to accomplish.
type Job struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	Goal          string             `json:"goal"`
	Budget        float64            `json:"budget"`
	Type          Type               `json:"type"`
	Status        Status             `json:"status"`
	SpendRuleID   string             `json:"spendRuleId,omitempty"`
	SpendTotal    float64            `json:"spendTotal"`
	Artifact      *artifact.Artifact `json:"artifact,omitempty"`
	Cadence       Cadence            `json:"cadence,omitempty"`
	ScheduleID    string             `json:"scheduleId,omitempty"`
	LastRunAt     *time.Time         `json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time         `json:"nextRunAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
}

// Persistent reports whether the job re-runs on a cadence.
func (j Job) Persistent() bool {
	return j.Type == TypePersistent
}
