package store

import (
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist or has expired.
var ErrNotFound = errors.New("not found")

const (
	JobTTL       = 90 * 24 * time.Hour
	StateTTL     = 24 * time.Hour
	StreamTTL    = 24 * time.Hour
	BlocklistTTL = 30 * 24 * time.Hour
)

func jobKey(id string) string          { return "job:" + id }
func userJobsKey(userID string) string { return "user:" + userID + ":jobs" }
func spendKey(jobID string) string     { return "spend:" + jobID }
func artifactKey(jobID string) string  { return "artifact:" + jobID }
func stateKey(jobID string) string     { return "state:" + jobID }
func streamKey(jobID string) string    { return "stream:" + jobID }
func blockedKey(jti string) string     { return "blocked:" + jti }

const schedulesKey = "schedules"

// StepClaimKey names the lock taken by a worker before executing a step.
func StepClaimKey(jobID string, iteration int) string {
	return "claim:step:" + jobID + ":" + strconv.Itoa(iteration)
}

// ScheduleLockKey names the lock taken by the scheduler before triggering a run.
func ScheduleLockKey(jobID string) string { return "sched:lock:" + jobID }
