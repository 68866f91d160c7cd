package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/job"
)

type memEntry struct {
	raw     []byte
	expires time.Time
}

// Memory is an in-process store with the same semantics as Redis, used by
// tests and single-binary development runs.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	jobs      map[string]job.Job
	userJobs  map[string]map[string]struct{}
	spend     map[string][]job.SpendEvent
	artifacts map[string]artifact.Artifact
	states    map[string]memEntry
	streams   map[string][][]byte
	locks     map[string]time.Time
	blocked   map[string]time.Time
	schedules map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		jobs:      map[string]job.Job{},
		userJobs:  map[string]map[string]struct{}{},
		spend:     map[string][]job.SpendEvent{},
		artifacts: map[string]artifact.Artifact{},
		states:    map[string]memEntry{},
		streams:   map[string][][]byte{},
		locks:     map[string]time.Time{},
		blocked:   map[string]time.Time{},
		schedules: map[string]string{},
	}
}

// SetClock overrides the time source used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) SaveJob(_ context.Context, j job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	set, ok := m.userJobs[j.UserID]
	if !ok {
		set = map[string]struct{}{}
		m.userJobs[j.UserID] = set
	}
	set[j.ID] = struct{}{}
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("%s: %w", jobKey(id), ErrNotFound)
	}
	return j, nil
}

func (m *Memory) ListUserJobs(_ context.Context, userID string) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job.Job, 0, len(m.userJobs[userID]))
	for id := range m.userJobs[userID] {
		if j, ok := m.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Memory) AppendSpendEvent(_ context.Context, ev job.SpendEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spend[ev.JobID] = append(m.spend[ev.JobID], ev)
	return nil
}

func (m *Memory) ListSpendEvents(_ context.Context, jobID string) ([]job.SpendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job.SpendEvent(nil), m.spend[jobID]...), nil
}

func (m *Memory) SetArtifact(_ context.Context, jobID string, a artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[jobID] = a
	return nil
}

func (m *Memory) GetArtifact(_ context.Context, jobID string) (*artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[jobID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", artifactKey(jobID), ErrNotFound)
	}
	return &a, nil
}

func (m *Memory) SaveState(_ context.Context, jobID string, raw []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = StateTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[jobID] = memEntry{raw: append([]byte(nil), raw...), expires: m.now().Add(ttl)}
	return nil
}

func (m *Memory) LoadState(_ context.Context, jobID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[jobID]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.states, jobID)
		return nil, false, nil
	}
	return append([]byte(nil), e.raw...), true, nil
}

func (m *Memory) DeleteState(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, jobID)
	return nil
}

func (m *Memory) HasState(ctx context.Context, jobID string) (bool, error) {
	_, ok, err := m.LoadState(ctx, jobID)
	return ok, err
}

func (m *Memory) AppendStreamEvent(_ context.Context, jobID string, ev job.StreamEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[jobID] = append(m.streams[jobID], raw)
	return nil
}

func (m *Memory) StreamEvents(_ context.Context, jobID string, from int64) ([]job.StreamEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.streams[jobID]
	if from < 0 {
		from = 0
	}
	if from >= int64(len(items)) {
		return nil, from, nil
	}
	out := make([]job.StreamEvent, 0, len(items)-int(from))
	for _, raw := range items[from:] {
		var ev job.StreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, int64(len(items)), nil
}

func (m *Memory) BlockToken(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = BlocklistTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[jti] = m.now().Add(ttl)
	return nil
}

func (m *Memory) IsTokenBlocked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.blocked[jti]
	return ok && m.now().Before(exp), nil
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.locks[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *Memory) SetSchedule(_ context.Context, jobID, cron string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[jobID] = cron
	return nil
}

func (m *Memory) DeleteSchedule(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, jobID)
	return nil
}

func (m *Memory) ListSchedules(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.schedules))
	for k, v := range m.schedules {
		out[k] = v
	}
	return out, nil
}
