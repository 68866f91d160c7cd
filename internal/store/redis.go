package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/redis/go-redis/v9"
)

// Redis implements every store concern on a single Redis deployment.
type Redis struct {
	rdb redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

// Client exposes the underlying client for components sharing the connection.
func (r *Redis) Client() redis.UniversalClient { return r.rdb }

func (r *Redis) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return r.rdb.Set(ctx, key, raw, ttl).Err()
}

func (r *Redis) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SaveJob(ctx context.Context, j job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, jobKey(j.ID), raw, JobTTL)
		p.SAdd(ctx, userJobsKey(j.UserID), j.ID)
		return nil
	})
	return err
}

func (r *Redis) GetJob(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	if err := r.getJSON(ctx, jobKey(id), &j); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// ListUserJobs returns the jobs indexed for a user, skipping expired records.
func (r *Redis) ListUserJobs(ctx context.Context, userID string) ([]job.Job, error) {
	ids, err := r.rdb.SMembers(ctx, userJobsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *Redis) AppendSpendEvent(ctx context.Context, ev job.SpendEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal spend event: %w", err)
	}
	key := spendKey(ev.JobID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.Expire(ctx, key, JobTTL)
		return nil
	})
	return err
}

func (r *Redis) ListSpendEvents(ctx context.Context, jobID string) ([]job.SpendEvent, error) {
	items, err := r.rdb.LRange(ctx, spendKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]job.SpendEvent, 0, len(items))
	for _, item := range items {
		var ev job.SpendEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Redis) SetArtifact(ctx context.Context, jobID string, a artifact.Artifact) error {
	return r.setJSON(ctx, artifactKey(jobID), a, JobTTL)
}

func (r *Redis) GetArtifact(ctx context.Context, jobID string) (*artifact.Artifact, error) {
	var a artifact.Artifact
	if err := r.getJSON(ctx, artifactKey(jobID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Redis) SaveState(ctx context.Context, jobID string, raw []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = StateTTL
	}
	return r.rdb.Set(ctx, stateKey(jobID), raw, ttl).Err()
}

// LoadState returns ok=false when no checkpoint exists.
func (r *Redis) LoadState(ctx context.Context, jobID string) ([]byte, bool, error) {
	raw, err := r.rdb.Get(ctx, stateKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (r *Redis) DeleteState(ctx context.Context, jobID string) error {
	return r.rdb.Del(ctx, stateKey(jobID)).Err()
}

func (r *Redis) HasState(ctx context.Context, jobID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, stateKey(jobID)).Result()
	return n > 0, err
}

func (r *Redis) AppendStreamEvent(ctx context.Context, jobID string, ev job.StreamEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	key := streamKey(jobID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.Expire(ctx, key, StreamTTL)
		return nil
	})
	return err
}

// StreamEvents returns the events at index from onward. Malformed entries
// are skipped but still count towards the offset, so next is the offset to
// resume from.
func (r *Redis) StreamEvents(ctx context.Context, jobID string, from int64) ([]job.StreamEvent, int64, error) {
	items, err := r.rdb.LRange(ctx, streamKey(jobID), from, -1).Result()
	if err != nil {
		return nil, from, err
	}
	out := make([]job.StreamEvent, 0, len(items))
	for _, item := range items {
		var ev job.StreamEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, from + int64(len(items)), nil
}

func (r *Redis) BlockToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = BlocklistTTL
	}
	return r.rdb.Set(ctx, blockedKey(jti), "1", ttl).Err()
}

func (r *Redis) IsTokenBlocked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, blockedKey(jti)).Result()
	return n > 0, err
}

// Claim takes a lock key with SETNX semantics.
func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *Redis) SetSchedule(ctx context.Context, jobID, cron string) error {
	return r.rdb.HSet(ctx, schedulesKey, jobID, cron).Err()
}

func (r *Redis) DeleteSchedule(ctx context.Context, jobID string) error {
	return r.rdb.HDel(ctx, schedulesKey, jobID).Err()
}

// ListSchedules maps job id to cron spec.
func (r *Redis) ListSchedules(ctx context.Context) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, schedulesKey).Result()
}
