package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

// redisMaxTxRetries bounds optimistic-lock retries on contended records.
const redisMaxTxRetries = 5

// RedisStore persists job records as JSON values in Redis so a multi-node
// deployment shares one source of truth for job status. Read-modify-write
// updates run under WATCH, which keeps transitions idempotent and safe
// against concurrent workers.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store on an existing Redis client. Records expire
// after ttl; zero means no expiry.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "bukoai:job:", ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key(job.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, to Status, failure *Failure) error {
	return s.transact(ctx, id, func(job *Job) error {
		if err := job.Advance(to); err != nil {
			return err
		}
		if failure != nil {
			job.Failure = failure
		}
		return nil
	})
}

func (s *RedisStore) AppendUsage(ctx context.Context, id string, usage providers.Usage, costUSD float64) error {
	return s.transact(ctx, id, func(job *Job) error {
		job.Usage.Add(usage, costUSD)
		return nil
	})
}

func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*Job) error) error {
	return s.transact(ctx, id, func(job *Job) error {
		prev := job.Status
		if err := mutate(job); err != nil {
			return err
		}
		if job.Status != prev {
			return fmt.Errorf("status changed in Update (%s -> %s), use UpdateStatus", prev, job.Status)
		}
		return nil
	})
}

// transact applies mutate under WATCH, retrying on write conflicts.
func (s *RedisStore) transact(ctx context.Context, id string, mutate func(*Job) error) error {
	key := s.key(id)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		updated, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: too many write conflicts", id)
}
