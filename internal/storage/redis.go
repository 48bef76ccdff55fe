package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "imagegen:job:"
	maxWatchRetries       = 10
)

// RedisStore keeps each job as a JSON value. Updates use WATCH/MULTI so a
// concurrent writer forces a retry instead of a lost update. Terminal jobs
// expire after the retention period.
type RedisStore struct {
	rdb       goredis.UniversalClient
	logger    *slog.Logger
	opts      Options
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a store on rdb. A zero retention keeps terminal jobs forever.
func NewRedisStore(rdb goredis.UniversalClient, logger *slog.Logger, retention time.Duration, opts Options) *RedisStore {
	return &RedisStore{
		rdb:       rdb,
		logger:    logger,
		opts:      opts.withDefaults(),
		prefix:    defaultRedisKeyPrefix,
		retention: retention,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// ttlFor returns the expiry to set when writing job
func (s *RedisStore) ttlFor(job domain.Job) time.Duration {
	if job.State.IsTerminal() && s.retention > 0 {
		return s.retention
	}
	return 0
}

func (s *RedisStore) Create(ctx context.Context, req domain.Request) (domain.Job, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		job := domain.NewJob(s.opts.NewID(), req, s.opts.Now())
		data, err := json.Marshal(job)
		if err != nil {
			return domain.Job{}, fmt.Errorf("failed to marshal job: %w", err)
		}

		created, err := s.rdb.SetNX(ctx, s.key(job.ID), data, 0).Result()
		if err != nil {
			return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
		}
		if created {
			return job, nil
		}

		s.logger.Warn("Job id collision, retrying",
			slog.String("job_id", job.ID),
		)
	}

	return domain.Job{}, ErrIDSpaceExhausted
}

func decodeRedisJob(data []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Job, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return domain.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeRedisJob(data)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn Mutator) (domain.Job, error) {
	key := s.key(id)
	var current, next domain.Job

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
			}
			return fmt.Errorf("failed to get job: %w", err)
		}

		current, err = decodeRedisJob(data)
		if err != nil {
			return err
		}

		next, err = applyUpdate(current, fn)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttlFor(next))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		current = domain.Job{}
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return current, err
	}

	return current, fmt.Errorf("failed to update job %s: too many concurrent writers", id)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.rdb.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}
