package storage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/imagegen-api/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_TTLOnlyForTerminalJobs(t *testing.T) {
	store := NewRedisStore(nil, slog.Default(), time.Hour, Options{})

	job := domain.NewJob("job-1", testRequest(), time.Now())
	assert.Zero(t, store.ttlFor(job))

	job.State = domain.StateRunning
	assert.Zero(t, store.ttlFor(job))

	job.State = domain.StateFailed
	assert.Equal(t, time.Hour, store.ttlFor(job))

	job.State = domain.StateSucceeded
	assert.Equal(t, time.Hour, store.ttlFor(job))

	noRetention := NewRedisStore(nil, slog.Default(), 0, Options{})
	assert.Zero(t, noRetention.ttlFor(job))
	assert.Equal(t, "imagegen:job:job-1", store.key("job-1"))
}

func newMiniRedisStore(t *testing.T, retention time.Duration, opts Options) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)), retention, opts), mr
}

func TestRedisStore_Lifecycle(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC)
	store, mr := newMiniRedisStore(t, time.Hour, Options{Now: fixedClock(now)})
	ctx := context.Background()

	job, err := store.Create(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, job.State)
	assert.Equal(t, now.Truncate(time.Microsecond), job.CreatedAt)
	assert.Zero(t, mr.TTL(store.key(job.ID)))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	running, err := store.Update(ctx, job.ID, func(j *domain.Job) error { return j.MarkRunning() })
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, running.State)
	assert.Zero(t, mr.TTL(store.key(job.ID)))

	done, err := store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Succeed(domain.Result{Image: "aW1n", Width: 1664, Height: 928}, now.Add(time.Minute))
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, done.State)
	assert.Equal(t, time.Hour, mr.TTL(store.key(job.ID)))

	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1664, got.Result.Width)
	require.NoError(t, got.CheckInvariants())
}

func TestRedisStore_UnknownJob(t *testing.T) {
	store, _ := newMiniRedisStore(t, time.Hour, Options{})
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = store.Update(ctx, "missing", func(j *domain.Job) error { return j.MarkRunning() })
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "missing"), domain.ErrJobNotFound)
}

func TestRedisStore_CreateRetriesCollisions(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	next := 0
	store, _ := newMiniRedisStore(t, time.Hour, Options{NewID: func() string {
		id := ids[next]
		next++
		return id
	}})
	ctx := context.Background()

	first, err := store.Create(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID)

	second, err := store.Create(ctx, testRequest())
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID)
}

func TestRedisStore_CreateExhausted(t *testing.T) {
	store, _ := newMiniRedisStore(t, time.Hour, Options{NewID: func() string { return "same" }})
	ctx := context.Background()

	_, err := store.Create(ctx, testRequest())
	require.NoError(t, err)

	_, err = store.Create(ctx, testRequest())
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestRedisStore_RejectedUpdateReturnsCurrent(t *testing.T) {
	store, _ := newMiniRedisStore(t, time.Hour, Options{})
	ctx := context.Background()

	job, err := store.Create(ctx, testRequest())
	require.NoError(t, err)

	got, err := store.Update(ctx, job.ID, func(j *domain.Job) error { return j.Fail("too early", time.Now()) })
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.StateQueued, got.State)

	stored, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, stored.State)
}

func TestRedisStore_ConcurrentTerminalWritesAreMonotonic(t *testing.T) {
	store, mr := newMiniRedisStore(t, time.Hour, Options{})
	ctx := context.Background()

	job, err := store.Create(ctx, testRequest())
	require.NoError(t, err)
	_, err = store.Update(ctx, job.ID, func(j *domain.Job) error { return j.MarkRunning() })
	require.NoError(t, err)

	const writers = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		errs    = make(chan error, writers)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, job.ID, func(j *domain.Job) error {
				if i%2 == 0 {
					return j.Succeed(domain.Result{Width: i}, time.Now())
				}
				return j.Fail("writer failed", time.Now())
			})
			if err != nil {
				errs <- err
				return
			}
			winners.Add(1)
		}(i)
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), winners.Load())
	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, final.State.IsTerminal())
	require.NoError(t, final.CheckInvariants())
	assert.Equal(t, time.Hour, mr.TTL(store.key(job.ID)))
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr := newMiniRedisStore(t, time.Hour, Options{})
	ctx := context.Background()

	job, err := store.Create(ctx, testRequest())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, job.ID))

	assert.False(t, mr.Exists(store.key(job.ID)))
	_, err = store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
