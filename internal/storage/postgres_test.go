package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRow_QueuedJobHasNullOutcome(t *testing.T) {
	job := domain.NewJob("job-1", testRequest(), time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

	row, err := rowFromJob(job)
	require.NoError(t, err)
	assert.Equal(t, "queued", row.State)
	assert.False(t, row.Result.Valid)
	assert.False(t, row.CompletedAt.Valid)
	assert.JSONEq(t, `{"prompt":"a cat","negative_prompt":"","aspect_ratio":"16:9","num_inference_steps":50,"true_cfg_scale":4,"callback_url":"http://example.com/hook"}`, string(row.Request))

	back, err := row.toJob()
	require.NoError(t, err)
	assert.Equal(t, job, back)
}

func TestJobRow_SucceededJobKeepsResult(t *testing.T) {
	job := domain.NewJob("job-2", testRequest(), time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, job.MarkRunning())
	require.NoError(t, job.Succeed(domain.Result{Image: "aW1n", Width: 1664, Height: 928, Seed: 42}, job.CreatedAt.Add(time.Minute)))

	row, err := rowFromJob(job)
	require.NoError(t, err)
	assert.True(t, row.Result.Valid)
	assert.True(t, row.CompletedAt.Valid)

	back, err := row.toJob()
	require.NoError(t, err)
	require.NotNil(t, back.Result)
	assert.Equal(t, *job.Result, *back.Result)
	assert.Equal(t, *job.CompletedAt, *back.CompletedAt)
	assert.NoError(t, back.CheckInvariants())
}

func TestJobRow_CorruptRequest(t *testing.T) {
	row := jobRow{ID: "x", State: "queued", Request: []byte("{")}

	_, err := row.toJob()
	assert.Error(t, err)
}

// microsecondTime matches timestamps that survive a TIMESTAMPTZ round trip unchanged
type microsecondTime struct{}

func (microsecondTime) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && t.Nanosecond()%int(time.Microsecond) == 0
}

func newMockPostgresStore(t *testing.T, opts Options) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewPostgresStore(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	return store, mock
}

var jobColumns = []string{"id", "state", "request", "result", "error_message", "callback_url", "created_at", "completed_at"}

const requestJSON = `{"prompt":"a cat","negative_prompt":"","aspect_ratio":"16:9","num_inference_steps":50,"true_cfg_scale":4,"callback_url":"http://example.com/hook"}`

func TestPostgresStore_CreateRetriesCollisions(t *testing.T) {
	ids := []string{"dup", "fresh"}
	next := 0
	now := time.Date(2025, 5, 1, 10, 0, 0, 123456789, time.UTC)
	store, mock := newMockPostgresStore(t, Options{
		Now: fixedClock(now),
		NewID: func() string {
			id := ids[next]
			next++
			return id
		},
	})

	insert := regexp.QuoteMeta("INSERT INTO generation_jobs")
	mock.ExpectExec(insert).
		WithArgs("dup", "queued", sqlmock.AnyArg(), nil, "", "http://example.com/hook", microsecondTime{}, nil).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(insert).
		WithArgs("fresh", "queued", sqlmock.AnyArg(), nil, "", "http://example.com/hook", microsecondTime{}, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := store.Create(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "fresh", job.ID)
	assert.Equal(t, domain.StateQueued, job.State)
	assert.Equal(t, now.Truncate(time.Microsecond), job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateExhausted(t *testing.T) {
	store, mock := newMockPostgresStore(t, Options{NewID: func() string { return "same" }})

	for i := 0; i < maxCreateAttempts; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_jobs")).
			WillReturnError(&pq.Error{Code: "23505"})
	}

	_, err := store.Create(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOtherError(t *testing.T) {
	store, mock := newMockPostgresStore(t, Options{})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_jobs")).
		WillReturnError(errors.New("connection reset"))

	_, err := store.Create(context.Background(), testRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIDSpaceExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{
			name: "found",
			rows: sqlmock.NewRows(jobColumns).
				AddRow("job-1", "queued", []byte(requestJSON), nil, "", "http://example.com/hook", created, nil),
		},
		{
			name:    "not found",
			rows:    sqlmock.NewRows(jobColumns),
			wantErr: domain.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t, Options{})
			mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs")).
				WithArgs("job-1").
				WillReturnRows(tt.rows)

			job, err := store.Get(context.Background(), "job-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "job-1", job.ID)
				assert.Equal(t, domain.StateQueued, job.State)
				assert.Equal(t, testRequest(), job.Request)
				assert.Equal(t, created, job.CreatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_UpdateLocksRowAndCommits(t *testing.T) {
	store, mock := newMockPostgresStore(t, Options{})
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM generation_jobs\s+WHERE id = \$1\s+FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "running", []byte(requestJSON), nil, "", "http://example.com/hook", created, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs")).
		WithArgs("succeeded", sqlmock.AnyArg(), "", microsecondTime{}, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := store.Update(context.Background(), "job-1", func(j *domain.Job) error {
		return j.Succeed(domain.Result{Image: "aW1n", Width: 1664, Height: 928}, created.Add(time.Minute+time.Nanosecond))
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, job.State)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, created.Add(time.Minute), *job.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRejectedRollsBack(t *testing.T) {
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	completed := created.Add(time.Minute)
	tests := []struct {
		name      string
		rows      *sqlmock.Rows
		wantErr   error
		wantState domain.State
	}{
		{
			name: "terminal job",
			rows: sqlmock.NewRows(jobColumns).
				AddRow("job-1", "failed", []byte(requestJSON), nil, "boom", "http://example.com/hook", created, completed),
			wantErr:   domain.ErrInvalidTransition,
			wantState: domain.StateFailed,
		},
		{
			name:    "unknown job",
			rows:    sqlmock.NewRows(jobColumns),
			wantErr: domain.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t, Options{})
			mock.ExpectBegin()
			mock.ExpectQuery(`FOR UPDATE`).WithArgs("job-1").WillReturnRows(tt.rows)
			mock.ExpectRollback()

			job, err := store.Update(context.Background(), "job-1", func(j *domain.Job) error {
				return j.Succeed(domain.Result{}, time.Now())
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantState, job.State)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Sweep(t *testing.T) {
	store, mock := newMockPostgresStore(t, Options{})
	cutoff := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM generation_jobs\s+WHERE state IN \('succeeded', 'failed'\)\s+AND completed_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.Sweep(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "removed", affected: 1},
		{name: "unknown job", affected: 0, wantErr: domain.ErrJobNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockPostgresStore(t, Options{})
			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM generation_jobs WHERE id = $1")).
				WithArgs("job-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.Delete(context.Background(), "job-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
