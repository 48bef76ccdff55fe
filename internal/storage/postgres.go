package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pqUniqueViolation is the SQLSTATE for a duplicate key
const pqUniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS generation_jobs (
		id            TEXT PRIMARY KEY,
		state         TEXT NOT NULL CHECK (state IN ('queued', 'running', 'succeeded', 'failed')),
		request       JSONB NOT NULL,
		result        JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		callback_url  TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_generation_jobs_completed_at
		ON generation_jobs (completed_at) WHERE completed_at IS NOT NULL;
`

// jobRow is the generation_jobs row layout
type jobRow struct {
	ID           string           `db:"id"`
	State        string           `db:"state"`
	Request      []byte           `db:"request"`
	Result       sql.Null[[]byte] `db:"result"`
	ErrorMessage string           `db:"error_message"`
	CallbackURL  string           `db:"callback_url"`
	CreatedAt    time.Time        `db:"created_at"`
	CompletedAt  sql.NullTime     `db:"completed_at"`
}

func rowFromJob(job domain.Job) (jobRow, error) {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	row := jobRow{
		ID:           job.ID,
		State:        string(job.State),
		Request:      request,
		ErrorMessage: job.Error,
		CallbackURL:  job.CallbackURL,
		CreatedAt:    job.CreatedAt,
	}

	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return jobRow{}, fmt.Errorf("failed to marshal result: %w", err)
		}
		row.Result = sql.Null[[]byte]{V: result, Valid: true}
	}

	if job.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	return row, nil
}

func (r jobRow) toJob() (domain.Job, error) {
	job := domain.Job{
		ID:          r.ID,
		State:       domain.State(r.State),
		CreatedAt:   r.CreatedAt.UTC(),
		Error:       r.ErrorMessage,
		CallbackURL: r.CallbackURL,
	}

	if err := json.Unmarshal(r.Request, &job.Request); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal request: %w", err)
	}

	if r.Result.Valid && len(r.Result.V) > 0 {
		var result domain.Result
		if err := json.Unmarshal(r.Result.V, &result); err != nil {
			return domain.Job{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		job.Result = &result
	}

	if r.CompletedAt.Valid {
		completed := r.CompletedAt.Time.UTC()
		job.CompletedAt = &completed
	}

	return job, nil
}

// PostgresStore persists jobs in PostgreSQL. Updates lock the row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	opts   Options
}

// NewPostgresStore creates a store on db
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger, opts Options) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// EnsureSchema creates the jobs table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create generation_jobs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, req domain.Request) (domain.Job, error) {
	query := `
		INSERT INTO generation_jobs (
			id, state, request, result, error_message, callback_url, created_at, completed_at
		) VALUES (
			:id, :state, :request, :result, :error_message, :callback_url, :created_at, :completed_at
		)
	`

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		job := domain.NewJob(s.opts.NewID(), req, s.opts.Now())
		row, err := rowFromJob(job)
		if err != nil {
			return domain.Job{}, err
		}

		_, err = s.db.NamedExecContext(ctx, query, row)
		if err == nil {
			return job, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			s.logger.Warn("Job id collision, retrying",
				slog.String("job_id", job.ID),
			)
			continue
		}
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	return domain.Job{}, ErrIDSpaceExhausted
}

const selectJobColumns = `
	SELECT id, state, request, result, error_message, callback_url, created_at, completed_at
	FROM generation_jobs
	WHERE id = $1
`

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, selectJobColumns, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return domain.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob()
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn Mutator) (domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var row jobRow
	if err := tx.GetContext(ctx, &row, selectJobColumns+" FOR UPDATE", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return domain.Job{}, fmt.Errorf("failed to lock job: %w", err)
	}

	current, err := row.toJob()
	if err != nil {
		return domain.Job{}, err
	}

	next, err := applyUpdate(current, fn)
	if err != nil {
		return current, err
	}

	nextRow, err := rowFromJob(next)
	if err != nil {
		return current, err
	}

	query := `
		UPDATE generation_jobs
		SET state = :state,
			result = :result,
			error_message = :error_message,
			completed_at = :completed_at,
			updated_at = NOW()
		WHERE id = :id
	`
	if _, err := tx.NamedExecContext(ctx, query, nextRow); err != nil {
		return current, fmt.Errorf("failed to update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("failed to commit job update: %w", err)
	}

	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM generation_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context, completedBefore time.Time) (int, error) {
	query := `
		DELETE FROM generation_jobs
		WHERE state IN ('succeeded', 'failed')
		  AND completed_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, completedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}
