// Package service composes the resolver, job store and dispatcher into the submit and query operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/cuongbtq/imagegen-api/internal/resolver"
	"github.com/cuongbtq/imagegen-api/internal/storage"
)

// Dispatcher accepts queued job ids without blocking
type Dispatcher interface {
	Submit(jobID string) error
}

// JobService implements submission and lookup of generation jobs
type JobService struct {
	store      storage.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewJobService creates a JobService
func NewJobService(store storage.Store, dispatcher Dispatcher, logger *slog.Logger) *JobService {
	return &JobService{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Submit validates req, creates a queued job and hands it to the dispatcher.
// Invalid requests never create a job.
func (s *JobService) Submit(ctx context.Context, req domain.Request) (domain.Job, error) {
	params, err := resolver.Resolve(req)
	if err != nil {
		return domain.Job{}, err
	}

	if err := validateCallbackURL(req.CallbackURL); err != nil {
		return domain.Job{}, err
	}

	job, err := s.store.Create(ctx, req)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.dispatcher.Submit(job.ID); err != nil {
		// Leave the store as it was before the rejected submission.
		if delErr := s.store.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil && !errors.Is(delErr, domain.ErrJobNotFound) {
			s.logger.Error("Failed to remove rejected job",
				slog.String("job_id", job.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return domain.Job{}, err
	}

	s.logger.Info("Job queued",
		slog.String("job_id", job.ID),
		slog.String("aspect_ratio", params.AspectRatio),
		slog.Int("width", params.Width),
		slog.Int("height", params.Height),
		slog.Bool("callback", job.CallbackURL != ""),
	)

	return job, nil
}

// Get returns the current snapshot of a job
func (s *JobService) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.store.Get(ctx, id)
}

func validateCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.NewValidationError("callback_url", "is not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.NewValidationError("callback_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return domain.NewValidationError("callback_url", "host is required")
	}
	return nil
}
