package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/cuongbtq/imagegen-api/internal/resolver"
)

type generation struct {
	img image.Image
	err error
}

// processJob runs one job from queued to a terminal state
func (w *Worker) processJob(ctx context.Context, jobID string) {
	// Store writes must land even when the generation context is canceled.
	storeCtx := context.WithoutCancel(ctx)

	// Step 1: Claim job (queued -> running)
	job, err := w.store.Update(storeCtx, jobID, func(j *domain.Job) error { return j.MarkRunning() })
	if err != nil {
		w.logger.Warn("Failed to claim job, skipping",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Step 2: Resolve parameters
	params, err := resolver.Resolve(job.Request)
	if err != nil {
		w.fail(storeCtx, jobID, err)
		return
	}

	seed := w.seed()
	w.logger.Info("Starting image generation",
		slog.String("job_id", jobID),
		slog.String("aspect_ratio", params.AspectRatio),
		slog.Int("steps", params.Steps),
		slog.String("language", params.Language),
		slog.Int64("seed", seed),
	)

	// Step 3: Generate under the job deadline
	genCtx, cancel := w.jobContext(ctx)
	defer cancel()

	start := time.Now()
	results := make(chan generation, 1)
	go w.generate(genCtx, params, seed, results)

	var out generation
	select {
	case out = <-results:
	case <-genCtx.Done():
		w.fail(storeCtx, jobID, w.deadlineError(ctx, genCtx))
		// The engine still owns the slot until it returns.
		<-results
		w.logger.Info("Abandoned generation returned",
			slog.String("job_id", jobID),
			slog.Duration("elapsed", time.Since(start)),
		)
		return
	}

	if out.err != nil {
		w.fail(storeCtx, jobID, out.err)
		return
	}

	// Step 4: Encode the artifact and record success
	result := domain.Result{
		Prompt:            params.Prompt,
		FinalPrompt:       params.FinalPrompt,
		NegativePrompt:    params.NegativePrompt,
		AspectRatio:       params.AspectRatio,
		NumInferenceSteps: params.Steps,
		TrueCFGScale:      params.CFGScale,
		Width:             params.Width,
		Height:            params.Height,
		Seed:              seed,
	}
	if err := w.artifacts.Attach(storeCtx, jobID, out.img, &result); err != nil {
		w.fail(storeCtx, jobID, err)
		return
	}

	done, err := w.store.Update(storeCtx, jobID, func(j *domain.Job) error {
		return j.Succeed(result, w.now())
	})
	if err != nil {
		w.logger.Error("Failed to update job status to succeeded",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Image generation completed",
		slog.String("job_id", jobID),
		slog.Duration("elapsed", time.Since(start)),
	)

	// Step 5: Notify only after the terminal write is visible
	w.notify(done)
}

func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.jobTimeout > 0 {
		return context.WithTimeout(ctx, w.jobTimeout)
	}
	return context.WithCancel(ctx)
}

// generate calls the engine and converts a panic into a generation error
func (w *Worker) generate(ctx context.Context, params domain.ResolvedParams, seed int64, results chan<- generation) {
	defer func() {
		if r := recover(); r != nil {
			results <- generation{err: fmt.Errorf("%w: engine panic: %v", domain.ErrGeneration, r)}
		}
	}()

	img, err := w.engine.Generate(ctx, params, seed)
	if err == nil && img == nil {
		err = fmt.Errorf("%w: engine returned no image", domain.ErrGeneration)
	}
	results <- generation{img: img, err: err}
}

func (w *Worker) deadlineError(parent, genCtx context.Context) error {
	if parent.Err() != nil {
		return fmt.Errorf("generation canceled: %w", parent.Err())
	}
	if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", domain.ErrGenerationTimeout, w.jobTimeout)
	}
	return genCtx.Err()
}

// fail records cause on the job and notifies
func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	w.logger.Error("Image generation failed",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)

	job, err := w.store.Update(ctx, jobID, func(j *domain.Job) error {
		return j.Fail(cause.Error(), w.now())
	})
	if err != nil {
		w.logger.Error("Failed to update job status to failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.notify(job)
}

func (w *Worker) notify(job domain.Job) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(job)
}
