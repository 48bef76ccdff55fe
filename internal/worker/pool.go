package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case jobID, ok := <-w.jobsChan:
			if !ok {
				w.logger.Debug("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
			)

			w.running.Add(1)
			w.processJob(ctx, jobID)
			w.running.Add(-1)
		}
	}
}

// failAbandoned fails every job still sitting in the closed queue
func (w *Worker) failAbandoned() {
	ctx := context.Background()
	for jobID := range w.jobsChan {
		_, err := w.store.Update(ctx, jobID, func(j *domain.Job) error { return j.MarkRunning() })
		if err != nil {
			w.logger.Error("Failed to claim abandoned job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		job, err := w.store.Update(ctx, jobID, func(j *domain.Job) error {
			return j.Fail("service shutting down before the job started", w.now())
		})
		if err != nil {
			w.logger.Error("Failed to fail abandoned job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.logger.Warn("Queued job abandoned on shutdown",
			slog.String("job_id", jobID),
		)
		w.notify(job)
	}
}
