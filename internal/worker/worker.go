package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/artifact"
	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/cuongbtq/imagegen-api/internal/engine"
	"github.com/cuongbtq/imagegen-api/internal/storage"
)

const (
	DefaultConcurrency   = 2
	DefaultQueueCapacity = 100
)

// Notifier receives every job once it reaches a terminal state
type Notifier interface {
	Notify(job domain.Job)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Store         storage.Store
	Engine        engine.Engine
	Artifacts     artifact.Sink
	Notifier      Notifier
	Concurrency   int
	QueueCapacity int
	JobTimeout    time.Duration
	Seed          engine.SeedSource
	WorkerID      string
	Now           func() time.Time
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Concurrency   int `json:"concurrency"`
	QueueCapacity int `json:"queue_capacity"`
	Queued        int `json:"queued"`
	Running       int `json:"running"`
}

// Worker is the execution dispatcher: a bounded queue drained by a fixed pool of goroutines.
// The pool size is the only limit on concurrent engine calls.
type Worker struct {
	logger      *slog.Logger
	store       storage.Store
	engine      engine.Engine
	artifacts   artifact.Sink
	notifier    Notifier
	concurrency int
	jobTimeout  time.Duration
	seed        engine.SeedSource
	workerID    string
	now         func() time.Time

	jobsChan chan string
	stopChan chan struct{}
	mu       sync.RWMutex
	closed   bool
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Int32
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	seed := cfg.Seed
	if seed == nil {
		seed = engine.FixedSeed(42)
	}

	artifacts := cfg.Artifacts
	if artifacts == nil {
		artifacts = artifact.InlineSink{}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "dispatcher"
	}

	return &Worker{
		logger:      cfg.Logger,
		store:       cfg.Store,
		engine:      cfg.Engine,
		artifacts:   artifacts,
		notifier:    cfg.Notifier,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		seed:        seed,
		workerID:    workerID,
		now:         now,
		jobsChan:    make(chan string, capacity),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker pool. Generations run under a context derived from ctx.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("queue_capacity", cap(w.jobsChan)),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.spawnWorkerPool(runCtx)
}

// Submit enqueues a job id without blocking
func (w *Worker) Submit(jobID string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return domain.ErrDispatcherClosed
	}

	select {
	case w.jobsChan <- jobID:
		w.logger.Debug("Job dispatched to worker pool",
			slog.String("job_id", jobID),
			slog.Int("queued", len(w.jobsChan)),
		)
		return nil
	default:
		return fmt.Errorf("%w (capacity %d)", domain.ErrQueueFull, cap(w.jobsChan))
	}
}

// Shutdown stops accepting jobs and drains the queue. When ctx expires first,
// in-flight generations are canceled and still-queued jobs are failed.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobsChan)
	started := w.started
	w.mu.Unlock()

	w.logger.Info("Stopping worker...",
		slog.Int("queued", len(w.jobsChan)),
		slog.Int("running", int(w.running.Load())),
	)

	if !started {
		w.failAbandoned()
		return nil
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Worker shutdown timeout exceeded, canceling in-flight jobs")
		close(w.stopChan)
		w.cancel()
		<-done
		w.failAbandoned()
		return ctx.Err()
	}
}

// Stats returns queue and pool occupancy
func (w *Worker) Stats() Stats {
	return Stats{
		Concurrency:   w.concurrency,
		QueueCapacity: cap(w.jobsChan),
		Queued:        len(w.jobsChan),
		Running:       int(w.running.Load()),
	}
}
