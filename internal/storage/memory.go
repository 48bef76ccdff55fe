package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
)

type memoryEntry struct {
	mu  sync.RWMutex
	job domain.Job
}

// MemoryStore keeps jobs for the lifetime of the process.
// The index lock only guards map membership; each job has its own lock.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryEntry
	opts Options
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryEntry),
		opts: opts.withDefaults(),
	}
}

func (s *MemoryStore) Create(ctx context.Context, req domain.Request) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id := s.opts.NewID()
		if _, exists := s.jobs[id]; exists {
			continue
		}
		job := domain.NewJob(id, req, s.opts.Now())
		s.jobs[id] = &memoryEntry{job: job}
		return job.Clone(), nil
	}

	return domain.Job{}, ErrIDSpaceExhausted
}

func (s *MemoryStore) entry(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn Mutator) (domain.Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := applyUpdate(e.job, fn)
	if err != nil {
		return e.job.Clone(), err
	}
	e.job = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// Sweep removes terminal jobs completed before the cutoff
func (s *MemoryStore) Sweep(ctx context.Context, completedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.jobs {
		e.mu.RLock()
		expired := e.job.State.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(completedBefore)
		e.mu.RUnlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored jobs
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
