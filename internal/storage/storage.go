// Package storage holds the job table and its backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/google/uuid"
)

// maxCreateAttempts bounds identifier collisions before Create gives up
const maxCreateAttempts = 5

// ErrIDSpaceExhausted is returned when Create cannot find a free identifier
var ErrIDSpaceExhausted = errors.New("could not allocate a unique job id")

// Mutator applies one state transition plus payload to a job copy
type Mutator func(job *domain.Job) error

// Store is the job table. Implementations must make Update atomic with respect to Get.
type Store interface {
	Create(ctx context.Context, req domain.Request) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	Update(ctx context.Context, id string, fn Mutator) (domain.Job, error)
	Delete(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that evict terminal jobs on demand
type Sweeper interface {
	Sweep(ctx context.Context, completedBefore time.Time) (int, error)
}

// Options configures identifier and clock sources shared by all backends
type Options struct {
	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// applyUpdate runs fn on a copy of current and checks the result is a legal successor
func applyUpdate(current domain.Job, fn Mutator) (domain.Job, error) {
	if current.State.IsTerminal() {
		return current, fmt.Errorf("%w: job %s is already %s", domain.ErrInvalidTransition, current.ID, current.State)
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, err
	}

	if next.ID != current.ID ||
		!next.CreatedAt.Equal(current.CreatedAt) ||
		next.Request != current.Request ||
		next.CallbackURL != current.CallbackURL {
		return current, fmt.Errorf("job %s: immutable fields were modified", current.ID)
	}

	if next.State != current.State && !domain.CanTransition(current.State, next.State) {
		return current, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.State, next.State)
	}

	if err := next.CheckInvariants(); err != nil {
		return current, err
	}

	return next, nil
}
