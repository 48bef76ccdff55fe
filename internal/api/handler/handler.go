package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/imagegen-api/internal/api/dto"
	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/cuongbtq/imagegen-api/internal/engine"
	"github.com/cuongbtq/imagegen-api/internal/worker"
	"github.com/gin-gonic/gin"
)

// JobService is the submit/query surface the handlers depend on
type JobService interface {
	Submit(ctx context.Context, req domain.Request) (domain.Job, error)
	Get(ctx context.Context, id string) (domain.Job, error)
}

// StatsProvider reports dispatcher occupancy
type StatsProvider interface {
	Stats() worker.Stats
}

// HealthCheck probes one backing service
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Engine      engine.Engine
	Dispatcher  StatsProvider
	Checks      map[string]HealthCheck
	ServiceName string
	Version     string
	Now         func() time.Time
}

// JobHandler handles generation job HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	jobs       JobService
	engine     engine.Engine
	dispatcher StatsProvider
	checks     map[string]HealthCheck
	service    string
	version    string
	now        func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &JobHandler{
		logger:     deps.Logger,
		jobs:       deps.Jobs,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		checks:     deps.Checks,
		service:    deps.ServiceName,
		version:    deps.Version,
		now:        now,
	}
}

// writeError maps domain errors onto HTTP status codes
func (h *JobHandler) writeError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  domain.ErrValidation.Error(),
			Field:  ve.Field,
			Detail: ve.Error(),
		})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: domain.ErrJobNotFound.Error()})
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}
