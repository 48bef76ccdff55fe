package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/imagegen-api/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// CreateGeneration handles POST /v1/images/generations
// Queues a generation job and returns immediately
func (h *JobHandler) CreateGeneration(c *gin.Context) {
	var req dto.CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "invalid request body",
			Detail: err.Error(),
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSubmitResponse(job))
}

// GetGeneration handles GET /v1/images/generations/:id
// Returns the current job snapshot
func (h *JobHandler) GetGeneration(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, job.View())
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	info := h.engine.Info()

	status := "healthy"
	if !info.Loaded {
		status = "loading"
	}

	resp := dto.HealthResponse{
		Status:      status,
		ModelLoaded: info.Loaded,
		Device:      info.Device,
		DType:       info.DType,
		Timestamp:   h.now().UTC(),
	}
	if h.dispatcher != nil {
		resp.Queue = h.dispatcher.Stats()
	}

	if len(h.checks) > 0 {
		resp.Dependencies = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(c.Request.Context()); err != nil {
				h.logger.Warn("Health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Root handles GET /
func (h *JobHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"version": h.version,
		"endpoints": gin.H{
			"generate": "POST /v1/images/generations",
			"status":   "GET /v1/images/generations/{id}",
			"health":   "GET /health",
		},
	})
}
