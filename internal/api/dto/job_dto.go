package dto

import (
	"time"

	"github.com/cuongbtq/imagegen-api/internal/domain"
	"github.com/cuongbtq/imagegen-api/internal/resolver"
)

// CreateGenerationRequest is the body of POST /v1/images/generations.
// Optional knobs are pointers so an explicit zero is rejected instead of defaulted.
type CreateGenerationRequest struct {
	Prompt            string   `json:"prompt" binding:"required"`
	NegativePrompt    *string  `json:"negative_prompt"`
	AspectRatio       *string  `json:"aspect_ratio"`
	NumInferenceSteps *int     `json:"num_inference_steps"`
	TrueCFGScale      *float64 `json:"true_cfg_scale"`
	CallbackURL       string   `json:"callback_url"`
}

// ToDomain fills defaults for omitted fields
func (r CreateGenerationRequest) ToDomain() domain.Request {
	req := domain.Request{
		Prompt:            r.Prompt,
		NegativePrompt:    resolver.DefaultNegativePrompt,
		AspectRatio:       resolver.DefaultAspectRatio,
		NumInferenceSteps: resolver.DefaultSteps,
		TrueCFGScale:      resolver.DefaultCFGScale,
		CallbackURL:       r.CallbackURL,
	}
	if r.NegativePrompt != nil {
		req.NegativePrompt = *r.NegativePrompt
	}
	if r.AspectRatio != nil {
		req.AspectRatio = *r.AspectRatio
	}
	if r.NumInferenceSteps != nil {
		req.NumInferenceSteps = *r.NumInferenceSteps
	}
	if r.TrueCFGScale != nil {
		req.TrueCFGScale = *r.TrueCFGScale
	}
	return req
}

// SubmitResponse is returned as soon as the job is queued
type SubmitResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSubmitResponse builds the submission acknowledgement for job
func NewSubmitResponse(job domain.Job) SubmitResponse {
	return SubmitResponse{
		ID:        job.ID,
		Status:    job.State.Status(),
		CreatedAt: job.CreatedAt,
	}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string            `json:"status"`
	ModelLoaded  bool              `json:"model_loaded"`
	Device       string            `json:"device"`
	DType        string            `json:"torch_dtype,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Queue        any               `json:"queue,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}
