package domain

import (
	"fmt"
	"time"
)

// Request is the validated input of a generation job
type Request struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	AspectRatio       string  `json:"aspect_ratio"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	TrueCFGScale      float64 `json:"true_cfg_scale"`
	CallbackURL       string  `json:"callback_url,omitempty"`
}

// ResolvedParams is a request expanded into concrete generation parameters
type ResolvedParams struct {
	Prompt         string
	FinalPrompt    string
	NegativePrompt string
	AspectRatio    string
	Language       string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
}

// Result is stored on a succeeded job
type Result struct {
	Image             string  `json:"image,omitempty"`
	ImageURL          string  `json:"image_url,omitempty"`
	ObjectKey         string  `json:"object_key,omitempty"`
	Prompt            string  `json:"prompt"`
	FinalPrompt       string  `json:"final_prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	AspectRatio       string  `json:"aspect_ratio"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	TrueCFGScale      float64 `json:"true_cfg_scale"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Seed              int64   `json:"seed"`
}

// Job is one unit of requested generative work and its lifecycle record
type Job struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Request     Request    `json:"request"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty"`
}

// Timestamp normalises t to UTC at microsecond precision, the resolution durable stores keep
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NewJob returns a queued job for req
func NewJob(id string, req Request, now time.Time) Job {
	return Job{
		ID:          id,
		State:       StateQueued,
		CreatedAt:   Timestamp(now),
		Request:     req,
		CallbackURL: req.CallbackURL,
	}
}

// MarkRunning moves a queued job to running
func (j *Job) MarkRunning() error {
	return j.transition(StateRunning)
}

// Succeed records result and moves a running job to succeeded
func (j *Job) Succeed(result Result, now time.Time) error {
	if err := j.transition(StateSucceeded); err != nil {
		return err
	}
	completed := Timestamp(now)
	j.CompletedAt = &completed
	j.Result = &result
	j.Error = ""
	return nil
}

// Fail records message and moves a running job to failed
func (j *Job) Fail(message string, now time.Time) error {
	if err := j.transition(StateFailed); err != nil {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	completed := Timestamp(now)
	j.CompletedAt = &completed
	j.Result = nil
	j.Error = message
	return nil
}

func (j *Job) transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	j.State = to
	return nil
}

// CheckInvariants verifies the result/error/completed_at fields agree with the state
func (j *Job) CheckInvariants() error {
	if !j.State.Valid() {
		return fmt.Errorf("unknown state %q", j.State)
	}
	switch j.State {
	case StateSucceeded:
		if j.Result == nil || j.Error != "" || j.CompletedAt == nil {
			return fmt.Errorf("succeeded job %s must carry only a result", j.ID)
		}
	case StateFailed:
		if j.Result != nil || j.Error == "" || j.CompletedAt == nil {
			return fmt.Errorf("failed job %s must carry only an error", j.ID)
		}
	default:
		if j.Result != nil || j.Error != "" || j.CompletedAt != nil {
			return fmt.Errorf("%s job %s must not carry an outcome", j.State, j.ID)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share pointers with the store
func (j Job) Clone() Job {
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		j.CompletedAt = &completed
	}
	if j.Result != nil {
		result := *j.Result
		j.Result = &result
	}
	return j
}
