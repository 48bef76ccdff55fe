package domain

import "time"

// JobView is the public shape of a job, shared by the query response and the callback payload
type JobView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// View returns the public snapshot of j
func (j Job) View() JobView {
	c := j.Clone()
	return JobView{
		ID:          c.ID,
		Status:      c.State.Status(),
		CreatedAt:   c.CreatedAt,
		CompletedAt: c.CompletedAt,
		Result:      c.Result,
		Error:       c.Error,
	}
}
