package domain

// State is the lifecycle state of a generation job.
type State string

// Job states. Transitions are queued -> running -> succeeded|failed.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status labels exposed on the wire.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateFailed:
		return true
	}
	return false
}

// Status maps the internal state to its wire label.
func (s State) Status() string {
	switch s {
	case StateQueued:
		return StatusPending
	case StateRunning:
		return StatusProcessing
	case StateSucceeded:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	default:
		return string(s)
	}
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning
	case StateRunning:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}
