package cell

import "time"

// StepStatus is the outcome of one provisioning step.
type StepStatus string

const (
	StepOK    StepStatus = "ok"
	StepError StepStatus = "error"
)

// Step is one timed action within a provisioning run. Steps are
// append-only per RunID; a retry starts a new run and leaves the prior
// run's steps untouched.
type Step struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id"`
	CellID    string            `json:"cell_id"`
	Name      string            `json:"name"`
	Status    StepStatus        `json:"status"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
