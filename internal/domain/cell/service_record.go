package cell

// ServiceStatus is the last known state of a supervised service.
type ServiceStatus string

const (
	ServiceRunning     ServiceStatus = "running"
	ServiceStopped     ServiceStatus = "stopped"
	ServiceError       ServiceStatus = "error"
	ServiceNeedsResume ServiceStatus = "needs_resume"
)

// ServiceKind selects how a service is launched.
type ServiceKind string

const (
	KindProcess   ServiceKind = "process"
	KindContainer ServiceKind = "container"
	KindCompose   ServiceKind = "compose"
)

// ServiceRecord is the supervisor's view of one supervised service.
// PID 0 means no recorded process; Port 0 means no network listener.
type ServiceRecord struct {
	ID     string        `json:"id"`
	CellID string        `json:"cell_id"`
	Name   string        `json:"name"`
	Kind   ServiceKind   `json:"kind"`
	PID    int           `json:"pid,omitempty"`
	Port   uint16        `json:"port,omitempty"`
	Status ServiceStatus `json:"status"`
}

// ServiceSpec describes how to launch one service of a cell.
type ServiceSpec struct {
	Name    string            `json:"name"`
	Kind    ServiceKind       `json:"kind"`
	Command []string          `json:"command,omitempty"`
	Image   string            `json:"image,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Port    PortRequest       `json:"port"`
}

// ReconcileResult reports the effects of one supervisor pass.
// CleanedPIDs lists foreign processes killed to reclaim ports;
// UpdatedServiceIDs lists services flagged for restart.
type ReconcileResult struct {
	CleanedPIDs       []int    `json:"cleaned_pids"`
	UpdatedServiceIDs []string `json:"updated_service_ids"`
}
