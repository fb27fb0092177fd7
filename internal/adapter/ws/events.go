package ws

import (
	"time"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
)

// Event type constants for WebSocket messages.
const (
	EventCellStatus        = "cell.status"
	EventProvisionStep     = "cell.step"
	EventServiceStatus     = "service.status"
	EventSessionStatus     = "session.status"
	EventMessageUpdated    = "session.message"
	EventPermissionUpdated = "session.permission"
	EventPermissionReplied = "session.permission_replied"
)

// CellStatusEvent is broadcast when a cell changes lifecycle state.
type CellStatusEvent struct {
	CellID         string      `json:"cell_id"`
	Status         cell.Status `json:"status"`
	LastSetupError string      `json:"last_setup_error,omitempty"`
}

// ProvisionStepEvent is broadcast for every completed provisioning step.
type ProvisionStepEvent struct {
	CellID   string          `json:"cell_id"`
	RunID    string          `json:"run_id"`
	Name     string          `json:"name"`
	Status   cell.StepStatus `json:"status"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

// ServiceStatusEvent is broadcast when the supervisor changes a
// service's status.
type ServiceStatusEvent struct {
	ServiceID string             `json:"service_id"`
	CellID    string             `json:"cell_id"`
	Status    cell.ServiceStatus `json:"status"`
}

// SessionStatusEvent is broadcast on agent session status changes.
type SessionStatusEvent struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// MessageUpdatedEvent carries a freshly reconciled message projection.
type MessageUpdatedEvent struct {
	SessionID string          `json:"session_id"`
	Message   session.Message `json:"message"`
}

// PermissionEvent carries a pending permission request, or just its id
// once replied.
type PermissionEvent struct {
	SessionID    string                     `json:"session_id"`
	Permission   *session.PermissionRequest `json:"permission,omitempty"`
	PermissionID string                     `json:"permission_id,omitempty"`
}
