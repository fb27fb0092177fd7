// Package cell defines the core types for isolated development environments.
package cell

import "time"

// Status is the lifecycle state of a cell.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSpawning Status = "spawning"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Cell is a short-lived, isolated development environment hosting a set
// of supervised services and one agent session.
type Cell struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	TemplateID     string    `json:"template_id,omitempty"`
	WorkspacePath  string    `json:"workspace_path"`
	Status         Status    `json:"status"`
	LastSetupError string    `json:"last_setup_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateRequest is the request body for creating a new cell.
type CreateRequest struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}
