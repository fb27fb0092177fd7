// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
)

// Store is the port interface for database operations.
type Store interface {
	// Cells
	ListCells(ctx context.Context) ([]cell.Cell, error)
	GetCell(ctx context.Context, id string) (*cell.Cell, error)
	CreateCell(ctx context.Context, c *cell.Cell) (*cell.Cell, error)
	UpdateCellStatus(ctx context.Context, id string, status cell.Status, setupError string) error
	DeleteCell(ctx context.Context, id string) error

	// Services
	ListServices(ctx context.Context, cellID string) ([]cell.ServiceRecord, error)
	UpsertService(ctx context.Context, rec *cell.ServiceRecord) error
	UpdateServiceStatus(ctx context.Context, id string, status cell.ServiceStatus) error
	UpdateServiceRuntime(ctx context.Context, id string, pid int, port uint16) error
	DeleteServices(ctx context.Context, cellID string) error

	// Provisioning steps (append-only per run)
	AppendStep(ctx context.Context, step *cell.Step) error
	ListSteps(ctx context.Context, cellID, runID string) ([]cell.Step, error)

	// Sessions
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetSessionByCell(ctx context.Context, cellID string) (*session.Session, error)
	CreateSession(ctx context.Context, s *session.Session) (*session.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status session.Status, errMsg string) error
	DeleteSession(ctx context.Context, id string) error
}
