// Package launcher defines the port for starting and stopping a cell's
// supervised services.
package launcher

import (
	"context"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// Launcher is the port interface for one way of running a service
// (plain process, container, compose stack).
type Launcher interface {
	// Kind returns the service kind this launcher handles.
	Kind() cell.ServiceKind

	// Start launches the service described by spec with the given
	// environment and returns the host pid of the started process.
	Start(ctx context.Context, spec cell.ServiceSpec, env map[string]string) (pid int, err error)

	// Stop terminates the service. Stopping an already-dead service is
	// not an error.
	Stop(ctx context.Context, rec cell.ServiceRecord) error
}
