package proc

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// ComposeLauncher runs a compose stack through the docker compose CLI.
// The foreground `docker compose up` process is the supervised pid:
// when it dies, the supervisor's liveness probe fails and the stack is
// flagged the same way a plain process would be.
type ComposeLauncher struct {
	proc *Launcher
}

// NewCompose creates a compose-stack launcher.
func NewCompose() *ComposeLauncher {
	return &ComposeLauncher{proc: New()}
}

// Kind returns "compose".
func (l *ComposeLauncher) Kind() cell.ServiceKind { return cell.KindCompose }

// Start runs `docker compose up` in the spec directory and returns its pid.
func (l *ComposeLauncher) Start(ctx context.Context, spec cell.ServiceSpec, env map[string]string) (int, error) {
	up := spec
	up.Command = []string{"docker", "compose", "-p", spec.Name, "up", "--no-color"}
	return l.proc.Start(ctx, up, env)
}

// Stop brings the stack down, then terminates the foreground process.
func (l *ComposeLauncher) Stop(ctx context.Context, rec cell.ServiceRecord) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", rec.Name, "down")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("compose down %q: %s: %w", rec.Name, out, err)
	}
	return l.proc.Stop(ctx, rec)
}
