// Package proc implements the launcher port for plain child processes
// and compose stacks.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// Launcher starts services as detached child processes.
type Launcher struct{}

// New creates a plain-process launcher.
func New() *Launcher { return &Launcher{} }

// Kind returns "process".
func (l *Launcher) Kind() cell.ServiceKind { return cell.KindProcess }

// Start launches spec.Command in its own process group and returns the
// child pid. The child outlives the control plane: supervision is done
// via pid/port reconciliation, not via Wait.
func (l *Launcher) Start(_ context.Context, spec cell.ServiceSpec, env map[string]string) (int, error) {
	if len(spec.Command) == 0 {
		return 0, fmt.Errorf("service %q: empty command", spec.Name)
	}

	// Deliberately not CommandContext: the service must outlive the
	// request that created it.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env, env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start service %q: %w", spec.Name, err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("service process exited", "service", spec.Name, "pid", pid, "error", err)
		}
	}()

	return pid, nil
}

// Stop kills the recorded process group.
func (l *Launcher) Stop(_ context.Context, rec cell.ServiceRecord) error {
	if rec.PID <= 0 {
		return nil
	}
	// Negative pid targets the whole process group started via Setpgid.
	err := syscall.Kill(-rec.PID, syscall.SIGTERM)
	if err == syscall.ESRCH {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop service %q (pid %d): %w", rec.Name, rec.PID, err)
	}
	return nil
}

// mergedEnv layers the allocated-port variables over the process
// environment and the spec's own env block.
func mergedEnv(specEnv, portEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range specEnv {
		env = append(env, k+"="+v)
	}
	for k, v := range portEnv {
		env = append(env, k+"="+v)
	}
	return env
}
