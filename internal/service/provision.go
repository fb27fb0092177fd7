package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cellbox-dev/cellbox/internal/adapter/otel"
	"github.com/cellbox-dev/cellbox/internal/adapter/ws"
	"github.com/cellbox-dev/cellbox/internal/config"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/broadcast"
	"github.com/cellbox-dev/cellbox/internal/port/database"
	"github.com/cellbox-dev/cellbox/internal/port/launcher"
)

// SessionStarter starts the agent session for a freshly provisioned cell.
type SessionStarter interface {
	Start(ctx context.Context, cellID string) (*session.Session, error)
}

// Provisioner drives a cell from pending through spawning to ready or
// error, emitting one timed step record per discrete action. Step
// history is append-only per run id; a retry starts a new run.
type Provisioner struct {
	store    database.Store
	hub      broadcast.Broadcaster
	alloc    *PortAllocator
	sessions SessionStarter
	metrics  *otel.Metrics
	cfg      config.Provisioner

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewProvisioner creates a provisioner with bounded run concurrency.
func NewProvisioner(store database.Store, hub broadcast.Broadcaster, alloc *PortAllocator, sessions SessionStarter, metrics *otel.Metrics, cfg config.Provisioner) *Provisioner {
	return &Provisioner{
		store:    store,
		hub:      hub,
		alloc:    alloc,
		sessions: sessions,
		metrics:  metrics,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallel)),
		inflight: make(map[string]struct{}),
	}
}

// Provision runs one full provisioning attempt for c. It is safe to
// call for different cells concurrently; a second call for a cell
// whose run is still in flight is rejected.
func (p *Provisioner) Provision(ctx context.Context, c *cell.Cell, bp cell.Blueprint) error {
	p.mu.Lock()
	if _, busy := p.inflight[c.ID]; busy {
		p.mu.Unlock()
		return fmt.Errorf("cell %s: provisioning already in flight", c.ID)
	}
	p.inflight[c.ID] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, c.ID)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("cell %s: acquire provision slot: %w", c.ID, err)
	}
	defer p.sem.Release(1)

	runID := uuid.NewString()
	ctx, span := otel.StartProvisionSpan(ctx, runID, c.ID)
	defer span.End()

	if err := p.setStatus(ctx, c, cell.StatusSpawning, ""); err != nil {
		return err
	}
	slog.Info("provisioning started", "cell", c.ID, "run", runID)

	run := &provisionRun{p: p, cell: c, runID: runID}
	if err := run.execute(ctx, bp); err != nil {
		if p.metrics != nil {
			p.metrics.CellsFailed.Add(ctx, 1)
		}
		// The failing step already moved the cell to error with the
		// verbatim cause; nothing more to record here.
		slog.Warn("provisioning failed", "cell", c.ID, "run", runID, "error", err)
		return err
	}

	if err := p.setStatus(ctx, c, cell.StatusReady, ""); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.CellsProvisioned.Add(ctx, 1)
	}
	slog.Info("provisioning complete", "cell", c.ID, "run", runID)
	return nil
}

func (p *Provisioner) setStatus(ctx context.Context, c *cell.Cell, status cell.Status, setupErr string) error {
	if err := p.store.UpdateCellStatus(ctx, c.ID, status, setupErr); err != nil {
		return fmt.Errorf("cell %s: set status %s: %w", c.ID, status, err)
	}
	c.Status = status
	c.LastSetupError = setupErr
	p.hub.BroadcastEvent(ctx, ws.EventCellStatus, ws.CellStatusEvent{
		CellID:         c.ID,
		Status:         status,
		LastSetupError: setupErr,
	})
	return nil
}

// provisionRun executes the step sequence of one attempt.
type provisionRun struct {
	p     *Provisioner
	cell  *cell.Cell
	runID string
}

func (r *provisionRun) execute(ctx context.Context, bp cell.Blueprint) error {
	if bp.Source != "" {
		if err := r.step(ctx, "copy_workspace", map[string]string{"source": bp.Source}, func(ctx context.Context) error {
			return copyWorkspace(ctx, bp.Source, r.cell.WorkspacePath)
		}); err != nil {
			return err
		}
	}

	var (
		reqs   = bp.PortRequests()
		allocs []cell.PortAllocation
	)
	if len(reqs) > 0 {
		if err := r.step(ctx, "allocate_ports", nil, func(ctx context.Context) error {
			var err error
			allocs, err = r.p.alloc.Allocate(ctx, reqs)
			return err
		}); err != nil {
			return err
		}
	}
	portEnv := PortEnv(reqs, allocs)
	portByName := make(map[string]uint16, len(allocs))
	for _, al := range allocs {
		portByName[al.Name] = al.Port
	}

	for _, spec := range bp.Services {
		if err := r.startService(ctx, spec, portEnv, portByName); err != nil {
			return err
		}
	}

	for _, command := range bp.Setup {
		if len(command) == 0 {
			continue
		}
		name := "setup:" + command[0]
		if err := r.step(ctx, name, map[string]string{"command": fmt.Sprint(command)}, func(ctx context.Context) error {
			return runSetupCommand(ctx, r.cell.WorkspacePath, command, portEnv)
		}); err != nil {
			return err
		}
	}

	return r.step(ctx, "start_agent_session", nil, func(ctx context.Context) error {
		_, err := r.p.sessions.Start(ctx, r.cell.ID)
		return err
	})
}

func (r *provisionRun) startService(ctx context.Context, spec cell.ServiceSpec, portEnv map[string]string, portByName map[string]uint16) error {
	name := "start_service:" + spec.Name
	meta := map[string]string{"kind": string(spec.Kind)}

	return r.step(ctx, name, meta, func(ctx context.Context) error {
		l, err := launcher.For(spec.Kind)
		if err != nil {
			return err
		}

		if spec.Dir == "" {
			spec.Dir = r.cell.WorkspacePath
		} else if !filepath.IsAbs(spec.Dir) {
			spec.Dir = filepath.Join(r.cell.WorkspacePath, spec.Dir)
		}
		pid, err := l.Start(ctx, spec, portEnv)
		if err != nil {
			return err
		}

		portName := spec.Port.Name
		if portName == "" {
			portName = spec.Name
		}
		rec := &cell.ServiceRecord{
			CellID: r.cell.ID,
			Name:   spec.Name,
			Kind:   spec.Kind,
			PID:    pid,
			Port:   portByName[portName],
			Status: cell.ServiceRunning,
		}
		if err := r.p.store.UpsertService(ctx, rec); err != nil {
			return fmt.Errorf("record service %q: %w", spec.Name, err)
		}
		return nil
	})
}

// step times fn, persists and broadcasts the step record, and on
// failure moves the cell to error with the cause preserved verbatim.
func (r *provisionRun) step(ctx context.Context, name string, meta map[string]string, fn func(ctx context.Context) error) error {
	stepCtx := ctx
	if r.p.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.p.cfg.StepTimeout)
		defer cancel()
	}

	stepCtx, span := otel.StartStepSpan(stepCtx, r.runID, name)
	started := time.Now().UTC()
	err := fn(stepCtx)
	duration := time.Since(started)
	span.End()

	st := &cell.Step{
		RunID:     r.runID,
		CellID:    r.cell.ID,
		Name:      name,
		Status:    cell.StepOK,
		StartedAt: started,
		Duration:  duration,
		Metadata:  meta,
	}
	if err != nil {
		st.Status = cell.StepError
		st.Error = err.Error()
	}

	if dbErr := r.p.store.AppendStep(ctx, st); dbErr != nil {
		slog.Warn("step record write failed", "cell", r.cell.ID, "step", name, "error", dbErr)
	}
	r.p.hub.BroadcastEvent(ctx, ws.EventProvisionStep, ws.ProvisionStepEvent{
		CellID:   r.cell.ID,
		RunID:    r.runID,
		Name:     name,
		Status:   st.Status,
		Error:    st.Error,
		Duration: duration,
	})
	if r.p.metrics != nil {
		r.p.metrics.StepsRun.Add(ctx, 1)
		r.p.metrics.StepDuration.Record(ctx, duration.Seconds())
	}

	if err != nil {
		if stErr := r.p.setStatus(ctx, r.cell, cell.StatusError, err.Error()); stErr != nil {
			slog.Error("cell error status write failed", "cell", r.cell.ID, "error", stErr)
		}
		return fmt.Errorf("step %s: %w", name, err)
	}
	return nil
}

// copyWorkspace clones the source tree into the cell workspace.
func copyWorkspace(ctx context.Context, source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create workspace parent: %w", err)
	}
	cmd := exec.CommandContext(ctx, "cp", "-a", source, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("copy workspace: %s: %w", out, err)
	}
	return nil
}

// runSetupCommand runs one setup command inside the workspace with the
// allocated-port environment visible.
func runSetupCommand(ctx context.Context, dir string, command []string, portEnv map[string]string) error {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range portEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("setup %q: %s: %w", command[0], out, err)
	}
	return nil
}
