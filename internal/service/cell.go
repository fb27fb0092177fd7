package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cellbox-dev/cellbox/internal/adapter/ws"
	"github.com/cellbox-dev/cellbox/internal/config"
	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/domain/session"
	"github.com/cellbox-dev/cellbox/internal/port/broadcast"
	"github.com/cellbox-dev/cellbox/internal/port/cache"
	"github.com/cellbox-dev/cellbox/internal/port/database"
	"github.com/cellbox-dev/cellbox/internal/port/launcher"
)

// CellService exposes cell lifecycle commands to the API layer and runs
// the periodic supervisor sweep that relaunches flagged services.
type CellService struct {
	store    database.Store
	prov     *Provisioner
	sup      *Supervisor
	sessions *SessionReconciler
	cache    cache.Cache
	hub      broadcast.Broadcaster

	workspaceRoot string
	statusTTL     time.Duration
	sweepInterval time.Duration
}

// NewCellService wires the cell service.
func NewCellService(store database.Store, prov *Provisioner, sup *Supervisor, sessions *SessionReconciler, c cache.Cache, hub broadcast.Broadcaster, cfg config.Config) *CellService {
	return &CellService{
		store:         store,
		prov:          prov,
		sup:           sup,
		sessions:      sessions,
		cache:         c,
		hub:           hub,
		workspaceRoot: cfg.Provisioner.WorkspaceRoot,
		statusTTL:     cfg.Cache.StatusTTL,
		sweepInterval: cfg.Supervisor.SweepInterval,
	}
}

// Create persists a new pending cell and kicks off provisioning in the
// background. The blueprint is loaded up front so a malformed one fails
// the request instead of a run.
func (s *CellService) Create(ctx context.Context, req cell.CreateRequest) (*cell.Cell, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("cell name is required")
	}

	source := req.SourcePath
	if source == "" {
		source = req.TemplateID
	}
	bp, err := LoadBlueprint(source)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	c := &cell.Cell{
		ID:            id,
		Name:          req.Name,
		TemplateID:    source,
		WorkspacePath: filepath.Join(s.workspaceRoot, id),
		Status:        cell.StatusPending,
	}
	created, err := s.store.CreateCell(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create cell: %w", err)
	}

	go s.provisionDetached(*created, bp)
	return created, nil
}

// Retry restarts provisioning for a failed cell with a fresh run. Only
// cells in error can be retried.
func (s *CellService) Retry(ctx context.Context, id string) (*cell.Cell, error) {
	c, err := s.store.GetCell(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != cell.StatusError {
		return nil, fmt.Errorf("retry cell %s in status %s: %w", id, c.Status, domain.ErrInvalidTransition)
	}

	bp, err := LoadBlueprint(c.TemplateID)
	if err != nil {
		return nil, err
	}

	s.invalidateStatus(ctx, id)
	go s.provisionDetached(*c, bp)
	return c, nil
}

// Delete tears the cell down: services stopped, session purged, records
// removed. Stop failures are logged and do not block deletion.
func (s *CellService) Delete(ctx context.Context, id string) error {
	c, err := s.store.GetCell(ctx, id)
	if err != nil {
		return err
	}

	services, err := s.store.ListServices(ctx, id)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, rec := range services {
		l, err := launcher.For(rec.Kind)
		if err != nil {
			slog.Warn("no launcher for service, skipping stop", "service", rec.Name, "kind", rec.Kind)
			continue
		}
		if err := l.Stop(ctx, rec); err != nil {
			slog.Warn("service stop failed", "cell", id, "service", rec.Name, "error", err)
		}
	}
	if err := s.store.DeleteServices(ctx, id); err != nil {
		return fmt.Errorf("delete services: %w", err)
	}

	if sess, err := s.store.GetSessionByCell(ctx, id); err == nil {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil {
			slog.Warn("session teardown failed", "cell", id, "session", sess.ID, "error", err)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("lookup session: %w", err)
	}

	if err := s.store.DeleteCell(ctx, id); err != nil {
		return err
	}
	s.invalidateStatus(ctx, id)

	slog.Info("cell deleted", "cell", id, "name", c.Name)
	return nil
}

// Get returns one cell.
func (s *CellService) Get(ctx context.Context, id string) (*cell.Cell, error) {
	return s.store.GetCell(ctx, id)
}

// List returns all cells.
func (s *CellService) List(ctx context.Context) ([]cell.Cell, error) {
	return s.store.ListCells(ctx)
}

// Services returns the cell's supervised service records.
func (s *CellService) Services(ctx context.Context, cellID string) ([]cell.ServiceRecord, error) {
	return s.store.ListServices(ctx, cellID)
}

// Steps returns one provisioning run's step history in order.
func (s *CellService) Steps(ctx context.Context, cellID, runID string) ([]cell.Step, error) {
	return s.store.ListSteps(ctx, cellID, runID)
}

// Session returns the agent session bound to a cell.
func (s *CellService) Session(ctx context.Context, cellID string) (*session.Session, error) {
	return s.store.GetSessionByCell(ctx, cellID)
}

// cellStatus is the cached answer for status polls.
type cellStatus struct {
	Status         cell.Status `json:"status"`
	LastSetupError string      `json:"last_setup_error,omitempty"`
}

// Status answers high-frequency status polls from the cache; staleness
// is bounded by the configured TTL.
func (s *CellService) Status(ctx context.Context, id string) (cell.Status, string, error) {
	key := statusKey(id)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cs cellStatus
		if err := json.Unmarshal(data, &cs); err == nil {
			return cs.Status, cs.LastSetupError, nil
		}
	}

	c, err := s.store.GetCell(ctx, id)
	if err != nil {
		return "", "", err
	}
	if data, err := json.Marshal(cellStatus{Status: c.Status, LastSetupError: c.LastSetupError}); err == nil {
		if err := s.cache.Set(ctx, key, data, s.statusTTL); err != nil {
			slog.Debug("status cache write failed", "cell", id, "error", err)
		}
	}
	return c.Status, c.LastSetupError, nil
}

func (s *CellService) invalidateStatus(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, statusKey(id)); err != nil {
		slog.Debug("status cache invalidation failed", "cell", id, "error", err)
	}
}

func statusKey(id string) string {
	return "cell:status:" + id
}

func (s *CellService) provisionDetached(c cell.Cell, bp cell.Blueprint) {
	ctx := context.Background()
	if err := s.prov.Provision(ctx, &c, bp); err != nil {
		slog.Error("provisioning failed", "cell", c.ID, "error", err)
	}
	s.invalidateStatus(ctx, c.ID)
}

// RunSweeps reconciles every ready cell's services on a fixed interval
// until ctx is cancelled. Sweeps are serialized by construction: the
// next tick does not start a pass while one is running.
func (s *CellService) RunSweeps(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one supervisor pass over all ready cells and relaunches
// the services the pass flagged.
func (s *CellService) Sweep(ctx context.Context) {
	cells, err := s.store.ListCells(ctx)
	if err != nil {
		slog.Warn("sweep: list cells failed", "error", err)
		return
	}

	for _, c := range cells {
		if c.Status != cell.StatusReady {
			continue
		}
		services, err := s.store.ListServices(ctx, c.ID)
		if err != nil {
			slog.Warn("sweep: list services failed", "cell", c.ID, "error", err)
			continue
		}
		res := s.sup.Reconcile(ctx, services)
		if len(res.CleanedPIDs) > 0 {
			slog.Info("sweep reclaimed orphaned pids", "cell", c.ID, "pids", res.CleanedPIDs)
		}

		byID := make(map[string]cell.ServiceRecord, len(services))
		for _, rec := range services {
			byID[rec.ID] = rec
		}
		for _, id := range res.UpdatedServiceIDs {
			s.resumeService(ctx, c, byID[id])
		}
	}
}

// resumeService relaunches one flagged service using its blueprint
// spec, keeping the port the service was allocated at provision time.
func (s *CellService) resumeService(ctx context.Context, c cell.Cell, rec cell.ServiceRecord) {
	bp, err := LoadBlueprint(c.TemplateID)
	if err != nil {
		slog.Warn("resume: blueprint load failed", "cell", c.ID, "service", rec.Name, "error", err)
		return
	}

	var spec *cell.ServiceSpec
	for i := range bp.Services {
		if bp.Services[i].Name == rec.Name {
			spec = &bp.Services[i]
			break
		}
	}
	if spec == nil {
		slog.Warn("resume: service not in blueprint", "cell", c.ID, "service", rec.Name)
		return
	}
	if spec.Dir == "" {
		spec.Dir = c.WorkspacePath
	} else if !filepath.IsAbs(spec.Dir) {
		spec.Dir = filepath.Join(c.WorkspacePath, spec.Dir)
	}

	env := map[string]string{}
	if spec.Port.EnvVar != "" && rec.Port != 0 {
		env[spec.Port.EnvVar] = fmt.Sprintf("%d", rec.Port)
	}

	l, err := launcher.For(rec.Kind)
	if err != nil {
		slog.Warn("resume: no launcher", "service", rec.Name, "kind", rec.Kind)
		return
	}
	pid, err := l.Start(ctx, *spec, env)
	if err != nil {
		slog.Error("resume: service relaunch failed", "cell", c.ID, "service", rec.Name, "error", err)
		if uerr := s.store.UpdateServiceStatus(ctx, rec.ID, cell.ServiceError); uerr != nil {
			slog.Warn("resume: status write failed", "service", rec.ID, "error", uerr)
		}
		return
	}

	if err := s.store.UpdateServiceRuntime(ctx, rec.ID, pid, rec.Port); err != nil {
		slog.Warn("resume: runtime write failed", "service", rec.ID, "error", err)
	}
	if err := s.store.UpdateServiceStatus(ctx, rec.ID, cell.ServiceRunning); err != nil {
		slog.Warn("resume: status write failed", "service", rec.ID, "error", err)
	}
	s.hub.BroadcastEvent(ctx, ws.EventServiceStatus, ws.ServiceStatusEvent{
		ServiceID: rec.ID,
		CellID:    rec.CellID,
		Status:    cell.ServiceRunning,
	})
	slog.Info("service resumed", "cell", c.ID, "service", rec.Name, "pid", pid)
}
