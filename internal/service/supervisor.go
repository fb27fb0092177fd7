package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cellbox-dev/cellbox/internal/adapter/otel"
	"github.com/cellbox-dev/cellbox/internal/adapter/ws"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
	"github.com/cellbox-dev/cellbox/internal/port/broadcast"
	"github.com/cellbox-dev/cellbox/internal/port/database"
	"github.com/cellbox-dev/cellbox/internal/port/osproc"
)

// Supervisor reconciles recorded service state against live OS
// processes and ports. It kills orphaned listeners and flags services
// for restart; the actual relaunch is the cell service's job.
type Supervisor struct {
	probe   osproc.Probe
	store   database.Store
	hub     broadcast.Broadcaster
	metrics *otel.Metrics

	// sweeping guards against overlapping reconciliation passes.
	sweeping sync.Mutex
}

// NewSupervisor creates a supervisor over the given OS probe.
func NewSupervisor(probe osproc.Probe, store database.Store, hub broadcast.Broadcaster, metrics *otel.Metrics) *Supervisor {
	return &Supervisor{probe: probe, store: store, hub: hub, metrics: metrics}
}

// Reconcile inspects each service record and returns the pids it
// killed and the ids of services that should be restarted. A service
// whose recorded pid is alive is left untouched. A dead service with a
// recorded port gets every foreign pid on that port killed; it is
// flagged for restart only when its last known status was running;
// stopped services get their leaked listeners reclaimed but stay down.
//
// Probe and kill failures are treated as process-already-gone; one
// service's trouble never aborts the rest of the pass. Re-running the
// pass with no intervening OS change yields an empty result.
func (s *Supervisor) Reconcile(ctx context.Context, services []cell.ServiceRecord) cell.ReconcileResult {
	s.sweeping.Lock()
	defer s.sweeping.Unlock()

	result := cell.ReconcileResult{
		CleanedPIDs:       []int{},
		UpdatedServiceIDs: []string{},
	}

	for _, svc := range services {
		if svc.PID > 0 && s.probe.Alive(svc.PID) {
			continue
		}

		if svc.Port != 0 {
			result.CleanedPIDs = append(result.CleanedPIDs, s.cleanPort(ctx, svc)...)
		}

		// Only services that were last seen running come back; a
		// stopped service staying down is operator intent.
		if svc.Status == cell.ServiceRunning {
			result.UpdatedServiceIDs = append(result.UpdatedServiceIDs, svc.ID)
			s.flagForResume(ctx, svc)
		}
	}

	return result
}

// cleanPort kills every pid currently bound to the service's recorded
// port. The previous owner is dead, so anything still listening there
// is an orphan of an earlier instance.
func (s *Supervisor) cleanPort(ctx context.Context, svc cell.ServiceRecord) []int {
	pids, err := s.probe.PIDsOnPort(svc.Port)
	if err != nil {
		slog.Debug("port lookup failed, treating as free", "service", svc.Name, "port", svc.Port, "error", err)
		return nil
	}

	var cleaned []int
	for _, pid := range pids {
		if err := s.probe.Kill(pid); err != nil {
			slog.Warn("orphan kill failed", "service", svc.Name, "pid", pid, "error", err)
			continue
		}
		slog.Info("killed orphaned listener", "service", svc.Name, "port", svc.Port, "pid", pid)
		cleaned = append(cleaned, pid)
	}
	if s.metrics != nil && len(cleaned) > 0 {
		s.metrics.OrphansCleaned.Add(ctx, int64(len(cleaned)))
	}
	return cleaned
}

// flagForResume records the restart flag and notifies the UI. Store
// failures are logged only: the next sweep will find the service dead
// again and re-flag it.
func (s *Supervisor) flagForResume(ctx context.Context, svc cell.ServiceRecord) {
	if s.metrics != nil {
		s.metrics.ServicesRestarted.Add(ctx, 1)
	}
	if s.store != nil {
		if err := s.store.UpdateServiceStatus(ctx, svc.ID, cell.ServiceNeedsResume); err != nil {
			slog.Warn("flag service for resume failed", "service", svc.Name, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventServiceStatus, ws.ServiceStatusEvent{
			ServiceID: svc.ID,
			CellID:    svc.CellID,
			Status:    cell.ServiceNeedsResume,
		})
	}
}
