package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cellbox-dev/cellbox/internal/config"
	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// mockCache is an in-memory cache.Cache ignoring TTLs.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newCellTestEnv(t *testing.T) (*CellService, *mockStore, *fakeBridge, *mockCache) {
	t.Helper()
	procLauncher()

	store := newMockStore()
	bridge := newFakeBridge()
	hub := &mockBroadcaster{}
	cacheMock := newMockCache()

	reconciler := NewSessionReconciler(store, bridge, hub)
	cfg := config.Config{
		Provisioner: config.Provisioner{MaxParallel: 2, StepTimeout: time.Minute, WorkspaceRoot: t.TempDir()},
		Cache:       config.Cache{StatusTTL: time.Minute},
	}
	prov := NewProvisioner(store, hub, NewPortAllocator(), reconciler, nil, cfg.Provisioner)
	sup := NewSupervisor(newMockProbe(), store, hub, nil)
	svc := NewCellService(store, prov, sup, reconciler, cacheMock, hub, cfg)
	return svc, store, bridge, cacheMock
}

// waitForStatus polls the store until the cell reaches status or the
// deadline passes.
func waitForStatus(t *testing.T, store *mockStore, id string, status cell.Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		c, err := store.GetCell(context.Background(), id)
		if err == nil && c.Status == status {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("cell %s never reached %s (last: %+v)", id, status, c)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCellCreate_RequiresName(t *testing.T) {
	svc, _, _, _ := newCellTestEnv(t)

	if _, err := svc.Create(context.Background(), cell.CreateRequest{}); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestCellCreate_ProvisionsToReadyWithSession(t *testing.T) {
	svc, store, _, _ := newCellTestEnv(t)

	c, err := svc.Create(context.Background(), cell.CreateRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Status != cell.StatusPending {
		t.Errorf("fresh cell status = %q, want pending", c.Status)
	}

	waitForStatus(t, store, c.ID, cell.StatusReady)

	if _, err := store.GetSessionByCell(context.Background(), c.ID); err != nil {
		t.Errorf("no agent session bound to the ready cell: %v", err)
	}
}

func TestCellRetry_OnlyFromError(t *testing.T) {
	svc, store, _, _ := newCellTestEnv(t)

	c, err := svc.Create(context.Background(), cell.CreateRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, store, c.ID, cell.StatusReady)

	if _, err := svc.Retry(context.Background(), c.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("retry of a ready cell: err = %v, want ErrInvalidTransition", err)
	}

	// Force the cell into error and retry for real.
	if err := store.UpdateCellStatus(context.Background(), c.ID, cell.StatusError, "setup exploded"); err != nil {
		t.Fatalf("seed error status: %v", err)
	}
	// The first run reached ready and bound a session before the
	// forced error; a retried run starts its own.
	sess, _ := store.GetSessionByCell(context.Background(), c.ID)
	_ = store.DeleteSession(context.Background(), sess.ID)

	if _, err := svc.Retry(context.Background(), c.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	waitForStatus(t, store, c.ID, cell.StatusReady)
}

func TestCellDelete_StopsServicesAndPurgesSession(t *testing.T) {
	svc, store, bridge, _ := newCellTestEnv(t)
	l := procLauncher()

	c, err := svc.Create(context.Background(), cell.CreateRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, store, c.ID, cell.StatusReady)

	rec := cell.ServiceRecord{CellID: c.ID, Name: "web", Kind: cell.KindProcess, PID: 123, Status: cell.ServiceRunning}
	if err := store.UpsertService(context.Background(), &rec); err != nil {
		t.Fatalf("seed service: %v", err)
	}

	if err := svc.Delete(context.Background(), c.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	l.mu.Lock()
	stopped := len(l.stopped)
	l.mu.Unlock()
	if stopped != 1 {
		t.Errorf("expected 1 service stop, got %d", stopped)
	}
	if _, err := store.GetCell(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cell row survived deletion: %v", err)
	}
	if services, _ := store.ListServices(context.Background(), c.ID); len(services) != 0 {
		t.Errorf("service rows survived deletion: %v", services)
	}
	if _, err := store.GetSessionByCell(context.Background(), c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("session survived deletion: %v", err)
	}
	bridge.mu.Lock()
	subs := len(bridge.handlers)
	bridge.mu.Unlock()
	if subs != 0 {
		t.Errorf("event stream subscription survived deletion")
	}
}

func TestCellStatus_AnswersFromCache(t *testing.T) {
	svc, store, _, _ := newCellTestEnv(t)

	c, err := svc.Create(context.Background(), cell.CreateRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitForStatus(t, store, c.ID, cell.StatusReady)

	status, _, err := svc.Status(context.Background(), c.ID)
	if err != nil || status != cell.StatusReady {
		t.Fatalf("Status = %q, %v; want ready", status, err)
	}

	// Mutate the store behind the cache's back; within the TTL the
	// cached answer wins.
	_ = store.UpdateCellStatus(context.Background(), c.ID, cell.StatusError, "late failure")
	status, _, err = svc.Status(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != cell.StatusReady {
		t.Errorf("expected the cached status within TTL, got %q", status)
	}
}
