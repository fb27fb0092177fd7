package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cellbox-dev/cellbox/internal/adapter/docker"
	cbhttp "github.com/cellbox-dev/cellbox/internal/adapter/http"
	cbnats "github.com/cellbox-dev/cellbox/internal/adapter/nats"
	"github.com/cellbox-dev/cellbox/internal/adapter/osproc"
	"github.com/cellbox-dev/cellbox/internal/adapter/otel"
	"github.com/cellbox-dev/cellbox/internal/adapter/postgres"
	"github.com/cellbox-dev/cellbox/internal/adapter/proc"
	"github.com/cellbox-dev/cellbox/internal/adapter/ristretto"
	"github.com/cellbox-dev/cellbox/internal/adapter/ws"
	"github.com/cellbox-dev/cellbox/internal/config"
	"github.com/cellbox-dev/cellbox/internal/domain"
	"github.com/cellbox-dev/cellbox/internal/logger"
	"github.com/cellbox-dev/cellbox/internal/port/launcher"
	"github.com/cellbox-dev/cellbox/internal/resilience"
	"github.com/cellbox-dev/cellbox/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workspace_root", cfg.Provisioner.WorkspaceRoot,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Logging.Service, cfg.Telemetry.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(sctx)
	}()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bridge, err := cbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bridge.Close() }()

	statusCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer statusCache.Close()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Launchers ---

	launcher.Register(proc.New())
	launcher.Register(proc.NewCompose())
	if dockerLauncher, err := docker.New(); err == nil {
		launcher.Register(dockerLauncher)
	} else {
		slog.Warn("docker unavailable, container services disabled", "error", err)
	}
	slog.Info("launchers registered", "kinds", launcher.Available())

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	reconciler := service.NewSessionReconciler(store, bridge, hub)
	enforcer := service.NewContinuationEnforcer(bridge, breaker, metrics, cfg.Continuation.CheckDelay)
	reconciler.AddObserver(enforcer)

	alloc := service.NewPortAllocator()
	prov := service.NewProvisioner(store, hub, alloc, reconciler, metrics, cfg.Provisioner)
	sup := service.NewSupervisor(osproc.New(), store, hub, metrics)
	cells := service.NewCellService(store, prov, sup, reconciler, statusCache, hub, *cfg)

	reattachSessions(ctx, store, reconciler)

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go cells.RunSweeps(sweepCtx)

	// --- HTTP ---

	handlers := &cbhttp.Handlers{
		Cells:    cells,
		Sessions: reconciler,
		Bridge:   bridge,
		Breaker:  breaker,
	}

	r := chi.NewRouter()
	r.Use(cbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cbhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/healthz", healthHandler(bridge, pool))
	r.Get("/ws", hub.HandleWS)
	cbhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")
	stopSweeps()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// reattachSessions resubscribes the event streams of sessions that
// survived a control plane restart. Each stream opens with a fresh
// history snapshot, so projections rebuild on their own.
func reattachSessions(ctx context.Context, store *postgres.Store, reconciler *service.SessionReconciler) {
	cells, err := store.ListCells(ctx)
	if err != nil {
		slog.Warn("session reattach: list cells failed", "error", err)
		return
	}
	for _, c := range cells {
		sess, err := store.GetSessionByCell(ctx, c.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("session reattach: lookup failed", "cell", c.ID, "error", err)
			continue
		}
		if err := reconciler.Attach(ctx, sess.ID); err != nil {
			slog.Warn("session reattach failed", "session", sess.ID, "error", err)
			continue
		}
		slog.Info("session reattached", "cell", c.ID, "session", sess.ID)
	}
}

// healthHandler reports control plane health.
func healthHandler(bridge *cbnats.Bridge, pool interface {
	Ping(ctx context.Context) error
}) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		if err := pool.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
		}
		if !bridge.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
