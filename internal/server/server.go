// Package server orchestrates all components: editor transport, dispatcher, batch and async
// executors, NATS request surface, optional Postgres error mirror and the HTTP admin surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/editor-gateway/internal/config"
	"github.com/morezero/editor-gateway/pkg/async"
	"github.com/morezero/editor-gateway/pkg/batch"
	"github.com/morezero/editor-gateway/pkg/catalog"
	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/commsutil"
	"github.com/morezero/editor-gateway/pkg/db"
	"github.com/morezero/editor-gateway/pkg/dispatcher"
	"github.com/morezero/editor-gateway/pkg/docs"
	"github.com/morezero/editor-gateway/pkg/errlog"
	"github.com/morezero/editor-gateway/pkg/events"
	"github.com/morezero/editor-gateway/pkg/gateway"
	"github.com/morezero/editor-gateway/pkg/history"
	"github.com/morezero/editor-gateway/pkg/metrics"
	"github.com/morezero/editor-gateway/pkg/registry"
	"github.com/morezero/editor-gateway/pkg/semver"
	"github.com/morezero/editor-gateway/pkg/transport"
)

const logPrefix = "server:server"

// linkStats is the editor connection as seen by health reporting.
type linkStats interface {
	Stats() transport.Stats
}

// commandHandler runs single commands.
type commandHandler interface {
	Handle(ctx context.Context, commandType string, params map[string]interface{}) *command.Result
}

// operationLister lists async operations.
type operationLister interface {
	List(status async.Status) []async.Summary
	Active() int
	Sweep() int
}

// errorHistory is the in-memory error log.
type errorHistory interface {
	Recent(limit int, kind string) []errlog.Record
	Count() int
}

// pinger checks database reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server is the editor-gateway orchestrator.
type Server struct {
	cfg      *config.Config
	link     linkStats
	commands commandHandler
	ops      operationLister
	errors   errorHistory
	docs     *docs.Generator
	metrics  *metrics.Recorder
	db       pinger

	hostMu sync.RWMutex
	host   *semver.Compatibility

	now func() time.Time
}

// Run starts the gateway with cfg, blocks until a shutdown signal, then cleans up.
func Run(cfg *config.Config) error {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Starting editor-gateway", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg, metrics: metrics.New(), now: time.Now}

	// Step 1: Error history, mirrored to Postgres when configured
	var logOpts []errlog.Option
	var pool *pgxpool.Pool
	if cfg.Storage.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()

		if cfg.Storage.RunMigrations {
			migrations, err := db.LoadMigrationFiles(cfg.Storage.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		repo := db.NewErrorRepository(pool)
		s.db = repo
		logOpts = append(logOpts, errlog.WithStore(repo, cfg.HTTP.HealthCheckTimeout.Duration()))
	}
	errs := errlog.New(cfg.Logging.MaxErrorsInMemory, logOpts...)
	defer errs.Flush()
	s.errors = errs

	// Step 2: Editor transport; the first connect runs in the background
	tr := transport.New(cfg.TransportConfig(), transport.WithErrorSink(errs))
	defer tr.Close()
	s.link = tr
	go func() {
		if err := tr.Connect(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - editor not reachable yet: %v", logPrefix, err))
		}
	}()

	// Step 3: Command table
	reg := registry.New()
	cat, err := catalog.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load catalog: %w", logPrefix, err)
	}
	if err := cat.Register(reg); err != nil {
		return fmt.Errorf("%s - failed to register catalog: %w", logPrefix, err)
	}
	s.docs = docs.New(reg)
	if err := dispatcher.RegisterLocal(reg, dispatcher.LocalDeps{Errors: errs, Docs: s.docs, Metrics: s.metrics}); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Registered %d commands", logPrefix, reg.Len()))

	disp := dispatcher.New(reg, tr, cfg.DispatcherConfig(),
		dispatcher.WithErrorSink(errs),
		dispatcher.WithRecorder(s.metrics),
	)
	s.commands = disp

	// Step 4: NATS connection and operation events
	nc, err := commsutil.Connect(cfg.Comms.URL, cfg.Comms.Name)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	defer nc.Close()
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.Comms.URL))

	// Step 5: Batch and async executors
	batches := batch.New(disp, cfg.Performance.BatchSizeLimit, batch.WithErrorSink(errs))
	asyncOpts := []async.Option{
		async.WithErrorSink(errs),
		async.WithPublisher(events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.Comms.EventSubject})),
		async.WithRecorder(s.metrics),
	}
	if cfg.Storage.HistoryPath != "" {
		archive, err := history.Open(cfg.Storage.HistoryPath, cfg.Storage.HistoryKeep)
		if err != nil {
			return fmt.Errorf("%s - failed to open operation history: %w", logPrefix, err)
		}
		defer archive.Close()
		asyncOpts = append(asyncOpts, async.WithArchive(archive))
	}
	ops := async.New(disp, cfg.AsyncConfig(), asyncOpts...)
	s.ops = ops

	// Step 6: Request surface
	gw := gateway.New(gateway.Deps{
		Commands:   disp,
		Batches:    batches,
		Operations: ops,
		Metrics:    s.metrics,
		Health:     s.healthReport,
		Sink:       errs,
	})
	sub, err := gateway.Subscribe(ctx, nc, cfg.Comms.Subject, gw, cfg.Comms.RequestTimeout.Duration())
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, cfg.Comms.Subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, cfg.Comms.Subject))

	// Step 7: Background work
	go s.sweepLoop(ctx, cfg.Performance.OperationRetention.Duration()/2)
	go s.checkHost(ctx)

	// Step 8: HTTP admin server
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP admin server listening on %s", logPrefix, cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - editor-gateway is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sub.Unsubscribe()
	httpServer.Shutdown(shutdownCtx)
	if err := ops.Close(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - async operations did not stop cleanly: %v", logPrefix, err))
	}
	cancel()
	if err := nc.Drain(); err != nil && err != comms.ErrConnectionClosed {
		slog.Warn(fmt.Sprintf("%s - NATS drain: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// sweepLoop evicts expired operations until ctx is done.
func (s *Server) sweepLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ops.Sweep(); n > 0 {
				slog.Debug(fmt.Sprintf("%s - evicted %d operations", logPrefix, n))
			}
		}
	}
}

// checkHost asks the editor for its version and compares it with the configured constraint.
// A mismatch is logged and reported by health, never fatal.
func (s *Server) checkHost(ctx context.Context) *semver.Compatibility {
	res := s.commands.Handle(ctx, "get_system_info", map[string]interface{}{})
	if !res.Success {
		slog.Warn(fmt.Sprintf("%s - host version check skipped: %s", logPrefix, res.Error))
		return nil
	}
	version := semver.HostVersion(res.Payload)
	compat := semver.CheckHostVersion(version, s.cfg.HostVersionConstraint)
	if !compat.Compatible {
		slog.Warn(fmt.Sprintf("%s - editor host %q is not compatible: %s", logPrefix, version, compat.Reason))
	} else {
		slog.Info(fmt.Sprintf("%s - editor host version %s", logPrefix, version))
	}

	s.hostMu.Lock()
	s.host = &compat
	s.hostMu.Unlock()
	return &compat
}

func (s *Server) hostCompatibility() *semver.Compatibility {
	s.hostMu.RLock()
	defer s.hostMu.RUnlock()
	return s.host
}

// healthReport builds the health document shared by GET /health and the NATS health method.
func (s *Server) healthReport(ctx context.Context) map[string]interface{} {
	stats := s.link.Stats()
	healthy := stats.Connected

	editor := map[string]interface{}{
		"address":            stats.Address,
		"connected":          stats.Connected,
		"reconnect_attempts": stats.ReconnectAttempts,
	}
	if !stats.LastHeartbeat.IsZero() {
		editor["last_heartbeat"] = stats.LastHeartbeat.UTC().Format(time.RFC3339)
	}

	database := map[string]interface{}{"configured": s.db != nil}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			healthy = false
			database["ok"] = false
			database["error"] = err.Error()
		} else {
			database["ok"] = true
		}
	}

	host := s.hostCompatibility()
	if host == nil && stats.Connected {
		host = s.checkHost(ctx)
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	report := map[string]interface{}{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"editor":    editor,
		"database":  database,
		"operations": map[string]interface{}{
			"active": s.ops.Active(),
		},
		"errors": map[string]interface{}{
			"count": s.errors.Count(),
		},
	}
	if host != nil {
		report["host_version"] = host
	}
	return report
}
