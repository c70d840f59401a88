// Package server orchestrates all components: COMMS client, journal, coordinator,
// control-plane dispatcher, sweeper and HTTP health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/coordinator/internal/config"
	"github.com/morezero/coordinator/pkg/bootstrap"
	"github.com/morezero/coordinator/pkg/commsutil"
	"github.com/morezero/coordinator/pkg/coordinator"
	"github.com/morezero/coordinator/pkg/db"
	"github.com/morezero/coordinator/pkg/dispatch"
	"github.com/morezero/coordinator/pkg/dispatcher"
	"github.com/morezero/coordinator/pkg/events"
	"github.com/morezero/coordinator/pkg/registry"
	"github.com/morezero/coordinator/pkg/stream"
)

const logPrefix = "server:server"

const (
	drainTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server is the coordinator process.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	coord      *coordinator.Coordinator
	disp       *dispatcher.Dispatcher
	httpServer *http.Server
	subs       []*comms.Subscription
}

// Run starts the server, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting coordinator %s", logPrefix, cfg.COMMSName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Subscribe(ctx); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Coordinator is ready", logPrefix))
	if err := s.Serve(ctx); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// New connects to COMMS and, when enabled, the journal database, then builds
// the coordinator from cfg and the bootstrap file.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	nc, err := commsutil.Connect(commsutil.ConnectParams{URL: cfg.COMMSURL, Name: cfg.COMMSName})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	var pool *pgxpool.Pool
	if cfg.JournalEnabled {
		pool, err = openJournal(ctx, cfg)
		if err != nil {
			nc.Close()
			return nil, err
		}
	}

	bootCfg, err := bootstrap.LoadConfig(cfg.BootstrapFile)
	if err != nil {
		closeAll(nc, pool)
		return nil, fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}

	s, err := newServer(newServerParams{Config: cfg, Conn: nc, Pool: pool, Bootstrap: bootCfg})
	if err != nil {
		closeAll(nc, pool)
		return nil, err
	}
	return s, nil
}

func openJournal(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.EnsureDatabase(ctx, cfg.DatabaseURL); err != nil {
		slog.Warn(fmt.Sprintf("%s - could not ensure journal database: %v", logPrefix, err))
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if cfg.RunMigrations {
		files, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, files); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Dispatch journal enabled", logPrefix))
	return pool, nil
}

type newServerParams struct {
	Config *config.Config
	// Conn and Pool are optional; without them output goes nowhere and the
	// journal is disabled.
	Conn      *comms.Conn
	Pool      *pgxpool.Pool
	Bootstrap *bootstrap.Config
	Now       func() time.Time
}

func newServer(p newServerParams) (*Server, error) {
	cfg := p.Config
	now := p.Now
	if now == nil {
		now = time.Now
	}

	reg := registry.NewRegistry(registry.NewRegistryParams{
		Config: registry.Config{DefaultTTL: cfg.RegistryTTL},
		Now:    now,
	})
	gate := registry.NewGate()
	if p.Bootstrap != nil {
		gate = registry.NewGate(p.Bootstrap.AlwaysOpen...)
		if _, err := bootstrap.Apply(p.Bootstrap, reg); err != nil {
			return nil, fmt.Errorf("%s - failed to apply bootstrap config: %w", logPrefix, err)
		}
	}

	params := coordinator.NewCoordinatorParams{
		Originator: cfg.COMMSName,
		Registry:   reg,
		Gate:       gate,
		Reducer: stream.NewReducer(stream.NewReducerParams{
			Config: stream.Config{IdleTimeout: cfg.StreamIdleTimeout},
			Now:    now,
		}),
		Correlator: dispatch.NewCorrelator(dispatch.NewCorrelatorParams{
			Catalog: reg,
			Gate:    gate,
			Config:  dispatch.Config{Timeout: cfg.BatchTimeout, StaleSweepLimit: cfg.StaleSweepLimit},
			Now:     now,
		}),
		Now: now,
	}

	checks := make(map[string]dispatcher.HealthCheck)
	if p.Conn != nil {
		params.Publisher = events.NewCommsPublisher(p.Conn)
		nc := p.Conn
		checks["comms"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("not connected (status %v)", nc.Status())
			}
			return nil
		}
	}
	if p.Pool != nil {
		journal := db.NewJournal(p.Pool)
		params.Journal = journal
		checks["journal"] = journal.Ping
	}

	coord, err := coordinator.NewCoordinator(params)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create coordinator: %w", logPrefix, err)
	}

	s := &Server{
		cfg:   cfg,
		nc:    p.Conn,
		pool:  p.Pool,
		coord: coord,
		disp:  dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{Coordinator: coord, Checks: checks}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.HealthCheckTimeout,
	}
	return s, nil
}

// Serve runs the HTTP server and the sweeper until ctx is cancelled or either
// fails.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		return s.coord.RunSweeper(gctx, s.cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close unsubscribes, drains COMMS and closes the journal pool.
func (s *Server) Close() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
	s.subs = nil
	commsutil.Drain(s.nc, drainTimeout)
	if s.pool != nil {
		s.pool.Close()
	}
}

func closeAll(nc *comms.Conn, pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
	if nc != nil {
		nc.Close()
	}
}
