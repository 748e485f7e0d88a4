// Package fleet wires the subscription fleet components into one service:
// store, resolver, lifecycle machinery, background rotation and usage sync,
// and the HTTP API.
package fleet

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chiquitav2/subfleet/internal/fleet/api"
	"github.com/chiquitav2/subfleet/internal/fleet/cloud"
	"github.com/chiquitav2/subfleet/internal/fleet/config"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/events"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/migration"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
	"github.com/chiquitav2/subfleet/internal/fleet/provisioner"
	"github.com/chiquitav2/subfleet/internal/fleet/resolver"
	"github.com/chiquitav2/subfleet/internal/fleet/rotation"
	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Service coordinates all fleet components and manages their lifecycle
type Service struct {
	config *config.Config
	logger *logger.Logger

	store     db.Store
	bus       *events.Bus
	mover     *lifecycle.Mover
	locks     *oplock.Memory
	resolver  *resolver.Resolver
	migrator  *migration.Migrator
	rotator   *rotation.Rotator
	scheduler *rotation.Scheduler
	usageSync *rotation.UsageSyncer
	apiServer *api.Server

	ctx    context.Context
	cancel context.CancelFunc

	signalChan chan os.Signal
	shutdownWg sync.WaitGroup
	workerWg   sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex

	disableSignalHandling bool // for tests
}

// NewService creates a new Service instance and initializes all components
// in dependency order.
func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		config:     cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		signalChan: make(chan os.Signal, 1),
	}

	if err := service.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}

	return service, nil
}

// initializeComponents creates and wires all service components
func (s *Service) initializeComponents() error {
	s.logger.Info("initializing service components")

	store, err := db.NewStore(&db.Config{
		Path:            s.config.DB.Path,
		MaxOpenConns:    s.config.DB.MaxOpenConns,
		MaxIdleConns:    s.config.DB.MaxIdleConns,
		ConnMaxLifetime: s.config.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database store: %w", err)
	}
	s.store = store

	if err := store.Setup(context.Background()); err != nil {
		return fmt.Errorf("failed to apply database schema: %w", err)
	}
	s.logger.Debug("database store initialized")

	s.bus = events.NewBus(s.logger)
	s.locks = oplock.NewMemory()

	remoteTimeout := s.config.Remote.Timeout
	s.mover = lifecycle.NewMover(s.store, lifecycle.OutlineClients(remoteTimeout), s.logger)

	pool := provisioner.New(s.store, s.mover, s.logger)
	s.resolver = resolver.New(s.store, pool, s.logger)

	lockTTL := s.config.Locks.TTL
	s.migrator = migration.New(s.store, s.mover, s.locks, lockTTL, s.bus, s.logger)
	s.rotator = rotation.NewRotator(s.store, s.mover, s.locks, lockTTL, s.bus, s.logger)

	if s.config.Rotation.Enabled {
		s.scheduler = rotation.NewScheduler(s.config.Rotation.CheckInterval, s.rotator, s.logger)
	}
	if s.config.Usage.Enabled {
		s.usageSync = rotation.NewUsageSyncer(s.store, rotation.OutlineMetricsClients(remoteTimeout),
			s.locks, lockTTL, s.config.Usage.SyncInterval, s.bus, s.logger)
	}

	var hosts api.HostProvisioner
	if s.config.CloudEnabled() {
		hetzner, err := cloud.NewHetzner(s.config.Hetzner.APIToken, &cloud.HetznerConfig{
			ServerType: s.config.Hetzner.ServerType,
			Image:      s.config.Hetzner.Image,
			Location:   s.config.Hetzner.Location,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize cloud provisioner: %w", err)
		}
		hosts = hetzner
		s.logger.Info("cloud host provisioning enabled")
	}

	s.apiServer = api.NewServer(api.ServerConfig{
		Address:     s.config.API.ListenAddr,
		CORSOrigins: s.config.API.CORSOrigins,
		Version:     Version,
	}, api.Deps{
		Store:    s.store,
		Resolver: s.resolver,
		Mover:    s.mover,
		Migrator: s.migrator,
		Rotator:  s.rotator,
		Hosts:    hosts,
		Bus:      s.bus,
	}, s.logger)

	s.logger.Info("service components initialized")
	return nil
}

// Start starts all service components
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting subfleet service")

	if !s.disableSignalHandling {
		s.setupSignalHandling()
	}

	if s.scheduler != nil {
		s.workerWg.Add(1)
		go func() {
			defer s.workerWg.Done()
			s.scheduler.Start(s.ctx)
		}()
		s.logger.Info("rotation scheduler started")
	}

	if s.usageSync != nil {
		s.workerWg.Add(1)
		go func() {
			defer s.workerWg.Done()
			s.usageSync.Start(s.ctx)
		}()
		s.logger.Info("usage syncer started")
	}

	if err := s.apiServer.Start(s.ctx); err != nil {
		s.cancel()
		s.workerWg.Wait()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	s.isRunning = true
	s.logger.Info("subfleet service started successfully")
	return nil
}

// setupSignalHandling configures signal handling for graceful shutdown
func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go s.handleSignals()
}

// handleSignals processes shutdown signals and initiates graceful shutdown
func (s *Service) handleSignals() {
	defer s.shutdownWg.Done()

	select {
	case sig := <-s.signalChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("error during graceful shutdown", "error", err)
		}

	case <-s.ctx.Done():
		s.logger.Debug("signal handler exiting due to service context cancellation")
	}
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.config != nil && s.config.Service.ShutdownTimeout > 0 {
		return s.config.Service.ShutdownTimeout
	}
	return 30 * time.Second
}

// WaitForShutdown blocks until the service receives a shutdown signal
func (s *Service) WaitForShutdown() {
	s.logger.Info("service running, waiting for shutdown signal")
	s.shutdownWg.Wait()
	s.logger.Info("service shutdown complete")
}

// Stop gracefully shuts down all service components in reverse dependency order
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		s.logger.Warn("service is not running")
		return nil
	}

	s.logger.Info("stopping subfleet service")

	var lastErr error

	if !s.disableSignalHandling {
		signal.Stop(s.signalChan)
	}

	// External interface first
	if s.apiServer != nil {
		if err := s.apiServer.Stop(ctx); err != nil {
			s.logger.Error("failed to stop API server", "error", err)
			lastErr = err
		}
	}

	// Cancel background loops and wait for them
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Debug("background workers stopped")
	case <-ctx.Done():
		s.logger.Warn("timeout waiting for background workers")
		lastErr = ctx.Err()
	}

	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Error("failed to close event bus", "error", err)
			lastErr = err
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close database store", "error", err)
			lastErr = err
		}
	}

	s.isRunning = false
	s.logger.Info("subfleet service stopped")
	return lastErr
}
