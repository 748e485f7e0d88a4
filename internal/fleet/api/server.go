package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chiquitav2/subfleet/internal/fleet/cloud"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/migration"
	"github.com/chiquitav2/subfleet/internal/fleet/resolver"
	applogger "github.com/chiquitav2/subfleet/internal/shared/logger"
)

// TokenResolver resolves a subscription token into a client credential.
type TokenResolver interface {
	Resolve(ctx context.Context, token, clientIP string) (*resolver.Credential, error)
}

// MigratorInterface runs bulk key moves under the advisory lock.
type MigratorInterface interface {
	MigrateServerKeys(ctx context.Context, operationID, fromServerID, toServerID string) (*migration.Report, error)
	MigrateKeys(ctx context.Context, operationID string, keyIDs []string, toServerID string) (*migration.Report, error)
}

// RotatorInterface rotates the pool members of a dynamic key.
type RotatorInterface interface {
	Rotate(ctx context.Context, dak db.DynamicKey) ([]lifecycle.ItemResult, error)
}

// HostProvisioner onboards new fleet hosts on the cloud provider.
type HostProvisioner interface {
	ProvisionHost(ctx context.Context, name, apiSecret string) (*cloud.Host, error)
}

// EventPublisher announces fleet lifecycle events.
type EventPublisher interface {
	PublishServerCreated(serverID, name string) error
}

// Server represents the HTTP API server with proper lifecycle management.
type Server struct {
	server      *http.Server
	store       db.Store
	resolver    TokenResolver
	mover       *lifecycle.Mover
	migrator    MigratorInterface
	rotator     RotatorInterface
	hosts       HostProvisioner
	bus         EventPublisher
	logger      *applogger.Logger
	corsOrigins []string
	version     string
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Address     string
	CORSOrigins []string
	Version     string
}

// Deps bundles the components the API server dispatches into. Hosts and Bus
// are optional; the matching endpoints report unavailable when absent.
type Deps struct {
	Store    db.Store
	Resolver TokenResolver
	Mover    *lifecycle.Mover
	Migrator MigratorInterface
	Rotator  RotatorInterface
	Hosts    HostProvisioner
	Bus      EventPublisher
}

// NewServer creates a new API server instance.
func NewServer(config ServerConfig, deps Deps, log *applogger.Logger) *Server {
	return &Server{
		store:       deps.Store,
		resolver:    deps.Resolver,
		mover:       deps.Mover,
		migrator:    deps.Migrator,
		rotator:     deps.Rotator,
		hosts:       deps.Hosts,
		bus:         deps.Bus,
		logger:      log.WithComponent("api"),
		corsOrigins: config.CORSOrigins,
		version:     config.Version,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server and begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	handler := s.registerRoutes(mux)
	s.server.Handler = handler

	s.logger.InfoContext(ctx, "starting API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.InfoContext(ctx, "API server started successfully", "address", s.server.Addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}

	s.logger.InfoContext(ctx, "API server shut down successfully")
	return nil
}

// registerRoutes registers API routes with middleware.
func (s *Server) registerRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/health", s.healthHandler())

	// Subscription resolution, the client-facing surface
	mux.HandleFunc("GET /sub/{token}", s.subscriptionHandler())

	// Fleet administration
	mux.HandleFunc("POST /api/v1/servers", s.createServerHandler())
	mux.HandleFunc("GET /api/v1/servers", s.listServersHandler())
	mux.HandleFunc("GET /api/v1/servers/loads", s.serverLoadsHandler())
	mux.HandleFunc("GET /api/v1/servers/{serverID}", s.getServerHandler())
	mux.HandleFunc("PATCH /api/v1/servers/{serverID}", s.updateServerHandler())
	mux.HandleFunc("DELETE /api/v1/servers/{serverID}", s.deleteServerHandler())
	mux.HandleFunc("POST /api/v1/servers/provision", s.provisionHostHandler())

	mux.HandleFunc("POST /api/v1/keys", s.createAccessKeyHandler())
	mux.HandleFunc("GET /api/v1/keys", s.listAccessKeysHandler())
	mux.HandleFunc("GET /api/v1/keys/{keyID}", s.getAccessKeyHandler())
	mux.HandleFunc("DELETE /api/v1/keys/{keyID}", s.deleteAccessKeyHandler())

	mux.HandleFunc("POST /api/v1/dynamic-keys", s.createDynamicKeyHandler())
	mux.HandleFunc("GET /api/v1/dynamic-keys", s.listDynamicKeysHandler())
	mux.HandleFunc("GET /api/v1/dynamic-keys/{keyID}", s.getDynamicKeyHandler())
	mux.HandleFunc("DELETE /api/v1/dynamic-keys/{keyID}", s.deleteDynamicKeyHandler())
	mux.HandleFunc("POST /api/v1/dynamic-keys/{keyID}/rotate", s.rotateDynamicKeyHandler())

	mux.HandleFunc("POST /api/v1/migrations/server", s.migrateServerHandler())
	mux.HandleFunc("POST /api/v1/migrations/keys", s.migrateKeysHandler())

	handler := Chain(
		RequestID(s.logger),
		Recovery(),
		Logging(),
		CORS(s.corsOrigins),
	)(mux)

	return handler
}
