// Package lifecycle implements the shared create / copy-limit / rewrite /
// delete sequence used whenever a credential must be established on a server
// or moved between servers. Self-managed provisioning, bulk migration and the
// rotation scheduler all run through this primitive.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/outline"
)

// RemoteClient is the per-server provisioning surface consumed by the primitive
type RemoteClient interface {
	CreateAccessKey(ctx context.Context, name, method string) (*outline.AccessKey, error)
	DeleteAccessKey(ctx context.Context, id string) error
	SetDataLimit(ctx context.Context, id string, bytes int64) error
}

// ClientFactory builds a RemoteClient for a server record
type ClientFactory func(server db.Server) (RemoteClient, error)

// OutlineClients is the production ClientFactory
func OutlineClients(timeout time.Duration) ClientFactory {
	return func(server db.Server) (RemoteClient, error) {
		return outline.NewClient(server.APIURL, server.CertSHA256, timeout)
	}
}

// StepResult records the outcome of one best-effort step. Non-fatal failures
// are observed and logged here instead of being silently dropped, so tests
// and operators can see them.
type StepResult struct {
	Step string
	Err  error
}

// Step names reported in StepResult and logs
const (
	StepCreate       = "remote_create"
	StepCopyLimit    = "copy_limit"
	StepRewrite      = "record_rewrite"
	StepDeleteSource = "delete_from_source"
)

// Mover executes the lifecycle primitive against the record store and the
// fleet's management APIs.
type Mover struct {
	store   db.Store
	clients ClientFactory
	logger  *logger.Logger
}

// NewMover creates a Mover
func NewMover(store db.Store, clients ClientFactory, log *logger.Logger) *Mover {
	return &Mover{
		store:   store,
		clients: clients,
		logger:  log.WithComponent("lifecycle"),
	}
}

// EstablishRequest describes the credential to create on a target server
type EstablishRequest struct {
	Name           string
	Method         string
	DataLimitBytes *int64
}

// Establish runs the create step (plus best-effort limit copy) on the target
// server. There is no source to delete from. A create failure is fatal to
// this item.
func (m *Mover) Establish(ctx context.Context, target db.Server, req EstablishRequest) (*outline.AccessKey, []StepResult, error) {
	if !target.IsActive {
		return nil, nil, apperrors.NewProvisionError(StepCreate, target.ID, "target server is inactive", apperrors.ErrServerInactive)
	}

	client, err := m.clients(target)
	if err != nil {
		return nil, nil, apperrors.NewProvisionError(StepCreate, target.ID, "failed to build management client", err)
	}

	start := time.Now()
	remote, err := client.CreateAccessKey(ctx, req.Name, req.Method)
	m.logger.RemoteCall(ctx, target.ID, "createAccessKey", time.Since(start), err)
	if err != nil {
		return nil, nil, apperrors.NewProvisionError(StepCreate, target.ID, "remote credential creation failed", err)
	}

	var steps []StepResult
	if req.DataLimitBytes != nil {
		steps = append(steps, m.copyLimit(ctx, client, target.ID, remote.ID, *req.DataLimitBytes))
	}

	return remote, steps, nil
}

// MoveOptions tunes the move sequence
type MoveOptions struct {
	// DeleteFromSource controls the final best-effort deletion of the old
	// remote credential. Callers that keep the source around (e.g. staged
	// migrations) skip it.
	DeleteFromSource bool

	// Method overrides the cipher requested on the target; empty keeps the
	// key's current method.
	Method string
}

// Move relocates one access key to the target server: create on target,
// best-effort limit copy, atomic record rewrite (usage folded into the
// offset), then best-effort deletion from the source. Remote deletion failure
// never rolls back the rewrite.
func (m *Mover) Move(ctx context.Context, key db.AccessKey, target db.Server, opts MoveOptions) (db.AccessKey, []StepResult, error) {
	ctx = logger.WithKeyID(ctx, key.ID)

	source, err := m.store.GetServer(ctx, key.ServerID)
	if err != nil {
		return db.AccessKey{}, nil, apperrors.NewMoveError(key.ID, key.ServerID, target.ID, "failed to load source server", err)
	}

	method := opts.Method
	if method == "" {
		method = key.Method
	}

	remote, steps, err := m.Establish(ctx, target, EstablishRequest{
		Name:           key.Name,
		Method:         method,
		DataLimitBytes: key.DataLimitBytes,
	})
	if err != nil {
		return db.AccessKey{}, steps, apperrors.NewMoveError(key.ID, source.ID, target.ID, "failed to create replacement credential", err)
	}

	err = m.store.RewriteAccessKeyServer(ctx, db.RewriteAccessKeyParams{
		ID:        key.ID,
		ServerID:  target.ID,
		RemoteID:  remote.ID,
		Password:  remote.Password,
		Port:      remote.Port,
		Method:    remote.Method,
		AccessURL: remote.AccessURL,
	})
	if err != nil {
		// The record still points at the source; the orphaned remote
		// credential on the target is a cleanup concern, not a correctness
		// issue.
		m.logger.ErrorCtx(ctx, "record rewrite failed after remote create",
			apperrors.NewMoveError(key.ID, source.ID, target.ID, "record rewrite failed", err))
		return db.AccessKey{}, append(steps, StepResult{Step: StepRewrite, Err: err}),
			apperrors.NewMoveError(key.ID, source.ID, target.ID, "record rewrite failed", err)
	}

	if opts.DeleteFromSource {
		steps = append(steps, m.deleteFromSource(ctx, source, key.RemoteID))
	}

	moved, err := m.store.GetAccessKey(ctx, key.ID)
	if err != nil {
		return db.AccessKey{}, steps, apperrors.NewMoveError(key.ID, source.ID, target.ID, "failed to reload moved key", err)
	}

	m.logger.InfoContext(ctx, "access key moved",
		slog.String("from_server", source.ID),
		slog.String("to_server", target.ID),
		slog.Int64("usage_offset", moved.UsageOffset))

	return moved, steps, nil
}

// Retire deletes an access key: best-effort removal of the remote credential
// followed by the local record. A failed remote delete is logged and skipped
// so a dead server never blocks cleanup.
func (m *Mover) Retire(ctx context.Context, key db.AccessKey) error {
	ctx = logger.WithKeyID(ctx, key.ID)

	server, err := m.store.GetServer(ctx, key.ServerID)
	if err == nil {
		m.deleteFromSource(ctx, server, key.RemoteID)
	} else {
		m.logger.WarnContext(ctx, "source server missing, skipping remote delete",
			slog.String("server_id", key.ServerID),
			slog.String("error", err.Error()))
	}

	if err := m.store.DeleteAccessKey(ctx, key.ID); err != nil {
		return apperrors.NewMoveError(key.ID, key.ServerID, "", "failed to delete key record", err)
	}

	m.logger.InfoContext(ctx, "access key retired", slog.String("server_id", key.ServerID))
	return nil
}

func (m *Mover) copyLimit(ctx context.Context, client RemoteClient, serverID, remoteID string, limit int64) StepResult {
	start := time.Now()
	err := client.SetDataLimit(ctx, remoteID, limit)
	m.logger.RemoteCall(ctx, serverID, "setAccessKeyDataLimit", time.Since(start), err)
	if err != nil {
		// Local quota enforcement in the resolver still applies.
		m.logger.WarnContext(ctx, "failed to copy data limit to remote credential",
			slog.String("server_id", serverID),
			slog.String("remote_id", remoteID),
			slog.String("error", err.Error()))
	}
	return StepResult{Step: StepCopyLimit, Err: err}
}

func (m *Mover) deleteFromSource(ctx context.Context, source db.Server, remoteID string) StepResult {
	client, err := m.clients(source)
	if err == nil {
		start := time.Now()
		err = client.DeleteAccessKey(ctx, remoteID)
		m.logger.RemoteCall(ctx, source.ID, "deleteAccessKey", time.Since(start), err)
	}
	if err != nil {
		m.logger.WarnContext(ctx, "failed to delete credential from source server",
			slog.String("server_id", source.ID),
			slog.String("remote_id", remoteID),
			slog.String("error", err.Error()))
	}
	return StepResult{Step: StepDeleteSource, Err: err}
}
