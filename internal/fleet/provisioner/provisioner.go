// Package provisioner creates pool credentials on demand for self-managed
// dynamic keys. Repeated polling must not create runaway credentials, so the
// fast path returns the existing pool member untouched.
package provisioner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/balancer"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
)

const errDomain = "provisioner"

// Provisioner fetches or creates the pool member for a self-managed dynamic key
type Provisioner struct {
	store  db.Store
	mover  *lifecycle.Mover
	logger *logger.Logger
}

// New creates a Provisioner
func New(store db.Store, mover *lifecycle.Mover, log *logger.Logger) *Provisioner {
	return &Provisioner{
		store:  store,
		mover:  mover,
		logger: log.WithComponent("provisioner"),
	}
}

// EnsureKey returns a usable credential for the dynamic key, creating one on
// an eligible server if the pool is empty. Remote provisioning failures
// surface as retryable unavailability, never as fatal errors.
func (p *Provisioner) EnsureKey(ctx context.Context, dak db.DynamicKey) (db.AccessKey, error) {
	ctx = logger.WithDynamicKeyID(ctx, dak.ID)

	// Fast path: an active pool member already exists. Membership is tracked
	// by foreign key, not by naming convention.
	existing, err := p.store.ListAccessKeysByDynamicKey(ctx, dak.ID)
	if err != nil {
		return db.AccessKey{}, apperrors.NewInternal(errDomain, "failed to list pool members", err)
	}
	for _, key := range existing {
		if key.Status == db.StatusActive && key.AccessURL != "" {
			return key, nil
		}
	}

	target, err := p.pickServer(ctx, dak)
	if err != nil {
		return db.AccessKey{}, err
	}

	name := fmt.Sprintf("dak-%s", shortID(dak.ID))
	remote, _, err := p.mover.Establish(ctx, target, lifecycle.EstablishRequest{
		Name:           name,
		Method:         dak.PreferredMethod,
		DataLimitBytes: dak.DataLimitBytes,
	})
	if err != nil {
		// The caller may retry on the next poll.
		return db.AccessKey{}, apperrors.NewUnavailable(errDomain, apperrors.ErrCodeRemoteCreate,
			"remote credential creation failed", err)
	}

	dakID := dak.ID
	key, err := p.store.CreateAccessKey(ctx, db.CreateAccessKeyParams{
		ID:             uuid.New().String(),
		ServerID:       target.ID,
		DynamicKeyID:   &dakID,
		RemoteID:       remote.ID,
		Name:           name,
		Password:       remote.Password,
		Port:           remote.Port,
		Method:         remote.Method,
		AccessURL:      remote.AccessURL,
		DataLimitBytes: dak.DataLimitBytes,
		Status:         db.StatusActive,
	})
	if err != nil {
		return db.AccessKey{}, apperrors.NewInternal(errDomain, "failed to persist pool member", err)
	}

	p.logger.InfoContext(ctx, "provisioned self-managed pool member",
		slog.String("key_id", key.ID),
		slog.String("server_id", target.ID))

	return key, nil
}

// pickServer resolves the eligible server set from the tag filter and selects
// one. The least-load hint only matters when there is an actual choice.
func (p *Provisioner) pickServer(ctx context.Context, dak db.DynamicKey) (db.Server, error) {
	servers, err := p.store.ListActiveServers(ctx)
	if err != nil {
		return db.Server{}, apperrors.NewInternal(errDomain, "failed to list servers", err)
	}

	var eligible []db.Server
	for _, s := range servers {
		if s.HasAnyTag(dak.ServerTags) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return db.Server{}, apperrors.NewUnavailable(errDomain, apperrors.ErrCodeNoEligibleServer,
			"no eligible server for tag filter", apperrors.ErrNoEligibleServer)
	}
	if len(eligible) == 1 {
		return eligible[0], nil
	}

	if dak.Algorithm == db.AlgLeastLoad {
		loads, err := p.store.ServerLoads(ctx)
		if err != nil {
			return db.Server{}, apperrors.NewInternal(errDomain, "failed to compute server loads", err)
		}

		eligibleIDs := make(map[string]db.Server, len(eligible))
		for _, s := range eligible {
			eligibleIDs[s.ID] = s
		}
		var scoped []db.ServerLoad
		for _, l := range loads {
			if _, ok := eligibleIDs[l.ServerID]; ok {
				scoped = append(scoped, l)
			}
		}
		if len(scoped) > 0 {
			if winner, ok := eligibleIDs[balancer.LeastLoadedServer(scoped)]; ok {
				return winner, nil
			}
		}
	}

	return eligible[balancer.PickRandom(len(eligible))], nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
