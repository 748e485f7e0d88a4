// Package resolver turns an opaque subscription token into a renderable
// credential payload, enforcing the lifecycle state machine shared by access
// keys and dynamic keys.
package resolver

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/balancer"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/outline"
)

const errDomain = "resolver"

// Credential is the client-consumable payload for one resolved token. When
// the stored credential could not be parsed, Raw carries the opaque access
// URL and the structured fields are empty.
type Credential struct {
	Server     string `json:"server,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`
	Password   string `json:"password,omitempty"`
	Method     string `json:"method,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	Raw        string `json:"-"`
}

// PoolProvisioner fetches or creates the pool member for a self-managed
// dynamic key.
type PoolProvisioner interface {
	EnsureKey(ctx context.Context, dak db.DynamicKey) (db.AccessKey, error)
}

// Resolver resolves subscription tokens. It is safe for concurrent use: the
// only mutations are idempotent lifecycle upserts and the tolerated
// round-robin cursor write.
type Resolver struct {
	store  db.Store
	pool   PoolProvisioner
	logger *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a Resolver
func New(store db.Store, pool PoolProvisioner, log *logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		pool:   pool,
		logger: log.WithComponent("resolver"),
		now:    time.Now,
	}
}

// Resolve looks up the token, applies the lifecycle gate, and returns the
// selected credential. Token namespaces are disjoint: dynamic keys are
// checked first, then single access keys.
func (r *Resolver) Resolve(ctx context.Context, token, clientIP string) (*Credential, error) {
	dak, err := r.store.GetDynamicKey(ctx, token)
	switch {
	case err == nil:
		return r.resolveDynamic(ctx, dak, clientIP)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, apperrors.NewInternal(errDomain, "dynamic key lookup failed", err)
	}

	key, err := r.store.GetAccessKey(ctx, token)
	switch {
	case err == nil:
		return r.resolveStatic(ctx, key)
	case errors.Is(err, sql.ErrNoRows):
		return nil, apperrors.NewNotFound(errDomain, "unknown subscription token", apperrors.ErrTokenNotFound)
	default:
		return nil, apperrors.NewInternal(errDomain, "access key lookup failed", err)
	}
}

// resolveStatic renders a single access key directly from its stored fields
func (r *Resolver) resolveStatic(ctx context.Context, key db.AccessKey) (*Credential, error) {
	ctx = logger.WithKeyID(ctx, key.ID)

	err := r.gate(ctx, gateEntity{
		status:       key.Status,
		expiresAt:    key.ExpiresAt,
		limit:        key.DataLimitBytes,
		used:         key.EffectiveUsage(),
		policy:       key.ExpirePolicy,
		durationDays: key.DurationDays,
		markExpired: func(ctx context.Context) (bool, error) {
			return r.store.MarkAccessKeyExpired(ctx, key.ID)
		},
		activate: func(ctx context.Context, arg db.ActivateFirstUseParams) (bool, error) {
			arg.ID = key.ID
			return r.store.ActivateAccessKeyFirstUse(ctx, arg)
		},
	})
	if err != nil {
		return nil, err
	}

	// Hostname comes from the owning server record; a missing server still
	// renders from the stored access URL.
	var server db.Server
	if s, err := r.store.GetServer(ctx, key.ServerID); err == nil {
		server = s
	}

	return renderCredential(key, server), nil
}

// resolveDynamic applies the gate to the pool token, then delegates to the
// provisioner or the load balancer depending on the pool mode.
func (r *Resolver) resolveDynamic(ctx context.Context, dak db.DynamicKey, clientIP string) (*Credential, error) {
	ctx = logger.WithDynamicKeyID(ctx, dak.ID)

	err := r.gate(ctx, gateEntity{
		status:       dak.Status,
		expiresAt:    dak.ExpiresAt,
		limit:        dak.DataLimitBytes,
		used:         dak.EffectiveUsage(),
		policy:       dak.ExpirePolicy,
		durationDays: dak.DurationDays,
		markExpired: func(ctx context.Context) (bool, error) {
			return r.store.MarkDynamicKeyExpired(ctx, dak.ID)
		},
		activate: func(ctx context.Context, arg db.ActivateFirstUseParams) (bool, error) {
			arg.ID = dak.ID
			return r.store.ActivateDynamicKeyFirstUse(ctx, arg)
		},
	})
	if err != nil {
		return nil, err
	}

	if dak.Mode == db.ModeSelfManaged {
		key, err := r.pool.EnsureKey(ctx, dak)
		if err != nil {
			return nil, err
		}
		var server db.Server
		if s, err := r.store.GetServer(ctx, key.ServerID); err == nil {
			server = s
		}
		return renderCredential(key, server), nil
	}

	candidates, err := r.eligibleCandidates(ctx, dak)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.NewUnavailable(errDomain, apperrors.ErrCodeNoEligibleKey,
			"no eligible credential in pool", apperrors.ErrNoEligibleKey)
	}

	sel := balancer.Select(dak.Algorithm, candidates, clientIP, dak.LastSelectedIndex)
	if sel.CursorDirty {
		// A racing request may overwrite this cursor; one skipped rotation
		// position is an accepted lost update.
		if err := r.store.UpdateDynamicKeyCursor(ctx, dak.ID, sel.Cursor); err != nil {
			r.logger.WarnContext(ctx, "failed to persist round-robin cursor",
				slog.String("error", err.Error()))
		}
	}

	chosen := candidates[sel.Index]
	return renderCredential(chosen.Key, chosen.Server), nil
}

// eligibleCandidates gathers the pool's active keys whose servers are active
// and match the tag filter.
func (r *Resolver) eligibleCandidates(ctx context.Context, dak db.DynamicKey) ([]balancer.Candidate, error) {
	keys, err := r.store.ListAccessKeysByDynamicKey(ctx, dak.ID)
	if err != nil {
		return nil, apperrors.NewInternal(errDomain, "failed to list pool members", err)
	}

	servers, err := r.store.ListActiveServers(ctx)
	if err != nil {
		return nil, apperrors.NewInternal(errDomain, "failed to list servers", err)
	}
	byID := make(map[string]db.Server, len(servers))
	for _, s := range servers {
		byID[s.ID] = s
	}

	var candidates []balancer.Candidate
	for _, key := range keys {
		if key.Status != db.StatusActive {
			continue
		}
		server, ok := byID[key.ServerID]
		if !ok || !server.HasAnyTag(dak.ServerTags) {
			continue
		}
		candidates = append(candidates, balancer.Candidate{Key: key, Server: server})
	}
	return candidates, nil
}

// gateEntity abstracts the lifecycle fields shared by both entity kinds
type gateEntity struct {
	status       db.KeyStatus
	expiresAt    *time.Time
	limit        *int64
	used         int64
	policy       db.ExpirePolicy
	durationDays *int
	markExpired  func(ctx context.Context) (bool, error)
	activate     func(ctx context.Context, arg db.ActivateFirstUseParams) (bool, error)
}

// gate evaluates the lifecycle state machine in its required order. Every
// mutation here is an idempotent upsert, so concurrent resolutions racing on
// the same entity are harmless.
func (r *Resolver) gate(ctx context.Context, e gateEntity) error {
	switch e.status {
	case db.StatusDisabled:
		return apperrors.NewGone(errDomain, "disabled")
	case db.StatusExpired:
		return apperrors.NewGone(errDomain, "expired")
	case db.StatusDepleted:
		return apperrors.NewGone(errDomain, "depleted")
	}

	now := r.now()

	if e.expiresAt != nil && e.expiresAt.Before(now) {
		if _, err := e.markExpired(ctx); err != nil {
			return apperrors.NewInternal(errDomain, "failed to persist expiry transition", err)
		}
		return apperrors.NewGone(errDomain, "expired")
	}

	if e.limit != nil && e.used >= *e.limit {
		return apperrors.NewGone(errDomain, "depleted")
	}

	if e.status == db.StatusPending && e.policy == db.ExpireFirstUse {
		arg := db.ActivateFirstUseParams{FirstUsedAt: now}
		if e.durationDays != nil {
			expires := now.AddDate(0, 0, *e.durationDays)
			arg.ExpiresAt = &expires
		}
		// The conditional update applies at most once; a concurrent loser is
		// a no-op and must not recompute expires_at.
		if _, err := e.activate(ctx, arg); err != nil {
			return apperrors.NewInternal(errDomain, "failed to persist first-use activation", err)
		}
	}

	return nil
}

// renderCredential builds the payload from the stored credential fields,
// falling back to the parsed (or opaque) access URL.
func renderCredential(key db.AccessKey, server db.Server) *Credential {
	host := server.HostnameForKeys

	parsed := outline.ParseAccessURL(key.AccessURL)

	if key.Password != "" && key.Port > 0 && key.Method != "" {
		if host == "" && parsed.Parsed {
			host = parsed.Host
		}
		return &Credential{
			Server:     host,
			ServerPort: key.Port,
			Password:   key.Password,
			Method:     key.Method,
			Prefix:     parsed.Prefix,
		}
	}

	if !parsed.Parsed {
		return &Credential{Raw: key.AccessURL}
	}
	if host == "" {
		host = parsed.Host
	}
	return &Credential{
		Server:     host,
		ServerPort: parsed.Port,
		Password:   parsed.Password,
		Method:     parsed.Method,
		Prefix:     parsed.Prefix,
	}
}
