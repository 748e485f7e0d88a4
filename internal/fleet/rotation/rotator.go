// Package rotation periodically moves dynamic key pool members onto fresh
// servers and keeps usage accounting in sync with the fleet.
package rotation

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/balancer"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
)

const errDomain = "rotation"

// sweepLockID keys the advisory lock for the rotation sweep
const sweepLockID = "rotation-sweep"

// Publisher receives rotation outcomes for downstream consumers
type Publisher interface {
	PublishKeyRotated(dynamicKeyID string, rotated, failed int) error
}

// Rotator moves every pool member of a due dynamic key to a different
// eligible server.
type Rotator struct {
	store   db.Store
	mover   *lifecycle.Mover
	locks   oplock.Service
	lockTTL time.Duration
	bus     Publisher
	logger  *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewRotator creates a Rotator
func NewRotator(store db.Store, mover *lifecycle.Mover, locks oplock.Service, lockTTL time.Duration, bus Publisher, log *logger.Logger) *Rotator {
	if lockTTL <= 0 {
		lockTTL = oplock.DefaultTTL
	}
	return &Rotator{
		store:   store,
		mover:   mover,
		locks:   locks,
		lockTTL: lockTTL,
		bus:     bus,
		logger:  log.WithComponent("rotation"),
		now:     time.Now,
	}
}

// RotateDue rotates every dynamic key whose schedule has come due. The whole
// sweep runs under one advisory lock; a sweep already in progress is skipped,
// not queued.
func (r *Rotator) RotateDue(ctx context.Context) error {
	if !r.locks.TryAcquire(sweepLockID, r.lockTTL) {
		r.logger.DebugContext(ctx, "rotation sweep already running, skipping")
		return nil
	}
	defer r.locks.Release(sweepLockID)

	due, err := r.store.ListRotationDue(ctx, r.now())
	if err != nil {
		return apperrors.NewInternal(errDomain, "failed to list due dynamic keys", err)
	}
	if len(due) == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "rotation sweep starting", slog.Int("due_count", len(due)))

	for _, dak := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.Rotate(ctx, dak); err != nil {
			r.logger.ErrorCtx(ctx, "rotation failed for dynamic key", err,
				slog.String("dynamic_key_id", dak.ID))
		}
	}

	return nil
}

// Rotate moves every pool member of one dynamic key to a different eligible
// server, then records the rotation outcome on the record. Per-item failures
// do not abort sibling items.
func (r *Rotator) Rotate(ctx context.Context, dak db.DynamicKey) ([]lifecycle.ItemResult, error) {
	ctx = logger.WithDynamicKeyID(ctx, dak.ID)

	keys, err := r.store.ListAccessKeysByDynamicKey(ctx, dak.ID)
	if err != nil {
		return nil, apperrors.NewInternal(errDomain, "failed to list pool members", err)
	}

	servers, err := r.store.ListActiveServers(ctx)
	if err != nil {
		return nil, apperrors.NewInternal(errDomain, "failed to list servers", err)
	}
	var eligible []db.Server
	for _, s := range servers {
		if s.HasAnyTag(dak.ServerTags) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, apperrors.NewUnavailable(errDomain, apperrors.ErrCodeNoEligibleServer,
			"no eligible server for rotation", apperrors.ErrNoEligibleServer)
	}

	items := make([]lifecycle.BatchItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, lifecycle.BatchItem{ID: k.ID, Name: k.Name})
	}

	results := lifecycle.RunBatch(ctx, items, func(ctx context.Context, item lifecycle.BatchItem) error {
		key, err := r.store.GetAccessKey(ctx, item.ID)
		if err != nil {
			return apperrors.NewMoveError(item.ID, "", "", "key not found", err)
		}
		target, ok := pickDifferentServer(eligible, key.ServerID)
		if !ok {
			// Single-server fleets have nowhere to rotate to; leave the key
			// where it is.
			return nil
		}
		_, _, err = r.mover.Move(ctx, key, target, lifecycle.MoveOptions{DeleteFromSource: true})
		return err
	})

	rotated, failed := 0, 0
	for _, res := range results {
		if res.Success {
			rotated++
		} else {
			failed++
		}
	}

	now := r.now()
	var next *time.Time
	if dak.RotationInterval > 0 {
		n := now.Add(time.Duration(dak.RotationInterval) * time.Second)
		next = &n
	}
	if err := r.store.UpdateDynamicKeyRotation(ctx, db.UpdateRotationParams{
		ID:             dak.ID,
		LastRotatedAt:  now,
		NextRotationAt: next,
		RotationCount:  dak.RotationCount + 1,
	}); err != nil {
		return results, apperrors.NewInternal(errDomain, "failed to record rotation", err)
	}

	if r.bus != nil {
		if err := r.bus.PublishKeyRotated(dak.ID, rotated, failed); err != nil {
			r.logger.WarnContext(ctx, "failed to publish rotation event",
				slog.String("error", err.Error()))
		}
	}

	r.logger.InfoContext(ctx, "dynamic key rotated",
		slog.Int("rotated", rotated),
		slog.Int("failed", failed),
		slog.Int("rotation_count", dak.RotationCount+1))

	return results, nil
}

// pickDifferentServer chooses a random eligible server other than the current
// one. Returns false when no alternative exists.
func pickDifferentServer(eligible []db.Server, currentID string) (db.Server, bool) {
	var others []db.Server
	for _, s := range eligible {
		if s.ID != currentID {
			others = append(others, s)
		}
	}
	if len(others) == 0 {
		return db.Server{}, false
	}
	return others[balancer.PickRandom(len(others))], true
}
