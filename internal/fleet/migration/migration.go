// Package migration moves batches of access keys between servers. Items run
// sequentially through the lifecycle primitive; partial success is reported,
// not treated as an abort.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
)

const errDomain = "migration"

// Report summarizes a completed batch migration
type Report struct {
	Total    int                    `json:"total"`
	Migrated int                    `json:"migrated"`
	Failed   int                    `json:"failed"`
	Items    []lifecycle.ItemResult `json:"items"`
}

// Publisher receives migration outcomes for downstream consumers
type Publisher interface {
	PublishKeyMigrated(operationID, toServerID string, migrated, failed int) error
}

// Migrator orchestrates bulk key moves under the advisory lock
type Migrator struct {
	store   db.Store
	mover   *lifecycle.Mover
	locks   oplock.Service
	lockTTL time.Duration
	bus     Publisher
	logger  *logger.Logger
}

// New creates a Migrator
func New(store db.Store, mover *lifecycle.Mover, locks oplock.Service, lockTTL time.Duration, bus Publisher, log *logger.Logger) *Migrator {
	if lockTTL <= 0 {
		lockTTL = oplock.DefaultTTL
	}
	return &Migrator{
		store:   store,
		mover:   mover,
		locks:   locks,
		lockTTL: lockTTL,
		bus:     bus,
		logger:  log.WithComponent("migration"),
	}
}

// MigrateServerKeys moves every key currently on the source server to the
// target server. operationID keys the advisory lock; overlapping bulk
// operations with the same id are refused.
func (m *Migrator) MigrateServerKeys(ctx context.Context, operationID, fromServerID, toServerID string) (*Report, error) {
	keys, err := m.store.ListAccessKeysByServer(ctx, fromServerID)
	if err != nil {
		return nil, apperrors.NewInternal(errDomain, "failed to list source server keys", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return m.MigrateKeys(ctx, operationID, ids, toServerID)
}

// MigrateKeys moves the given keys to the target server
func (m *Migrator) MigrateKeys(ctx context.Context, operationID string, keyIDs []string, toServerID string) (*Report, error) {
	if !m.locks.TryAcquire(operationID, m.lockTTL) {
		return nil, apperrors.NewLockHeld(errDomain, operationID)
	}
	defer m.locks.Release(operationID)

	target, err := m.store.GetServer(ctx, toServerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewBaseError(errDomain, apperrors.ErrCodeServerNotFound, "target server not found", false, err, nil)
		}
		return nil, apperrors.NewInternal(errDomain, "failed to load target server", err)
	}
	if !target.IsActive {
		return nil, apperrors.NewBaseError(errDomain, apperrors.ErrCodeServerInactive, "target server is inactive", false, apperrors.ErrServerInactive, nil)
	}

	items := make([]lifecycle.BatchItem, 0, len(keyIDs))
	for _, id := range keyIDs {
		key, err := m.store.GetAccessKey(ctx, id)
		if err != nil {
			items = append(items, lifecycle.BatchItem{ID: id})
			continue
		}
		items = append(items, lifecycle.BatchItem{ID: key.ID, Name: key.Name})
	}

	op := m.logger.StartOp(ctx, "migrate_keys",
		slog.String("operation_id", operationID),
		slog.String("to_server", toServerID),
		slog.Int("key_count", len(items)))

	results := lifecycle.RunBatch(ctx, items, func(ctx context.Context, item lifecycle.BatchItem) error {
		key, err := m.store.GetAccessKey(ctx, item.ID)
		if err != nil {
			return apperrors.NewMoveError(item.ID, "", toServerID, "key not found", err)
		}
		if key.ServerID == toServerID {
			// Already home; nothing to move.
			return nil
		}
		_, _, err = m.mover.Move(ctx, key, target, lifecycle.MoveOptions{DeleteFromSource: true})
		return err
	})

	report := summarize(results)

	if m.bus != nil {
		if err := m.bus.PublishKeyMigrated(operationID, toServerID, report.Migrated, report.Failed); err != nil {
			m.logger.WarnContext(ctx, "failed to publish migration event",
				slog.String("error", err.Error()))
		}
	}

	if report.Failed > 0 {
		op.Complete("migration finished with failures",
			slog.Int("migrated", report.Migrated),
			slog.Int("failed", report.Failed))
	} else {
		op.Complete("migration finished",
			slog.Int("migrated", report.Migrated))
	}

	return report, nil
}

func summarize(results []lifecycle.ItemResult) *Report {
	report := &Report{
		Total: len(results),
		Items: results,
	}
	for _, r := range results {
		if r.Success {
			report.Migrated++
		} else {
			report.Failed++
		}
	}
	return report
}
