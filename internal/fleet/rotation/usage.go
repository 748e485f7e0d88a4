package rotation

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/events"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
	"github.com/chiquitav2/subfleet/internal/fleet/outline"
)

// usageLockID keys the advisory lock for the usage sweep
const usageLockID = "usage-sync"

// MetricsClient fetches per-key transfer counters from one server
type MetricsClient interface {
	TransferMetrics(ctx context.Context) (map[string]int64, error)
}

// UsagePublisher receives quota exhaustion notices found during a sweep
type UsagePublisher interface {
	PublishKeyDepleted(keyID, kind string, usedBytes int64) error
}

// MetricsClientFactory builds a MetricsClient for a server record
type MetricsClientFactory func(server db.Server) (MetricsClient, error)

// OutlineMetricsClients is the production MetricsClientFactory
func OutlineMetricsClients(timeout time.Duration) MetricsClientFactory {
	return func(server db.Server) (MetricsClient, error) {
		return outline.NewClient(server.APIURL, server.CertSHA256, timeout)
	}
}

// UsageSyncer pulls transfer metrics from every active server, updates
// per-key usage, aggregates pool usage onto dynamic keys and marks depleted
// entities. A server that cannot be reached is skipped, not fatal.
type UsageSyncer struct {
	store    db.Store
	clients  MetricsClientFactory
	locks    oplock.Service
	lockTTL  time.Duration
	interval time.Duration
	bus      UsagePublisher
	logger   *logger.Logger
}

// NewUsageSyncer creates a UsageSyncer
func NewUsageSyncer(store db.Store, clients MetricsClientFactory, locks oplock.Service, lockTTL, interval time.Duration, bus UsagePublisher, log *logger.Logger) *UsageSyncer {
	if lockTTL <= 0 {
		lockTTL = oplock.DefaultTTL
	}
	return &UsageSyncer{
		store:    store,
		clients:  clients,
		locks:    locks,
		lockTTL:  lockTTL,
		interval: interval,
		bus:      bus,
		logger:   log.WithComponent("usage-sync"),
	}
}

// Start begins the usage sync loop. Blocks until ctx is canceled.
func (u *UsageSyncer) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.logger.Info("usage syncer started", slog.Duration("interval", u.interval))

	// Perform an initial sweep immediately
	if err := u.Sync(ctx); err != nil {
		u.logger.ErrorCtx(ctx, "usage sync failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			u.logger.Info("usage syncer stopped")
			return
		case <-ticker.C:
			if err := u.Sync(ctx); err != nil {
				u.logger.ErrorCtx(ctx, "usage sync failed", err)
			}
		}
	}
}

// Sync performs one usage sweep across the fleet
func (u *UsageSyncer) Sync(ctx context.Context) error {
	if !u.locks.TryAcquire(usageLockID, u.lockTTL) {
		u.logger.DebugContext(ctx, "usage sync already running, skipping")
		return nil
	}
	defer u.locks.Release(usageLockID)

	servers, err := u.store.ListActiveServers(ctx)
	if err != nil {
		return apperrors.NewInternal(errDomain, "failed to list servers", err)
	}

	for _, server := range servers {
		if err := u.syncServer(ctx, server); err != nil {
			u.logger.WarnContext(ctx, "skipping server during usage sync",
				slog.String("server_id", server.ID),
				slog.String("error", err.Error()))
		}
	}

	return u.aggregatePools(ctx)
}

func (u *UsageSyncer) syncServer(ctx context.Context, server db.Server) error {
	client, err := u.clients(server)
	if err != nil {
		return err
	}

	metrics, err := client.TransferMetrics(ctx)
	if err != nil {
		return err
	}

	keys, err := u.store.ListAccessKeysByServer(ctx, server.ID)
	if err != nil {
		return err
	}

	for _, key := range keys {
		used, ok := metrics[key.RemoteID]
		if !ok || used == key.UsedBytes {
			continue
		}
		if err := u.store.UpdateAccessKeyUsage(ctx, key.ID, used); err != nil {
			return err
		}
		if key.DataLimitBytes != nil && used+key.UsageOffset >= *key.DataLimitBytes && key.Status == db.StatusActive {
			if err := u.store.UpdateAccessKeyStatus(ctx, key.ID, db.StatusDepleted); err != nil {
				return err
			}
			u.publishDepleted(ctx, key.ID, events.KindAccessKey, used+key.UsageOffset)
			u.logger.InfoContext(ctx, "access key depleted",
				slog.String("key_id", key.ID),
				slog.Int64("used_bytes", used+key.UsageOffset))
		}
	}

	return nil
}

// aggregatePools rolls member usage up onto each dynamic key record
func (u *UsageSyncer) aggregatePools(ctx context.Context) error {
	daks, err := u.store.ListDynamicKeys(ctx)
	if err != nil {
		return apperrors.NewInternal(errDomain, "failed to list dynamic keys", err)
	}

	for _, dak := range daks {
		keys, err := u.store.ListAccessKeysByDynamicKey(ctx, dak.ID)
		if err != nil {
			return apperrors.NewInternal(errDomain, "failed to list pool members", err)
		}

		var total int64
		for _, key := range keys {
			total += key.EffectiveUsage()
		}
		if total == dak.UsedBytes {
			continue
		}
		if err := u.store.UpdateDynamicKeyUsage(ctx, dak.ID, total); err != nil {
			return apperrors.NewInternal(errDomain, "failed to update pool usage", err)
		}
		if dak.DataLimitBytes != nil && total+dak.UsageOffset >= *dak.DataLimitBytes && dak.Status == db.StatusActive {
			if err := u.store.UpdateDynamicKeyStatus(ctx, dak.ID, db.StatusDepleted); err != nil {
				return apperrors.NewInternal(errDomain, "failed to mark pool depleted", err)
			}
			u.publishDepleted(ctx, dak.ID, events.KindDynamicKey, total+dak.UsageOffset)
			u.logger.InfoContext(ctx, "dynamic key depleted",
				slog.String("dynamic_key_id", dak.ID),
				slog.Int64("used_bytes", total+dak.UsageOffset))
		}
	}

	return nil
}

func (u *UsageSyncer) publishDepleted(ctx context.Context, keyID, kind string, usedBytes int64) {
	if u.bus == nil {
		return
	}
	if err := u.bus.PublishKeyDepleted(keyID, kind, usedBytes); err != nil {
		u.logger.WarnContext(ctx, "failed to publish depletion event",
			slog.String("error", err.Error()))
	}
}
