package rotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/events"
	"github.com/chiquitav2/subfleet/internal/fleet/oplock"
)

type fakeMetrics struct {
	metrics map[string]int64
	err     error
	polled  chan struct{}
}

func (f *fakeMetrics) TransferMetrics(ctx context.Context) (map[string]int64, error) {
	if f.polled != nil {
		select {
		case f.polled <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.metrics, nil
}

type depletion struct {
	keyID     string
	kind      string
	usedBytes int64
}

type fakeUsagePublisher struct {
	depleted []depletion
}

func (p *fakeUsagePublisher) PublishKeyDepleted(keyID, kind string, usedBytes int64) error {
	p.depleted = append(p.depleted, depletion{keyID: keyID, kind: kind, usedBytes: usedBytes})
	return nil
}

func newTestSyncer(t *testing.T, perServer map[string]*fakeMetrics) (*UsageSyncer, db.Store, *fakeUsagePublisher) {
	t.Helper()
	_, store := db.NewTestDB(t)

	factory := func(server db.Server) (MetricsClient, error) {
		if m, ok := perServer[server.ID]; ok {
			return m, nil
		}
		return &fakeMetrics{}, nil
	}

	bus := &fakeUsagePublisher{}
	syncer := NewUsageSyncer(store, factory, oplock.NewMemory(), time.Minute, time.Minute, bus, logger.NewDevelopment("test"))
	return syncer, store, bus
}

func seedUsageKey(t *testing.T, store db.Store, id, serverID, remoteID string, limit *int64, dakID *string) {
	t.Helper()
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: id, ServerID: serverID, DynamicKeyID: dakID, RemoteID: remoteID,
		Name: "key-" + id, Password: "pw", Port: 443, Method: "m",
		AccessURL: "u", DataLimitBytes: limit,
	})
}

func TestSyncUpdatesUsage(t *testing.T) {
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {metrics: map[string]int64{"r1": 1500, "r2": 10}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)
	seedUsageKey(t, store, "k1", "s1", "r1", nil, nil)
	seedUsageKey(t, store, "k2", "s1", "r2", nil, nil)
	seedUsageKey(t, store, "k3", "s1", "unknown-remote", nil, nil)

	require.NoError(t, syncer.Sync(ctx))

	k1, err := store.GetAccessKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), k1.UsedBytes)

	k2, err := store.GetAccessKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(10), k2.UsedBytes)

	// A key not reported by the server keeps its last known counter
	k3, err := store.GetAccessKey(ctx, "k3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), k3.UsedBytes)
}

func TestSyncMarksDepletedAgainstEffectiveUsage(t *testing.T) {
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {metrics: map[string]int64{"r1": 600}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)
	limit := int64(1000)
	seedUsageKey(t, store, "k1", "s1", "r1", &limit, nil)

	// The key carries 500 bytes consumed on a previous server
	require.NoError(t, store.UpdateAccessKeyUsage(ctx, "k1", 500))
	require.NoError(t, store.RewriteAccessKeyServer(ctx, db.RewriteAccessKeyParams{
		ID: "k1", ServerID: "s1", RemoteID: "r1", Password: "pw", Port: 443,
		Method: "m", AccessURL: "u",
	}))

	require.NoError(t, syncer.Sync(ctx))

	key, err := store.GetAccessKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusDepleted, key.Status)
	assert.Equal(t, int64(1100), key.EffectiveUsage())
}

func TestSyncUnderQuotaStaysActive(t *testing.T) {
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {metrics: map[string]int64{"r1": 400}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)
	limit := int64(1000)
	seedUsageKey(t, store, "k1", "s1", "r1", &limit, nil)

	require.NoError(t, syncer.Sync(ctx))

	key, err := store.GetAccessKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusActive, key.Status)
}

func TestSyncAggregatesPoolUsage(t *testing.T) {
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {metrics: map[string]int64{"r1": 300, "r2": 200}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)
	limit := int64(450)
	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "d1", Name: "pool", Mode: db.ModeManual, DataLimitBytes: &limit,
	})

	dakID := "d1"
	seedUsageKey(t, store, "k1", "s1", "r1", nil, &dakID)
	seedUsageKey(t, store, "k2", "s1", "r2", nil, &dakID)

	require.NoError(t, syncer.Sync(ctx))

	dak, err := store.GetDynamicKey(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), dak.UsedBytes)
	assert.Equal(t, db.StatusDepleted, dak.Status)
}

func TestSyncPublishesDepletion(t *testing.T) {
	syncer, store, bus := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {metrics: map[string]int64{"r1": 1200, "r2": 300, "r3": 200}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)

	keyLimit := int64(1000)
	seedUsageKey(t, store, "k1", "s1", "r1", &keyLimit, nil)

	poolLimit := int64(450)
	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "d1", Name: "pool", Mode: db.ModeManual, DataLimitBytes: &poolLimit,
	})
	dakID := "d1"
	seedUsageKey(t, store, "k2", "s1", "r2", nil, &dakID)
	seedUsageKey(t, store, "k3", "s1", "r3", nil, &dakID)

	require.NoError(t, syncer.Sync(ctx))

	require.Len(t, bus.depleted, 2)
	assert.Equal(t, depletion{keyID: "k1", kind: events.KindAccessKey, usedBytes: 1200}, bus.depleted[0])
	assert.Equal(t, depletion{keyID: "d1", kind: events.KindDynamicKey, usedBytes: 500}, bus.depleted[1])

	// A second sweep finds both already depleted and publishes nothing new
	require.NoError(t, syncer.Sync(ctx))
	assert.Len(t, bus.depleted, 2)
}

func TestStartSweepsBeforeFirstTick(t *testing.T) {
	metrics := &fakeMetrics{
		metrics: map[string]int64{"r1": 2000},
		polled:  make(chan struct{}, 1),
	}
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{"s1": metrics})
	// An interval far beyond the test's lifetime: only the startup sweep
	// can touch the store.
	syncer.interval = time.Hour

	seedServer(t, store, "s1", nil)
	limit := int64(1000)
	seedUsageKey(t, store, "k1", "s1", "r1", &limit, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncer.Start(ctx)
		close(done)
	}()

	select {
	case <-metrics.polled:
	case <-time.After(5 * time.Second):
		t.Fatal("startup sweep never polled the server")
	}
	cancel()
	<-done

	key, err := store.GetAccessKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusDepleted, key.Status)
}

func TestSyncSkipsUnreachableServer(t *testing.T) {
	syncer, store, _ := newTestSyncer(t, map[string]*fakeMetrics{
		"s1": {err: errors.New("unreachable")},
		"s2": {metrics: map[string]int64{"r2": 900}},
	})
	ctx := context.Background()

	seedServer(t, store, "s1", nil)
	seedServer(t, store, "s2", nil)
	seedUsageKey(t, store, "k1", "s1", "r1", nil, nil)
	seedUsageKey(t, store, "k2", "s2", "r2", nil, nil)

	require.NoError(t, syncer.Sync(ctx))

	// The reachable server's keys were still updated
	k2, err := store.GetAccessKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(900), k2.UsedBytes)

	k1, err := store.GetAccessKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), k1.UsedBytes)
}
