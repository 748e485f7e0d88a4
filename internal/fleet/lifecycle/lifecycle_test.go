package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/outline"
)

// fakeRemote stands in for one server's management API
type fakeRemote struct {
	serverID string

	createErr error
	limitErr  error
	deleteErr error

	created []string // names passed to CreateAccessKey
	limits  map[string]int64
	deleted []string

	nextID int
}

func (f *fakeRemote) CreateAccessKey(ctx context.Context, name, method string) (*outline.AccessKey, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	f.created = append(f.created, name)
	id := fmt.Sprintf("%s-remote-%d", f.serverID, f.nextID)
	return &outline.AccessKey{
		ID:        id,
		Name:      name,
		Password:  "pw-" + id,
		Port:      443,
		Method:    method,
		AccessURL: "ss://" + id + "@" + f.serverID + ":443",
	}, nil
}

func (f *fakeRemote) DeleteAccessKey(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) SetDataLimit(ctx context.Context, id string, bytes int64) error {
	if f.limitErr != nil {
		return f.limitErr
	}
	if f.limits == nil {
		f.limits = map[string]int64{}
	}
	f.limits[id] = bytes
	return nil
}

// fakeFleet routes ClientFactory calls to per-server fakes
type fakeFleet map[string]*fakeRemote

func (f fakeFleet) factory(server db.Server) (RemoteClient, error) {
	remote, ok := f[server.ID]
	if !ok {
		return nil, fmt.Errorf("no fake for server %s", server.ID)
	}
	return remote, nil
}

func newTestMover(t *testing.T, fleet fakeFleet) (*Mover, db.Store) {
	t.Helper()
	_, store := db.NewTestDB(t)
	return NewMover(store, fleet.factory, logger.NewDevelopment("test")), store
}

func seedServer(t *testing.T, store db.Store, id string, active bool) db.Server {
	t.Helper()
	return db.SeedTestServer(t, store, db.CreateServerParams{
		ID:         id,
		Name:       "node-" + id,
		APIURL:     "https://" + id + ":8443/x",
		CertSHA256: "aa",
		IsActive:   active,
	})
}

func seedKey(t *testing.T, store db.Store, id, serverID string) db.AccessKey {
	t.Helper()
	return db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID:        id,
		ServerID:  serverID,
		RemoteID:  serverID + "-remote-old",
		Name:      "key-" + id,
		Password:  "pw",
		Port:      443,
		Method:    "chacha20-ietf-poly1305",
		AccessURL: "ss://old@" + serverID + ":443",
	})
}

func TestEstablish(t *testing.T) {
	t.Run("creates the credential and copies the limit", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1"}}
		mover, store := newTestMover(t, fleet)
		target := seedServer(t, store, "s1", true)

		limit := int64(1 << 30)
		remote, steps, err := mover.Establish(context.Background(), target, EstablishRequest{
			Name:           "alice",
			Method:         "chacha20-ietf-poly1305",
			DataLimitBytes: &limit,
		})
		require.NoError(t, err)
		assert.Equal(t, "s1-remote-1", remote.ID)
		require.Len(t, steps, 1)
		assert.Equal(t, StepCopyLimit, steps[0].Step)
		assert.NoError(t, steps[0].Err)
		assert.Equal(t, limit, fleet["s1"].limits[remote.ID])
	})

	t.Run("inactive target is fatal", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1"}}
		mover, store := newTestMover(t, fleet)
		target := seedServer(t, store, "s1", false)

		_, _, err := mover.Establish(context.Background(), target, EstablishRequest{Name: "alice"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrServerInactive)
		assert.Empty(t, fleet["s1"].created)
	})

	t.Run("remote create failure is fatal", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1", createErr: errors.New("api down")}}
		mover, store := newTestMover(t, fleet)
		target := seedServer(t, store, "s1", true)

		_, _, err := mover.Establish(context.Background(), target, EstablishRequest{Name: "alice"})
		require.Error(t, err)
		var provErr *apperrors.ProvisionError
		require.ErrorAs(t, err, &provErr)
	})

	t.Run("failed limit copy is observed but not fatal", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1", limitErr: errors.New("unsupported")}}
		mover, store := newTestMover(t, fleet)
		target := seedServer(t, store, "s1", true)

		limit := int64(100)
		remote, steps, err := mover.Establish(context.Background(), target, EstablishRequest{
			Name:           "alice",
			DataLimitBytes: &limit,
		})
		require.NoError(t, err)
		assert.NotNil(t, remote)
		require.Len(t, steps, 1)
		assert.Equal(t, StepCopyLimit, steps[0].Step)
		assert.Error(t, steps[0].Err)
	})
}

func TestMove(t *testing.T) {
	t.Run("full sequence folds usage and deletes from source", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1"}, "s2": {serverID: "s2"}}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		target := seedServer(t, store, "s2", true)
		key := seedKey(t, store, "k1", "s1")
		require.NoError(t, store.UpdateAccessKeyUsage(ctx, key.ID, 512))
		key, err := store.GetAccessKey(ctx, key.ID)
		require.NoError(t, err)

		moved, steps, err := mover.Move(ctx, key, target, MoveOptions{DeleteFromSource: true})
		require.NoError(t, err)

		assert.Equal(t, "s2", moved.ServerID)
		assert.Equal(t, "s2-remote-1", moved.RemoteID)
		assert.Equal(t, int64(0), moved.UsedBytes)
		assert.Equal(t, int64(512), moved.UsageOffset)
		assert.Equal(t, int64(512), moved.EffectiveUsage())

		require.Len(t, steps, 1)
		assert.Equal(t, StepDeleteSource, steps[0].Step)
		assert.NoError(t, steps[0].Err)
		assert.Equal(t, []string{"s1-remote-old"}, fleet["s1"].deleted)
	})

	t.Run("failed source delete does not fail the move", func(t *testing.T) {
		fleet := fakeFleet{
			"s1": {serverID: "s1", deleteErr: errors.New("unreachable")},
			"s2": {serverID: "s2"},
		}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		target := seedServer(t, store, "s2", true)
		key := seedKey(t, store, "k1", "s1")

		moved, steps, err := mover.Move(ctx, key, target, MoveOptions{DeleteFromSource: true})
		require.NoError(t, err)
		assert.Equal(t, "s2", moved.ServerID)

		require.Len(t, steps, 1)
		assert.Equal(t, StepDeleteSource, steps[0].Step)
		assert.Error(t, steps[0].Err)
	})

	t.Run("skips source delete when not requested", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1"}, "s2": {serverID: "s2"}}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		target := seedServer(t, store, "s2", true)
		key := seedKey(t, store, "k1", "s1")

		_, steps, err := mover.Move(ctx, key, target, MoveOptions{})
		require.NoError(t, err)
		assert.Empty(t, steps)
		assert.Empty(t, fleet["s1"].deleted)
	})

	t.Run("remote create failure leaves the record untouched", func(t *testing.T) {
		fleet := fakeFleet{
			"s1": {serverID: "s1"},
			"s2": {serverID: "s2", createErr: errors.New("api down")},
		}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		target := seedServer(t, store, "s2", true)
		key := seedKey(t, store, "k1", "s1")

		_, _, err := mover.Move(ctx, key, target, MoveOptions{DeleteFromSource: true})
		require.Error(t, err)
		var moveErr *apperrors.MoveError
		require.ErrorAs(t, err, &moveErr)

		unchanged, err := store.GetAccessKey(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, "s1", unchanged.ServerID)
		assert.Empty(t, fleet["s1"].deleted)
	})
}

func TestRetire(t *testing.T) {
	t.Run("deletes remote credential and local record", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1"}}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		key := seedKey(t, store, "k1", "s1")

		require.NoError(t, mover.Retire(ctx, key))
		assert.Equal(t, []string{"s1-remote-old"}, fleet["s1"].deleted)

		_, err := store.GetAccessKey(ctx, key.ID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("missing server is tolerated", func(t *testing.T) {
		fleet := fakeFleet{}
		mover, _ := newTestMover(t, fleet)

		// A stale key record whose server row is gone: the remote delete is
		// skipped and the local delete is a no-op.
		ghost := db.AccessKey{ID: "ghost", ServerID: "vanished", RemoteID: "r-ghost"}
		require.NoError(t, mover.Retire(context.Background(), ghost))
	})

	t.Run("failed remote delete never blocks cleanup", func(t *testing.T) {
		fleet := fakeFleet{"s1": {serverID: "s1", deleteErr: errors.New("unreachable")}}
		mover, store := newTestMover(t, fleet)
		ctx := context.Background()

		seedServer(t, store, "s1", true)
		key := seedKey(t, store, "k1", "s1")

		require.NoError(t, mover.Retire(ctx, key))
		_, err := store.GetAccessKey(ctx, key.ID)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestRunBatch(t *testing.T) {
	t.Run("partial failure is reported per item", func(t *testing.T) {
		items := []BatchItem{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}

		results := RunBatch(context.Background(), items, func(ctx context.Context, item BatchItem) error {
			if item.ID == "c" {
				return errors.New("remote down")
			}
			return nil
		})

		require.Len(t, results, 5)
		success := 0
		for _, r := range results {
			if r.Success {
				success++
			}
		}
		assert.Equal(t, 4, success)
		assert.False(t, results[2].Success)
		assert.Equal(t, "remote down", results[2].Error)
	})

	t.Run("cancellation records the remaining items", func(t *testing.T) {
		items := []BatchItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}

		ctx, cancel := context.WithCancel(context.Background())
		results := RunBatch(ctx, items, func(ctx context.Context, item BatchItem) error {
			if item.ID == "a" {
				cancel()
			}
			return nil
		})

		require.Len(t, results, 3)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.False(t, results[2].Success)
		assert.Contains(t, results[1].Error, "context canceled")
	})
}
