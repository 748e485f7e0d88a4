package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/internal/shared/logger"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
)

type fakePool struct {
	key   db.AccessKey
	err   error
	calls int
}

func (f *fakePool) EnsureKey(ctx context.Context, dak db.DynamicKey) (db.AccessKey, error) {
	f.calls++
	return f.key, f.err
}

func newTestResolver(t *testing.T, pool PoolProvisioner) (*Resolver, db.Store) {
	t.Helper()
	_, store := db.NewTestDB(t)
	if pool == nil {
		pool = &fakePool{}
	}
	return New(store, pool, logger.NewDevelopment("test")), store
}

func seedServer(t *testing.T, store db.Store, id, hostname string, active bool, tags []string) db.Server {
	t.Helper()
	return db.SeedTestServer(t, store, db.CreateServerParams{
		ID:              id,
		Name:            "node-" + id,
		APIURL:          "https://" + id + ":8443/x",
		CertSHA256:      "aa",
		HostnameForKeys: hostname,
		PortForNewKeys:  443,
		IsActive:        active,
		Tags:            tags,
	})
}

func assertGone(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.IsGone(err), "expected a gone error, got %v", err)
}

func TestResolveStatic(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "vpn.example.com", true, nil)
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "alice",
		Password: "secret", Port: 8388, Method: "chacha20-ietf-poly1305",
		AccessURL: "ss://x@ignored:443", Status: db.StatusActive,
	})

	cred, err := r.Resolve(ctx, "tok-1", "203.0.113.5")
	require.NoError(t, err)

	assert.Equal(t, "vpn.example.com", cred.Server)
	assert.Equal(t, 8388, cred.ServerPort)
	assert.Equal(t, "secret", cred.Password)
	assert.Equal(t, "chacha20-ietf-poly1305", cred.Method)
	assert.Empty(t, cred.Raw)
}

func TestResolveUnknownToken(t *testing.T) {
	r, _ := newTestResolver(t, nil)

	_, err := r.Resolve(context.Background(), "no-such-token", "203.0.113.5")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)
}

func TestGateTerminalStatuses(t *testing.T) {
	for _, status := range []db.KeyStatus{db.StatusDisabled, db.StatusExpired, db.StatusDepleted} {
		t.Run(string(status), func(t *testing.T) {
			r, store := newTestResolver(t, nil)
			ctx := context.Background()

			seedServer(t, store, "s1", "h", true, nil)
			db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
				ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
				Password: "p", Port: 443, Method: "m", AccessURL: "u",
				Status: status,
			})

			_, err := r.Resolve(ctx, "tok-1", "")
			assertGone(t, err)
		})
	}
}

func TestGateDateExpiry(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	seedServer(t, store, "s1", "h", true, nil)
	past := now.Add(-time.Hour)
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
		Password: "p", Port: 443, Method: "m", AccessURL: "u",
		ExpirePolicy: db.ExpireOnDate, ExpiresAt: &past, Status: db.StatusActive,
	})

	_, err := r.Resolve(ctx, "tok-1", "")
	assertGone(t, err)

	// The transition must be persisted, not just reported
	key, err := store.GetAccessKey(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusExpired, key.Status)

	_, err = r.Resolve(ctx, "tok-1", "")
	assertGone(t, err)
}

func TestGateQuotaDepletion(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "h", true, nil)
	limit := int64(1000)
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
		Password: "p", Port: 443, Method: "m", AccessURL: "u",
		DataLimitBytes: &limit, Status: db.StatusActive,
	})
	require.NoError(t, store.UpdateAccessKeyUsage(ctx, "tok-1", 400))

	// Under quota resolves fine
	_, err := r.Resolve(ctx, "tok-1", "")
	require.NoError(t, err)

	// Usage carried in the offset counts against the quota too
	require.NoError(t, store.RewriteAccessKeyServer(ctx, db.RewriteAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r2", Password: "p", Port: 443,
		Method: "m", AccessURL: "u",
	}))
	require.NoError(t, store.UpdateAccessKeyUsage(ctx, "tok-1", 600))

	_, err = r.Resolve(ctx, "tok-1", "")
	assertGone(t, err)
}

func TestGateFirstUseActivation(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	seedServer(t, store, "s1", "h", true, nil)
	days := 30
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
		Password: "p", Port: 443, Method: "m", AccessURL: "u",
		ExpirePolicy: db.ExpireFirstUse, DurationDays: &days, Status: db.StatusPending,
	})

	_, err := r.Resolve(ctx, "tok-1", "")
	require.NoError(t, err)

	key, err := store.GetAccessKey(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusActive, key.Status)
	require.NotNil(t, key.FirstUsedAt)
	require.NotNil(t, key.ExpiresAt)
	wantExpiry := now.AddDate(0, 0, 30)
	assert.True(t, key.ExpiresAt.Equal(wantExpiry), "expires_at = %v, want %v", key.ExpiresAt, wantExpiry)

	// A later resolution must not recompute expires_at
	r.now = func() time.Time { return now.Add(48 * time.Hour) }
	_, err = r.Resolve(ctx, "tok-1", "")
	require.NoError(t, err)

	key, err = store.GetAccessKey(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, key.ExpiresAt.Equal(wantExpiry), "expires_at changed to %v", key.ExpiresAt)
}

func TestGateFirstUseWithoutDuration(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "h", true, nil)
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
		Password: "p", Port: 443, Method: "m", AccessURL: "u",
		ExpirePolicy: db.ExpireFirstUse, Status: db.StatusPending,
	})

	_, err := r.Resolve(ctx, "tok-1", "")
	require.NoError(t, err)

	key, err := store.GetAccessKey(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusActive, key.Status)
	assert.NotNil(t, key.FirstUsedAt)
	assert.Nil(t, key.ExpiresAt, "a null duration means the key never expires")
}

func TestResolveSelfManagedDelegates(t *testing.T) {
	pool := &fakePool{}
	r, store := newTestResolver(t, pool)
	ctx := context.Background()

	seedServer(t, store, "s1", "vpn.example.com", true, nil)
	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "family", Mode: db.ModeSelfManaged,
	})
	pool.key = db.AccessKey{
		ID: "member", ServerID: "s1", Password: "pw", Port: 443,
		Method: "chacha20-ietf-poly1305", AccessURL: "ss://m@h:443",
		Status: db.StatusActive,
	}

	cred, err := r.Resolve(ctx, "dak-1", "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, 1, pool.calls)
	assert.Equal(t, "vpn.example.com", cred.Server)
	assert.Equal(t, "pw", cred.Password)
}

func TestResolveSelfManagedSurfacesProvisionFailure(t *testing.T) {
	pool := &fakePool{err: apperrors.NewUnavailable("provisioner", apperrors.ErrCodeNoEligibleServer,
		"no eligible server for tag filter", apperrors.ErrNoEligibleServer)}
	r, store := newTestResolver(t, pool)

	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "family", Mode: db.ModeSelfManaged,
	})

	_, err := r.Resolve(context.Background(), "dak-1", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
}

func seedPoolMember(t *testing.T, store db.Store, id, serverID, dakID string, status db.KeyStatus) {
	t.Helper()
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: id, ServerID: serverID, DynamicKeyID: &dakID, RemoteID: "r-" + id,
		Name: id, Password: "pw-" + id, Port: 443, Method: "chacha20-ietf-poly1305",
		AccessURL: "ss://" + id + "@h:443", Status: status,
	})
}

func TestResolveManualPoolFiltering(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "eu-1", "eu-1.example.com", true, []string{"eu"})
	seedServer(t, store, "us-1", "us-1.example.com", true, []string{"us"})
	seedServer(t, store, "eu-2", "eu-2.example.com", false, []string{"eu"})

	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "eu-pool", Mode: db.ModeManual,
		Algorithm: db.AlgRoundRobin, ServerTags: []string{"eu"},
	})

	seedPoolMember(t, store, "m1", "eu-1", "dak-1", db.StatusActive)
	seedPoolMember(t, store, "m2", "us-1", "dak-1", db.StatusActive)  // wrong tag
	seedPoolMember(t, store, "m3", "eu-2", "dak-1", db.StatusActive)  // inactive server
	seedPoolMember(t, store, "m4", "eu-1", "dak-1", db.StatusExpired) // dead key

	// Only m1 survives the filter, so every resolution lands on it
	for i := 0; i < 3; i++ {
		cred, err := r.Resolve(ctx, "dak-1", "203.0.113.5")
		require.NoError(t, err)
		assert.Equal(t, "pw-m1", cred.Password)
		assert.Equal(t, "eu-1.example.com", cred.Server)
	}
}

func TestResolveManualRoundRobinPersistsCursor(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "s1.example.com", true, nil)
	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "pool", Mode: db.ModeManual, Algorithm: db.AlgRoundRobin,
	})
	seedPoolMember(t, store, "m1", "s1", "dak-1", db.StatusActive)
	seedPoolMember(t, store, "m2", "s1", "dak-1", db.StatusActive)
	seedPoolMember(t, store, "m3", "s1", "dak-1", db.StatusActive)

	var got []string
	for i := 0; i < 4; i++ {
		cred, err := r.Resolve(ctx, "dak-1", "")
		require.NoError(t, err)
		got = append(got, cred.Password)
	}
	assert.Equal(t, []string{"pw-m1", "pw-m2", "pw-m3", "pw-m1"}, got)

	dak, err := store.GetDynamicKey(ctx, "dak-1")
	require.NoError(t, err)
	assert.Equal(t, 0, dak.LastSelectedIndex, "cursor wraps back to the first member")
}

func TestResolveManualIPHashIsSticky(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "s1.example.com", true, nil)
	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "pool", Mode: db.ModeManual, Algorithm: db.AlgIPHash,
	})
	seedPoolMember(t, store, "m1", "s1", "dak-1", db.StatusActive)
	seedPoolMember(t, store, "m2", "s1", "dak-1", db.StatusActive)

	first, err := r.Resolve(ctx, "dak-1", "203.0.113.77")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(ctx, "dak-1", "203.0.113.77")
		require.NoError(t, err)
		assert.Equal(t, first.Password, again.Password)
	}
}

func TestResolveManualEmptyPool(t *testing.T) {
	r, store := newTestResolver(t, nil)

	db.SeedTestDynamicKey(t, store, db.CreateDynamicKeyParams{
		ID: "dak-1", Name: "empty", Mode: db.ModeManual,
	})

	_, err := r.Resolve(context.Background(), "dak-1", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	var domainErr apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, apperrors.ErrCodeNoEligibleKey, domainErr.Code())
}

func TestRenderRawFallback(t *testing.T) {
	r, store := newTestResolver(t, nil)
	ctx := context.Background()

	seedServer(t, store, "s1", "h", true, nil)
	// No structured secret material and an unparseable URL: serve it opaque
	db.SeedTestAccessKey(t, store, db.CreateAccessKeyParams{
		ID: "tok-1", ServerID: "s1", RemoteID: "r1", Name: "n",
		AccessURL: "ss://%%%not-a-url", Password: "", Port: 0, Method: "",
		Status: db.StatusActive,
	})

	cred, err := r.Resolve(ctx, "tok-1", "")
	require.NoError(t, err)
	assert.Equal(t, "ss://%%%not-a-url", cred.Raw)
	assert.Empty(t, cred.Server)
	assert.Empty(t, cred.Password)
}
