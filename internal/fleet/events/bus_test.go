package events

import (
	"testing"

	"github.com/gookit/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(logger.NewDevelopment("test"))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishKeyRotated(t *testing.T) {
	b := newTestBus(t)

	var got KeyRotatedEvent
	b.Subscribe(EventKeyRotated, func(e event.Event) error {
		payload, ok := e.Get("payload").(KeyRotatedEvent)
		require.True(t, ok, "unexpected payload type %T", e.Get("payload"))
		got = payload
		return nil
	})

	require.NoError(t, b.PublishKeyRotated("dak-1", 3, 1))

	assert.Equal(t, "dak-1", got.DynamicKeyID)
	assert.Equal(t, 3, got.Rotated)
	assert.Equal(t, 1, got.Failed)
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublishKeyMigrated(t *testing.T) {
	b := newTestBus(t)

	var got KeyMigratedEvent
	b.Subscribe(EventKeyMigrated, func(e event.Event) error {
		got = e.Get("payload").(KeyMigratedEvent)
		return nil
	})

	require.NoError(t, b.PublishKeyMigrated("op-1", "s2", 5, 0))

	assert.Equal(t, "op-1", got.OperationID)
	assert.Equal(t, "s2", got.ToServerID)
	assert.Equal(t, 5, got.Migrated)
}

func TestPublishServerCreated(t *testing.T) {
	b := newTestBus(t)

	var got ServerCreatedEvent
	b.Subscribe(EventServerCreated, func(e event.Event) error {
		got = e.Get("payload").(ServerCreatedEvent)
		return nil
	})

	require.NoError(t, b.PublishServerCreated("s1", "fra-1"))

	assert.Equal(t, "s1", got.ServerID)
	assert.Equal(t, "fra-1", got.Name)
}

func TestPublishKeyDepleted(t *testing.T) {
	b := newTestBus(t)

	var got KeyDepletedEvent
	b.Subscribe(EventKeyDepleted, func(e event.Event) error {
		got = e.Get("payload").(KeyDepletedEvent)
		return nil
	})

	require.NoError(t, b.PublishKeyDepleted("k1", KindAccessKey, 2048))

	assert.Equal(t, "k1", got.KeyID)
	assert.Equal(t, KindAccessKey, got.Kind)
	assert.Equal(t, int64(2048), got.UsedBytes)
	assert.False(t, got.Timestamp.IsZero())
}

func TestPublishWithoutSubscribersIsFine(t *testing.T) {
	b := newTestBus(t)
	assert.NoError(t, b.PublishKeyRotated("dak-1", 0, 0))
}

func TestSubscribersAreIndependent(t *testing.T) {
	b := newTestBus(t)

	rotations := 0
	migrations := 0
	b.Subscribe(EventKeyRotated, func(e event.Event) error {
		rotations++
		return nil
	})
	b.Subscribe(EventKeyMigrated, func(e event.Event) error {
		migrations++
		return nil
	})

	require.NoError(t, b.PublishKeyRotated("dak-1", 1, 0))
	require.NoError(t, b.PublishKeyRotated("dak-2", 1, 0))
	require.NoError(t, b.PublishKeyMigrated("op-1", "s1", 1, 0))

	assert.Equal(t, 2, rotations)
	assert.Equal(t, 1, migrations)
}
