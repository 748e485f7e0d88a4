// Package events publishes fleet lifecycle events on an in-process bus so
// notification channels and audit consumers can subscribe without coupling to
// the components that produce them.
package events

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gookit/event"

	"github.com/chiquitav2/subfleet/internal/shared/logger"
)

// Event names fired on the bus
const (
	EventKeyRotated    = "key.rotated"
	EventKeyMigrated   = "key.migrated"
	EventServerCreated = "server.created"
	EventKeyDepleted   = "key.depleted"
)

// KeyRotatedEvent is the payload of EventKeyRotated
type KeyRotatedEvent struct {
	DynamicKeyID string    `json:"dynamic_key_id"`
	Rotated      int       `json:"rotated"`
	Failed       int       `json:"failed"`
	Timestamp    time.Time `json:"timestamp"`
}

// KeyMigratedEvent is the payload of EventKeyMigrated
type KeyMigratedEvent struct {
	OperationID string    `json:"operation_id"`
	ToServerID  string    `json:"to_server_id"`
	Migrated    int       `json:"migrated"`
	Failed      int       `json:"failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// ServerCreatedEvent is the payload of EventServerCreated
type ServerCreatedEvent struct {
	ServerID  string    `json:"server_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Kinds of depleted entity carried by KeyDepletedEvent
const (
	KindAccessKey  = "access_key"
	KindDynamicKey = "dynamic_key"
)

// KeyDepletedEvent is the payload of EventKeyDepleted
type KeyDepletedEvent struct {
	KeyID     string    `json:"key_id"`
	Kind      string    `json:"kind"`
	UsedBytes int64     `json:"used_bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus wraps the gookit event manager for fleet events
type Bus struct {
	bus    *event.Manager
	logger *logger.Logger
}

// NewBus creates a new fleet event bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		bus:    event.NewManager("fleet"),
		logger: log.WithComponent("events"),
	}
}

// PublishKeyRotated publishes a rotation outcome
func (b *Bus) PublishKeyRotated(dynamicKeyID string, rotated, failed int) error {
	payload := KeyRotatedEvent{
		DynamicKeyID: dynamicKeyID,
		Rotated:      rotated,
		Failed:       failed,
		Timestamp:    time.Now(),
	}
	return b.fire(EventKeyRotated, payload)
}

// PublishKeyMigrated publishes a migration outcome
func (b *Bus) PublishKeyMigrated(operationID, toServerID string, migrated, failed int) error {
	payload := KeyMigratedEvent{
		OperationID: operationID,
		ToServerID:  toServerID,
		Migrated:    migrated,
		Failed:      failed,
		Timestamp:   time.Now(),
	}
	return b.fire(EventKeyMigrated, payload)
}

// PublishServerCreated publishes a server onboarding
func (b *Bus) PublishServerCreated(serverID, name string) error {
	payload := ServerCreatedEvent{
		ServerID:  serverID,
		Name:      name,
		Timestamp: time.Now(),
	}
	return b.fire(EventServerCreated, payload)
}

// PublishKeyDepleted publishes a quota exhaustion discovered during usage sync
func (b *Bus) PublishKeyDepleted(keyID, kind string, usedBytes int64) error {
	payload := KeyDepletedEvent{
		KeyID:     keyID,
		Kind:      kind,
		UsedBytes: usedBytes,
		Timestamp: time.Now(),
	}
	return b.fire(EventKeyDepleted, payload)
}

// Subscribe registers a listener for the given event name
func (b *Bus) Subscribe(name string, fn func(e event.Event) error) {
	b.bus.On(name, event.ListenerFunc(fn), event.Normal)
}

// Close shuts the bus down
func (b *Bus) Close() error {
	b.bus.Clear()
	return nil
}

func (b *Bus) fire(name string, payload interface{}) error {
	b.logger.Debug("publishing event", slog.String("event", name))

	err, _ := b.bus.Fire(name, event.M{"payload": payload})
	if err != nil {
		b.logger.Error("failed to publish event",
			slog.String("event", name),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to publish %s event: %w", name, err)
	}
	return nil
}
