// Package oplock guards bulk structural operations (full-fleet sync, bulk
// migration, rotation sweeps) against overlapping execution. The in-memory
// implementation is advisory and process-local; a store-level lease should
// replace it behind the same interface if the service is ever scaled out.
package oplock

import (
	"sync"
	"time"
)

// DefaultTTL is how long a holder may keep a lock before a new acquisition
// forcibly reclaims it. Reclaim is the liveness escape hatch for holders that
// crashed without releasing.
const DefaultTTL = 5 * time.Minute

// Service is the advisory lock contract
type Service interface {
	// TryAcquire attempts to take the lock for the given operation id.
	// Returns false while another live holder owns it.
	TryAcquire(id string, ttl time.Duration) bool

	// Release frees the lock. Releasing an unheld lock is a no-op.
	Release(id string)
}

// Memory is the single-process implementation of Service
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time // operation id -> expiry

	// now is swappable for tests
	now func() time.Time
}

// NewMemory creates an in-memory lock service
func NewMemory() *Memory {
	return &Memory{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// TryAcquire takes the lock unless a live holder owns it. An expired
// holder is reclaimed.
func (m *Memory) TryAcquire(id string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.held[id]; ok && now.Before(expiry) {
		return false
	}

	m.held[id] = now.Add(ttl)
	return true
}

// Release frees the lock for the given operation id
func (m *Memory) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, id)
}
