package db

import (
	"encoding/json"
	"time"
)

// KeyStatus is the lifecycle status shared by access keys and dynamic keys
type KeyStatus string

const (
	StatusPending  KeyStatus = "pending"
	StatusActive   KeyStatus = "active"
	StatusDisabled KeyStatus = "disabled"
	StatusExpired  KeyStatus = "expired"
	StatusDepleted KeyStatus = "depleted"
)

// Terminal reports whether the status is terminal until an admin reset
func (s KeyStatus) Terminal() bool {
	return s == StatusExpired || s == StatusDepleted
}

// ExpirePolicy controls how a key's expiration date is derived
type ExpirePolicy string

const (
	ExpireNever    ExpirePolicy = "never"
	ExpireOnDate   ExpirePolicy = "date"
	ExpireDuration ExpirePolicy = "duration"
	ExpireFirstUse ExpirePolicy = "first_use"
)

// PoolMode distinguishes auto-provisioned dynamic key pools from admin-curated ones
type PoolMode string

const (
	ModeSelfManaged PoolMode = "self_managed"
	ModeManual      PoolMode = "manual"
)

// Algorithm selects the load-balancing strategy for a dynamic key pool
type Algorithm string

const (
	AlgIPHash     Algorithm = "ip_hash"
	AlgRandom     Algorithm = "random"
	AlgRoundRobin Algorithm = "round_robin"
	AlgLeastLoad  Algorithm = "least_load"
)

// Server is a physical VPN node addressed by its management API endpoint.
// apiUrl+certSHA256 uniquely identify one physical node.
type Server struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	APIURL          string    `json:"api_url"`
	CertSHA256      string    `json:"cert_sha256"`
	HostnameForKeys string    `json:"hostname_for_keys"`
	PortForNewKeys  int       `json:"port_for_new_keys"`
	IsActive        bool      `json:"is_active"`
	Tags            []string  `json:"tags"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasAnyTag reports whether the server carries at least one of the given tags.
// An empty filter matches every server.
func (s Server) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range s.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// AccessKey is one issued VPN credential, bound to exactly one server at a time
type AccessKey struct {
	ID             string       `json:"id"`
	ServerID       string       `json:"server_id"`
	DynamicKeyID   *string      `json:"dynamic_key_id,omitempty"`
	RemoteID       string       `json:"remote_id"`
	Name           string       `json:"name"`
	Password       string       `json:"password"`
	Port           int          `json:"port"`
	Method         string       `json:"method"`
	AccessURL      string       `json:"access_url"`
	UsedBytes      int64        `json:"used_bytes"`
	UsageOffset    int64        `json:"usage_offset"`
	DataLimitBytes *int64       `json:"data_limit_bytes,omitempty"`
	ExpirePolicy   ExpirePolicy `json:"expire_policy"`
	DurationDays   *int         `json:"duration_days,omitempty"`
	FirstUsedAt    *time.Time   `json:"first_used_at,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Status         KeyStatus    `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// EffectiveUsage is the cumulative usage across server moves: the offset
// carries what was consumed on previous servers.
func (k AccessKey) EffectiveUsage() int64 {
	return k.UsedBytes + k.UsageOffset
}

// DynamicKey is a stable subscription token resolving to a pool of access keys
type DynamicKey struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Mode              PoolMode     `json:"mode"`
	Algorithm         Algorithm    `json:"algorithm"`
	LastSelectedIndex int          `json:"last_selected_index"`
	ServerTags        []string     `json:"server_tags"`
	RotationEnabled   bool         `json:"rotation_enabled"`
	RotationInterval  int64        `json:"rotation_interval_sec"`
	LastRotatedAt     *time.Time   `json:"last_rotated_at,omitempty"`
	NextRotationAt    *time.Time   `json:"next_rotation_at,omitempty"`
	RotationCount     int          `json:"rotation_count"`
	PreferredMethod   string       `json:"preferred_method"`
	UsedBytes         int64        `json:"used_bytes"`
	UsageOffset       int64        `json:"usage_offset"`
	DataLimitBytes    *int64       `json:"data_limit_bytes,omitempty"`
	ExpirePolicy      ExpirePolicy `json:"expire_policy"`
	DurationDays      *int         `json:"duration_days,omitempty"`
	FirstUsedAt       *time.Time   `json:"first_used_at,omitempty"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	Status            KeyStatus    `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// EffectiveUsage mirrors AccessKey.EffectiveUsage for pool-level accounting
func (d DynamicKey) EffectiveUsage() int64 {
	return d.UsedBytes + d.UsageOffset
}

// ServerLoad aggregates per-server pool pressure for load scoring
type ServerLoad struct {
	ServerID   string `json:"server_id"`
	ActiveKeys int    `json:"active_keys"`
	UsedBytes  int64  `json:"used_bytes"`
}

// tags are stored as a JSON array in a TEXT column

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}
