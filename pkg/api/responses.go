package api

import "time"

// ServerInfo represents a fleet server in API responses
type ServerInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	APIURL          string    `json:"api_url"`
	CertSHA256      string    `json:"cert_sha256"`
	HostnameForKeys string    `json:"hostname_for_keys,omitempty"`
	PortForNewKeys  int       `json:"port_for_new_keys,omitempty"`
	IsActive        bool      `json:"is_active"`
	Tags            []string  `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AccessKeyInfo represents a static access key in API responses
type AccessKeyInfo struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	DynamicKeyID   *string    `json:"dynamic_key_id,omitempty"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	AccessURL      string     `json:"access_url,omitempty"`
	UsedBytes      int64      `json:"used_bytes"`
	DataLimitBytes *int64     `json:"data_limit_bytes,omitempty"`
	ExpirePolicy   string     `json:"expire_policy"`
	FirstUsedAt    *time.Time `json:"first_used_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DynamicKeyInfo represents a dynamic access key in API responses
type DynamicKeyInfo struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Mode             string     `json:"mode"`
	Algorithm        string     `json:"algorithm"`
	Status           string     `json:"status"`
	ServerTags       []string   `json:"server_tags,omitempty"`
	UsedBytes        int64      `json:"used_bytes"`
	DataLimitBytes   *int64     `json:"data_limit_bytes,omitempty"`
	ExpirePolicy     string     `json:"expire_policy"`
	FirstUsedAt      *time.Time `json:"first_used_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RotationEnabled  bool       `json:"rotation_enabled"`
	RotationInterval int64      `json:"rotation_interval_seconds,omitempty"`
	LastRotatedAt    *time.Time `json:"last_rotated_at,omitempty"`
	RotationCount    int64      `json:"rotation_count"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MigrationItem is the per-key outcome of a batch migration
type MigrationItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MigrationReport summarizes a batch migration
type MigrationReport struct {
	OperationID string          `json:"operation_id"`
	Total       int             `json:"total"`
	Migrated    int             `json:"migrated"`
	Failed      int             `json:"failed"`
	Items       []MigrationItem `json:"items"`
}

// RotationReport summarizes a manual rotation run
type RotationReport struct {
	DynamicKeyID string          `json:"dynamic_key_id"`
	Rotated      int             `json:"rotated"`
	Failed       int             `json:"failed"`
	Items        []MigrationItem `json:"items"`
}

// ServerLoadInfo reports load metrics used by the balancer
type ServerLoadInfo struct {
	ServerID   string  `json:"server_id"`
	ActiveKeys int64   `json:"active_keys"`
	UsedBytes  int64   `json:"used_bytes"`
	Score      float64 `json:"score"`
}

// ProvisionHostResponse reports a cloud host onboarding
type ProvisionHostResponse struct {
	ServerID   string `json:"server_id"`
	ProviderID int64  `json:"provider_id"`
	Name       string `json:"name"`
	IPAddress  string `json:"ip_address"`
	APIURL     string `json:"api_url"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
