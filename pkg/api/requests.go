package api

// CreateServerRequest registers an existing Outline server with the fleet
type CreateServerRequest struct {
	Name            string   `json:"name"`
	APIURL          string   `json:"api_url"`
	CertSHA256      string   `json:"cert_sha256"`
	HostnameForKeys string   `json:"hostname_for_keys,omitempty"`
	PortForNewKeys  int      `json:"port_for_new_keys,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// UpdateServerRequest updates mutable server attributes
type UpdateServerRequest struct {
	Name            *string  `json:"name,omitempty"`
	HostnameForKeys *string  `json:"hostname_for_keys,omitempty"`
	PortForNewKeys  *int     `json:"port_for_new_keys,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// CreateAccessKeyRequest creates a static subscription key on a server
type CreateAccessKeyRequest struct {
	ServerID       string `json:"server_id"`
	Name           string `json:"name"`
	Method         string `json:"method,omitempty"`
	DataLimitBytes *int64 `json:"data_limit_bytes,omitempty"`
	ExpirePolicy   string `json:"expire_policy,omitempty"`
	DurationDays   *int   `json:"duration_days,omitempty"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"` // unix seconds, for DATE policy
}

// CreateDynamicKeyRequest creates a dynamic access key (pooled subscription)
type CreateDynamicKeyRequest struct {
	Name             string   `json:"name"`
	Mode             string   `json:"mode,omitempty"`
	Algorithm        string   `json:"algorithm,omitempty"`
	ServerTags       []string `json:"server_tags,omitempty"`
	DataLimitBytes   *int64   `json:"data_limit_bytes,omitempty"`
	ExpirePolicy     string   `json:"expire_policy,omitempty"`
	DurationDays     *int     `json:"duration_days,omitempty"`
	ExpiresAt        *int64   `json:"expires_at,omitempty"`
	PreferredMethod  string   `json:"preferred_method,omitempty"`
	RotationEnabled  bool     `json:"rotation_enabled,omitempty"`
	RotationInterval int64    `json:"rotation_interval_seconds,omitempty"`
}

// MigrateServerRequest moves every key off a source server
type MigrateServerRequest struct {
	FromServerID string `json:"from_server_id"`
	ToServerID   string `json:"to_server_id"`
}

// MigrateKeysRequest moves a chosen set of keys to a target server
type MigrateKeysRequest struct {
	KeyIDs     []string `json:"key_ids"`
	ToServerID string   `json:"to_server_id"`
}

// ProvisionHostRequest creates a fleet host on the cloud provider
type ProvisionHostRequest struct {
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}
