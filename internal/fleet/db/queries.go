package db

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is the interface shared by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New creates a Queries instance bound to the given connection or transaction
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries executes individual statements against the bound connection
type Queries struct {
	db DBTX
}

// Querier defines all single-statement database operations
type Querier interface {
	// Servers
	CreateServer(ctx context.Context, arg CreateServerParams) (Server, error)
	GetServer(ctx context.Context, id string) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	ListActiveServers(ctx context.Context) ([]Server, error)
	UpdateServer(ctx context.Context, arg UpdateServerParams) error
	SetServerActive(ctx context.Context, id string, active bool) error
	DeleteServer(ctx context.Context, id string) error
	CountKeysOnServer(ctx context.Context, serverID string) (int64, error)

	// Access keys
	CreateAccessKey(ctx context.Context, arg CreateAccessKeyParams) (AccessKey, error)
	GetAccessKey(ctx context.Context, id string) (AccessKey, error)
	ListAccessKeys(ctx context.Context) ([]AccessKey, error)
	ListAccessKeysByServer(ctx context.Context, serverID string) ([]AccessKey, error)
	ListAccessKeysByDynamicKey(ctx context.Context, dynamicKeyID string) ([]AccessKey, error)
	UpdateAccessKeyStatus(ctx context.Context, id string, status KeyStatus) error
	MarkAccessKeyExpired(ctx context.Context, id string) (bool, error)
	ActivateAccessKeyFirstUse(ctx context.Context, arg ActivateFirstUseParams) (bool, error)
	UpdateAccessKeyUsage(ctx context.Context, id string, usedBytes int64) error
	RewriteAccessKeyServer(ctx context.Context, arg RewriteAccessKeyParams) error
	DeleteAccessKey(ctx context.Context, id string) error
	ServerLoads(ctx context.Context) ([]ServerLoad, error)

	// Dynamic keys
	CreateDynamicKey(ctx context.Context, arg CreateDynamicKeyParams) (DynamicKey, error)
	GetDynamicKey(ctx context.Context, id string) (DynamicKey, error)
	ListDynamicKeys(ctx context.Context) ([]DynamicKey, error)
	ListRotationDue(ctx context.Context, now time.Time) ([]DynamicKey, error)
	UpdateDynamicKeyStatus(ctx context.Context, id string, status KeyStatus) error
	MarkDynamicKeyExpired(ctx context.Context, id string) (bool, error)
	ActivateDynamicKeyFirstUse(ctx context.Context, arg ActivateFirstUseParams) (bool, error)
	UpdateDynamicKeyCursor(ctx context.Context, id string, index int) error
	UpdateDynamicKeyRotation(ctx context.Context, arg UpdateRotationParams) error
	UpdateDynamicKeyUsage(ctx context.Context, id string, usedBytes int64) error
	DeleteDynamicKey(ctx context.Context, id string) error
}

var _ Querier = (*Queries)(nil)

// ---- servers ----

const serverColumns = `id, name, api_url, cert_sha256, hostname_for_keys, port_for_new_keys, is_active, tags, created_at, updated_at`

// CreateServerParams holds the fields for registering a server
type CreateServerParams struct {
	ID              string
	Name            string
	APIURL          string
	CertSHA256      string
	HostnameForKeys string
	PortForNewKeys  int
	IsActive        bool
	Tags            []string
}

func (q *Queries) CreateServer(ctx context.Context, arg CreateServerParams) (Server, error) {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO servers (id, name, api_url, cert_sha256, hostname_for_keys, port_for_new_keys, is_active, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.APIURL, arg.CertSHA256, arg.HostnameForKeys,
		arg.PortForNewKeys, arg.IsActive, marshalTags(arg.Tags), now, now)
	if err != nil {
		return Server{}, err
	}
	return q.GetServer(ctx, arg.ID)
}

func (q *Queries) GetServer(ctx context.Context, id string) (Server, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

func (q *Queries) ListServers(ctx context.Context) ([]Server, error) {
	return q.queryServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at`)
}

func (q *Queries) ListActiveServers(ctx context.Context) ([]Server, error) {
	return q.queryServers(ctx, `SELECT `+serverColumns+` FROM servers WHERE is_active = 1 ORDER BY created_at`)
}

func (q *Queries) queryServers(ctx context.Context, query string, args ...interface{}) ([]Server, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// UpdateServerParams holds the admin-editable server fields
type UpdateServerParams struct {
	ID              string
	Name            string
	HostnameForKeys string
	PortForNewKeys  int
	Tags            []string
}

func (q *Queries) UpdateServer(ctx context.Context, arg UpdateServerParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE servers SET name = ?, hostname_for_keys = ?, port_for_new_keys = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		arg.Name, arg.HostnameForKeys, arg.PortForNewKeys, marshalTags(arg.Tags), time.Now().UTC(), arg.ID)
	return err
}

func (q *Queries) SetServerActive(ctx context.Context, id string, active bool) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE servers SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	return err
}

func (q *Queries) DeleteServer(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	return err
}

func (q *Queries) CountKeysOnServer(ctx context.Context, serverID string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_keys WHERE server_id = ?`, serverID).Scan(&count)
	return count, err
}

// ---- access keys ----

const accessKeyColumns = `id, server_id, dynamic_key_id, remote_id, name, password, port, method, access_url,
	used_bytes, usage_offset, data_limit_bytes, expire_policy, duration_days, first_used_at, expires_at, status,
	created_at, updated_at`

// CreateAccessKeyParams holds the fields for persisting a new access key
type CreateAccessKeyParams struct {
	ID             string
	ServerID       string
	DynamicKeyID   *string
	RemoteID       string
	Name           string
	Password       string
	Port           int
	Method         string
	AccessURL      string
	DataLimitBytes *int64
	ExpirePolicy   ExpirePolicy
	DurationDays   *int
	ExpiresAt      *time.Time
	Status         KeyStatus
}

func (q *Queries) CreateAccessKey(ctx context.Context, arg CreateAccessKeyParams) (AccessKey, error) {
	now := time.Now().UTC()
	policy := arg.ExpirePolicy
	if policy == "" {
		policy = ExpireNever
	}
	status := arg.Status
	if status == "" {
		status = StatusActive
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO access_keys (id, server_id, dynamic_key_id, remote_id, name, password, port, method, access_url,
			data_limit_bytes, expire_policy, duration_days, expires_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.ServerID, ptrString(arg.DynamicKeyID), arg.RemoteID, arg.Name, arg.Password, arg.Port,
		arg.Method, arg.AccessURL, ptrInt64(arg.DataLimitBytes), policy, ptrInt(arg.DurationDays),
		ptrTime(arg.ExpiresAt), status, now, now)
	if err != nil {
		return AccessKey{}, err
	}
	return q.GetAccessKey(ctx, arg.ID)
}

func (q *Queries) GetAccessKey(ctx context.Context, id string) (AccessKey, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE id = ?`, id)
	return scanAccessKey(row)
}

func (q *Queries) ListAccessKeys(ctx context.Context) ([]AccessKey, error) {
	return q.queryAccessKeys(ctx, `SELECT `+accessKeyColumns+` FROM access_keys ORDER BY created_at`)
}

func (q *Queries) ListAccessKeysByServer(ctx context.Context, serverID string) ([]AccessKey, error) {
	return q.queryAccessKeys(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE server_id = ? ORDER BY created_at`, serverID)
}

func (q *Queries) ListAccessKeysByDynamicKey(ctx context.Context, dynamicKeyID string) ([]AccessKey, error) {
	return q.queryAccessKeys(ctx,
		`SELECT `+accessKeyColumns+` FROM access_keys WHERE dynamic_key_id = ? ORDER BY created_at`, dynamicKeyID)
}

func (q *Queries) queryAccessKeys(ctx context.Context, query string, args ...interface{}) ([]AccessKey, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []AccessKey
	for rows.Next() {
		k, err := scanAccessKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (q *Queries) UpdateAccessKeyStatus(ctx context.Context, id string, status KeyStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE access_keys SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

// MarkAccessKeyExpired transitions a key to expired. The guard makes the
// transition idempotent under concurrent resolutions.
func (q *Queries) MarkAccessKeyExpired(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE access_keys SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		StatusExpired, time.Now().UTC(), id, StatusExpired)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ActivateFirstUseParams holds the one-shot start-on-first-use transition values
type ActivateFirstUseParams struct {
	ID          string
	FirstUsedAt time.Time
	ExpiresAt   *time.Time
}

// ActivateAccessKeyFirstUse applies the start-on-first-use transition at most
// once: the WHERE clause refuses to recompute expires_at for an already
// activated key.
func (q *Queries) ActivateAccessKeyFirstUse(ctx context.Context, arg ActivateFirstUseParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE access_keys SET status = ?, first_used_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND first_used_at IS NULL`,
		StatusActive, arg.FirstUsedAt.UTC(), ptrTime(arg.ExpiresAt), time.Now().UTC(),
		arg.ID, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) UpdateAccessKeyUsage(ctx context.Context, id string, usedBytes int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE access_keys SET used_bytes = ?, updated_at = ? WHERE id = ?`,
		usedBytes, time.Now().UTC(), id)
	return err
}

// RewriteAccessKeyParams repoints a key at a new server and credential
type RewriteAccessKeyParams struct {
	ID        string
	ServerID  string
	RemoteID  string
	Password  string
	Port      int
	Method    string
	AccessURL string
}

// RewriteAccessKeyServer atomically moves the key's ownership to a new server.
// Consumed bytes on the old server are folded into usage_offset so cumulative
// usage reporting survives the move.
func (q *Queries) RewriteAccessKeyServer(ctx context.Context, arg RewriteAccessKeyParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE access_keys
		SET server_id = ?, remote_id = ?, password = ?, port = ?, method = ?, access_url = ?,
			usage_offset = usage_offset + used_bytes, used_bytes = 0, updated_at = ?
		WHERE id = ?`,
		arg.ServerID, arg.RemoteID, arg.Password, arg.Port, arg.Method, arg.AccessURL,
		time.Now().UTC(), arg.ID)
	return err
}

func (q *Queries) DeleteAccessKey(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM access_keys WHERE id = ?`, id)
	return err
}

// ServerLoads aggregates active key counts and cumulative usage per active server
func (q *Queries) ServerLoads(ctx context.Context) ([]ServerLoad, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT s.id,
			COUNT(k.id),
			COALESCE(SUM(k.used_bytes + k.usage_offset), 0)
		FROM servers s
		LEFT JOIN access_keys k ON k.server_id = s.id AND k.status = ?
		WHERE s.is_active = 1
		GROUP BY s.id`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []ServerLoad
	for rows.Next() {
		var l ServerLoad
		if err := rows.Scan(&l.ServerID, &l.ActiveKeys, &l.UsedBytes); err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// ---- dynamic keys ----

const dynamicKeyColumns = `id, name, mode, algorithm, last_selected_index, server_tags,
	rotation_enabled, rotation_interval_sec, last_rotated_at, next_rotation_at, rotation_count,
	preferred_method, used_bytes, usage_offset, data_limit_bytes, expire_policy, duration_days,
	first_used_at, expires_at, status, created_at, updated_at`

// CreateDynamicKeyParams holds the fields for creating a dynamic key
type CreateDynamicKeyParams struct {
	ID               string
	Name             string
	Mode             PoolMode
	Algorithm        Algorithm
	ServerTags       []string
	RotationEnabled  bool
	RotationInterval int64
	NextRotationAt   *time.Time
	PreferredMethod  string
	DataLimitBytes   *int64
	ExpirePolicy     ExpirePolicy
	DurationDays     *int
	ExpiresAt        *time.Time
	Status           KeyStatus
}

func (q *Queries) CreateDynamicKey(ctx context.Context, arg CreateDynamicKeyParams) (DynamicKey, error) {
	now := time.Now().UTC()
	mode := arg.Mode
	if mode == "" {
		mode = ModeManual
	}
	alg := arg.Algorithm
	if alg == "" {
		alg = AlgIPHash
	}
	policy := arg.ExpirePolicy
	if policy == "" {
		policy = ExpireNever
	}
	status := arg.Status
	if status == "" {
		status = StatusActive
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dynamic_keys (id, name, mode, algorithm, server_tags, rotation_enabled, rotation_interval_sec,
			next_rotation_at, preferred_method, data_limit_bytes, expire_policy, duration_days, expires_at, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, mode, alg, marshalTags(arg.ServerTags), arg.RotationEnabled, arg.RotationInterval,
		ptrTime(arg.NextRotationAt), arg.PreferredMethod, ptrInt64(arg.DataLimitBytes), policy,
		ptrInt(arg.DurationDays), ptrTime(arg.ExpiresAt), status, now, now)
	if err != nil {
		return DynamicKey{}, err
	}
	return q.GetDynamicKey(ctx, arg.ID)
}

func (q *Queries) GetDynamicKey(ctx context.Context, id string) (DynamicKey, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+dynamicKeyColumns+` FROM dynamic_keys WHERE id = ?`, id)
	return scanDynamicKey(row)
}

func (q *Queries) ListDynamicKeys(ctx context.Context) ([]DynamicKey, error) {
	return q.queryDynamicKeys(ctx, `SELECT `+dynamicKeyColumns+` FROM dynamic_keys ORDER BY created_at`)
}

// ListRotationDue returns dynamic keys whose scheduled rotation time has passed
func (q *Queries) ListRotationDue(ctx context.Context, now time.Time) ([]DynamicKey, error) {
	return q.queryDynamicKeys(ctx, `
		SELECT `+dynamicKeyColumns+` FROM dynamic_keys
		WHERE rotation_enabled = 1 AND status = ? AND next_rotation_at IS NOT NULL AND next_rotation_at <= ?
		ORDER BY next_rotation_at`, StatusActive, now.UTC())
}

func (q *Queries) queryDynamicKeys(ctx context.Context, query string, args ...interface{}) ([]DynamicKey, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []DynamicKey
	for rows.Next() {
		d, err := scanDynamicKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, d)
	}
	return keys, rows.Err()
}

func (q *Queries) UpdateDynamicKeyStatus(ctx context.Context, id string, status KeyStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE dynamic_keys SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	return err
}

// MarkDynamicKeyExpired mirrors MarkAccessKeyExpired for the dynamic key table
func (q *Queries) MarkDynamicKeyExpired(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE dynamic_keys SET status = ?, updated_at = ? WHERE id = ? AND status != ?`,
		StatusExpired, time.Now().UTC(), id, StatusExpired)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ActivateDynamicKeyFirstUse mirrors ActivateAccessKeyFirstUse
func (q *Queries) ActivateDynamicKeyFirstUse(ctx context.Context, arg ActivateFirstUseParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE dynamic_keys SET status = ?, first_used_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND first_used_at IS NULL`,
		StatusActive, arg.FirstUsedAt.UTC(), ptrTime(arg.ExpiresAt), time.Now().UTC(),
		arg.ID, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateDynamicKeyCursor persists the round-robin cursor so rotation order
// survives process restarts.
func (q *Queries) UpdateDynamicKeyCursor(ctx context.Context, id string, index int) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE dynamic_keys SET last_selected_index = ?, updated_at = ? WHERE id = ?`,
		index, time.Now().UTC(), id)
	return err
}

// UpdateRotationParams records the outcome of a completed rotation
type UpdateRotationParams struct {
	ID             string
	LastRotatedAt  time.Time
	NextRotationAt *time.Time
	RotationCount  int
}

func (q *Queries) UpdateDynamicKeyRotation(ctx context.Context, arg UpdateRotationParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE dynamic_keys SET last_rotated_at = ?, next_rotation_at = ?, rotation_count = ?, updated_at = ?
		WHERE id = ?`,
		arg.LastRotatedAt.UTC(), ptrTime(arg.NextRotationAt), arg.RotationCount, time.Now().UTC(), arg.ID)
	return err
}

func (q *Queries) UpdateDynamicKeyUsage(ctx context.Context, id string, usedBytes int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE dynamic_keys SET used_bytes = ?, updated_at = ? WHERE id = ?`,
		usedBytes, time.Now().UTC(), id)
	return err
}

func (q *Queries) DeleteDynamicKey(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM dynamic_keys WHERE id = ?`, id)
	return err
}

// ---- scanning helpers ----

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row scanner) (Server, error) {
	var s Server
	var tags string
	err := row.Scan(&s.ID, &s.Name, &s.APIURL, &s.CertSHA256, &s.HostnameForKeys,
		&s.PortForNewKeys, &s.IsActive, &tags, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Server{}, err
	}
	s.Tags = unmarshalTags(tags)
	return s, nil
}

func scanAccessKey(row scanner) (AccessKey, error) {
	var k AccessKey
	var dakID sql.NullString
	var limit sql.NullInt64
	var days sql.NullInt64
	var firstUsed, expires sql.NullTime
	err := row.Scan(&k.ID, &k.ServerID, &dakID, &k.RemoteID, &k.Name, &k.Password, &k.Port,
		&k.Method, &k.AccessURL, &k.UsedBytes, &k.UsageOffset, &limit, &k.ExpirePolicy,
		&days, &firstUsed, &expires, &k.Status, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return AccessKey{}, err
	}
	k.DynamicKeyID = nullString(dakID)
	k.DataLimitBytes = nullInt64(limit)
	k.DurationDays = nullInt(days)
	k.FirstUsedAt = nullTime(firstUsed)
	k.ExpiresAt = nullTime(expires)
	return k, nil
}

func scanDynamicKey(row scanner) (DynamicKey, error) {
	var d DynamicKey
	var tags string
	var limit sql.NullInt64
	var days sql.NullInt64
	var lastRotated, nextRotation, firstUsed, expires sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &d.Mode, &d.Algorithm, &d.LastSelectedIndex, &tags,
		&d.RotationEnabled, &d.RotationInterval, &lastRotated, &nextRotation, &d.RotationCount,
		&d.PreferredMethod, &d.UsedBytes, &d.UsageOffset, &limit, &d.ExpirePolicy, &days,
		&firstUsed, &expires, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return DynamicKey{}, err
	}
	d.ServerTags = unmarshalTags(tags)
	d.DataLimitBytes = nullInt64(limit)
	d.DurationDays = nullInt(days)
	d.LastRotatedAt = nullTime(lastRotated)
	d.NextRotationAt = nullTime(nextRotation)
	d.FirstUsedAt = nullTime(firstUsed)
	d.ExpiresAt = nullTime(expires)
	return d, nil
}

// nullable conversion helpers

func ptrString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptrInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptrInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptrTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
