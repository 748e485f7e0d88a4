package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/pkg/api"
)

// migrationLockID serializes all bulk key moves behind one advisory lock.
const migrationLockID = "bulk-migration"

func serverNotFound(err error) error {
	return apperrors.NewBaseError("server", apperrors.ErrCodeServerNotFound, "server not found", false, err, nil)
}

func keyNotFound(err error) error {
	return apperrors.NewBaseError("key", apperrors.ErrCodeKeyNotFound, "key not found", false, err, nil)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- servers ----

func (s *Server) createServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "createServerHandler")

		req, err := decodeJSON[api.CreateServerRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		for _, check := range []error{
			requireField("name", req.Name),
			requireField("api_url", req.APIURL),
			requireField("cert_sha256", req.CertSHA256),
		} {
			if check != nil {
				op.Fail(check, "invalid request")
				WriteErrorResponse(w, r, check)
				return
			}
		}

		server, err := s.store.CreateServer(ctx, db.CreateServerParams{
			ID:              uuid.New().String(),
			Name:            req.Name,
			APIURL:          req.APIURL,
			CertSHA256:      strings.ToLower(req.CertSHA256),
			HostnameForKeys: req.HostnameForKeys,
			PortForNewKeys:  req.PortForNewKeys,
			IsActive:        true,
			Tags:            req.Tags,
		})
		if err != nil {
			if isUniqueViolation(err) {
				conflict := apperrors.NewBaseError("server", apperrors.ErrCodeServerConflict,
					"a server with this api_url and cert_sha256 is already registered", false, err, nil)
				op.Fail(conflict, "duplicate server")
				WriteErrorResponse(w, r, conflict)
				return
			}
			internal := apperrors.NewInternal("server", "failed to register server", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if s.bus != nil {
			if err := s.bus.PublishServerCreated(server.ID, server.Name); err != nil {
				op.Progress("server created event not published", "error", err.Error())
			}
		}

		if err := WriteCreated(w, toServerInfo(server)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("server registered", "server_id", server.ID)
	}
}

func (s *Server) listServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := s.store.ListServers(r.Context())
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to list servers", err))
			return
		}

		infos := make([]api.ServerInfo, 0, len(servers))
		for _, srv := range servers {
			infos = append(infos, toServerInfo(srv))
		}
		_ = WriteSuccess(w, infos)
	}
}

func (s *Server) getServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server, err := s.store.GetServer(r.Context(), r.PathValue("serverID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				WriteErrorResponse(w, r, serverNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to load server", err))
			return
		}
		_ = WriteSuccess(w, toServerInfo(server))
	}
}

func (s *Server) updateServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "updateServerHandler")

		req, err := decodeJSON[api.UpdateServerRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}

		server, err := s.store.GetServer(ctx, r.PathValue("serverID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "server not found")
				WriteErrorResponse(w, r, serverNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to load server", err))
			return
		}

		if req.Name != nil {
			server.Name = *req.Name
		}
		if req.HostnameForKeys != nil {
			server.HostnameForKeys = *req.HostnameForKeys
		}
		if req.PortForNewKeys != nil {
			server.PortForNewKeys = *req.PortForNewKeys
		}
		if req.Tags != nil {
			server.Tags = req.Tags
		}

		err = s.store.UpdateServer(ctx, db.UpdateServerParams{
			ID:              server.ID,
			Name:            server.Name,
			HostnameForKeys: server.HostnameForKeys,
			PortForNewKeys:  server.PortForNewKeys,
			Tags:            server.Tags,
		})
		if err != nil {
			internal := apperrors.NewInternal("server", "failed to update server", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if req.IsActive != nil && *req.IsActive != server.IsActive {
			if err := s.store.SetServerActive(ctx, server.ID, *req.IsActive); err != nil {
				internal := apperrors.NewInternal("server", "failed to change server activation", err)
				op.Fail(internal, "store failure")
				WriteErrorResponse(w, r, internal)
				return
			}
			server.IsActive = *req.IsActive
		}

		if err := WriteSuccess(w, toServerInfo(server)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("server updated", "server_id", server.ID)
	}
}

func (s *Server) deleteServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "deleteServerHandler")
		serverID := r.PathValue("serverID")

		if _, err := s.store.GetServer(ctx, serverID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "server not found")
				WriteErrorResponse(w, r, serverNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to load server", err))
			return
		}

		count, err := s.store.CountKeysOnServer(ctx, serverID)
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to count server keys", err))
			return
		}
		if count > 0 {
			conflict := apperrors.NewBaseError("server", apperrors.ErrCodeServerConflict,
				"server still hosts keys, migrate them away first", false, nil, map[string]any{
					"key_count": count,
				})
			op.Fail(conflict, "server not empty")
			WriteErrorResponse(w, r, conflict)
			return
		}

		if err := s.store.DeleteServer(ctx, serverID); err != nil {
			internal := apperrors.NewInternal("server", "failed to delete server", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if err := WriteSuccess(w, map[string]string{"message": "server removed"}); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("server removed", "server_id", serverID)
	}
}

func (s *Server) serverLoadsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loads, err := s.store.ServerLoads(r.Context())
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("server", "failed to compute server loads", err))
			return
		}
		_ = WriteSuccess(w, toServerLoadInfos(loads))
	}
}

func (s *Server) provisionHostHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "provisionHostHandler")

		if s.hosts == nil {
			err := apperrors.NewUnavailable("cloud", apperrors.ErrCodeRemoteUnavailable,
				"cloud provisioning is not configured", nil)
			op.Fail(err, "provisioning unconfigured")
			WriteErrorResponse(w, r, err)
			return
		}

		req, err := decodeJSON[api.ProvisionHostRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}

		apiSecret := strings.ReplaceAll(uuid.New().String(), "-", "")
		host, err := s.hosts.ProvisionHost(ctx, req.Name, apiSecret)
		if err != nil {
			op.Fail(err, "host provisioning failed")
			WriteErrorResponse(w, r, apperrors.NewUnavailable("cloud", apperrors.ErrCodeRemoteCreate,
				"failed to provision cloud host", err))
			return
		}

		server, err := s.store.CreateServer(ctx, db.CreateServerParams{
			ID:              uuid.New().String(),
			Name:            host.Name,
			APIURL:          host.APIURL,
			CertSHA256:      host.CertSHA256,
			HostnameForKeys: host.IPAddress,
			IsActive:        true,
			Tags:            req.Tags,
		})
		if err != nil {
			internal := apperrors.NewInternal("cloud", "host created but registration failed", err).
				WithMetadata("provider_id", host.ProviderID)
			op.Fail(internal, "registration failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if s.bus != nil {
			if err := s.bus.PublishServerCreated(server.ID, server.Name); err != nil {
				op.Progress("server created event not published", "error", err.Error())
			}
		}

		response := api.ProvisionHostResponse{
			ServerID:   server.ID,
			ProviderID: host.ProviderID,
			Name:       host.Name,
			IPAddress:  host.IPAddress,
			APIURL:     host.APIURL,
		}
		if err := WriteCreated(w, response); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("cloud host onboarded", "server_id", server.ID)
	}
}

// ---- access keys ----

func (s *Server) createAccessKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "createAccessKeyHandler")

		req, err := decodeJSON[api.CreateAccessKeyRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		for _, check := range []error{
			requireField("server_id", req.ServerID),
			requireField("name", req.Name),
		} {
			if check != nil {
				op.Fail(check, "invalid request")
				WriteErrorResponse(w, r, check)
				return
			}
		}

		policy, err := parseExpirePolicy(req.ExpirePolicy)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		if err := validatePolicyInputs(policy, req.DurationDays, req.ExpiresAt); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		server, err := s.store.GetServer(ctx, req.ServerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "server not found")
				WriteErrorResponse(w, r, serverNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load server", err))
			return
		}

		remote, _, err := s.mover.Establish(ctx, server, lifecycle.EstablishRequest{
			Name:           req.Name,
			Method:         req.Method,
			DataLimitBytes: req.DataLimitBytes,
		})
		if err != nil {
			unavailable := apperrors.NewUnavailable("key", apperrors.ErrCodeRemoteCreate,
				"failed to create credential on server", err)
			op.Fail(unavailable, "remote create failed")
			WriteErrorResponse(w, r, unavailable)
			return
		}

		var expiresAt *time.Time
		switch policy {
		case db.ExpireOnDate:
			ts := time.Unix(*req.ExpiresAt, 0).UTC()
			expiresAt = &ts
		case db.ExpireDuration:
			ts := time.Now().UTC().AddDate(0, 0, *req.DurationDays)
			expiresAt = &ts
		}

		status := db.StatusActive
		if policy == db.ExpireFirstUse {
			// Expiry anchors on first use; the key stays pending until a
			// client fetches it.
			status = db.StatusPending
		}

		key, err := s.store.CreateAccessKey(ctx, db.CreateAccessKeyParams{
			ID:             uuid.New().String(),
			ServerID:       server.ID,
			RemoteID:       remote.ID,
			Name:           req.Name,
			Password:       remote.Password,
			Port:           remote.Port,
			Method:         remote.Method,
			AccessURL:      remote.AccessURL,
			DataLimitBytes: req.DataLimitBytes,
			ExpirePolicy:   policy,
			DurationDays:   req.DurationDays,
			ExpiresAt:      expiresAt,
			Status:         status,
		})
		if err != nil {
			internal := apperrors.NewInternal("key", "credential created but record persistence failed", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if err := WriteCreated(w, toAccessKeyInfo(key)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("access key created", "key_id", key.ID, "server_id", server.ID)
	}
}

func (s *Server) listAccessKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			keys []db.AccessKey
			err  error
		)
		if serverID := r.URL.Query().Get("server_id"); serverID != "" {
			keys, err = s.store.ListAccessKeysByServer(ctx, serverID)
		} else {
			keys, err = s.store.ListAccessKeys(ctx)
		}
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to list keys", err))
			return
		}

		infos := make([]api.AccessKeyInfo, 0, len(keys))
		for _, k := range keys {
			infos = append(infos, toAccessKeyInfo(k))
		}
		_ = WriteSuccess(w, infos)
	}
}

func (s *Server) getAccessKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := s.store.GetAccessKey(r.Context(), r.PathValue("keyID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				WriteErrorResponse(w, r, keyNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load key", err))
			return
		}
		_ = WriteSuccess(w, toAccessKeyInfo(key))
	}
}

func (s *Server) deleteAccessKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "deleteAccessKeyHandler")

		key, err := s.store.GetAccessKey(ctx, r.PathValue("keyID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "key not found")
				WriteErrorResponse(w, r, keyNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load key", err))
			return
		}

		if err := s.mover.Retire(ctx, key); err != nil {
			op.Fail(err, "retire failed")
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to delete key", err))
			return
		}

		if err := WriteSuccess(w, map[string]string{"message": "key deleted"}); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("access key deleted", "key_id", key.ID)
	}
}

// ---- dynamic keys ----

func (s *Server) createDynamicKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "createDynamicKeyHandler")

		req, err := decodeJSON[api.CreateDynamicKeyRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		if err := requireField("name", req.Name); err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}

		mode, err := parsePoolMode(req.Mode)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		algorithm, err := parseAlgorithm(req.Algorithm)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		policy, err := parseExpirePolicy(req.ExpirePolicy)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		if err := validatePolicyInputs(policy, req.DurationDays, req.ExpiresAt); err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		if req.RotationEnabled && req.RotationInterval <= 0 {
			err := apperrors.NewValidation("api", "rotation_interval_seconds must be positive when rotation is enabled", nil)
			WriteErrorResponse(w, r, err)
			return
		}

		var expiresAt *time.Time
		switch policy {
		case db.ExpireOnDate:
			ts := time.Unix(*req.ExpiresAt, 0).UTC()
			expiresAt = &ts
		case db.ExpireDuration:
			ts := time.Now().UTC().AddDate(0, 0, *req.DurationDays)
			expiresAt = &ts
		}

		var nextRotation *time.Time
		if req.RotationEnabled {
			next := time.Now().UTC().Add(time.Duration(req.RotationInterval) * time.Second)
			nextRotation = &next
		}

		status := db.StatusActive
		if policy == db.ExpireFirstUse {
			status = db.StatusPending
		}

		dak, err := s.store.CreateDynamicKey(ctx, db.CreateDynamicKeyParams{
			ID:               uuid.New().String(),
			Name:             req.Name,
			Mode:             mode,
			Algorithm:        algorithm,
			ServerTags:       req.ServerTags,
			RotationEnabled:  req.RotationEnabled,
			RotationInterval: req.RotationInterval,
			NextRotationAt:   nextRotation,
			PreferredMethod:  req.PreferredMethod,
			DataLimitBytes:   req.DataLimitBytes,
			ExpirePolicy:     policy,
			DurationDays:     req.DurationDays,
			ExpiresAt:        expiresAt,
			Status:           status,
		})
		if err != nil {
			internal := apperrors.NewInternal("key", "failed to create dynamic key", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if err := WriteCreated(w, toDynamicKeyInfo(dak)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("dynamic key created", "dynamic_key_id", dak.ID)
	}
}

func (s *Server) listDynamicKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		daks, err := s.store.ListDynamicKeys(r.Context())
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to list dynamic keys", err))
			return
		}

		infos := make([]api.DynamicKeyInfo, 0, len(daks))
		for _, d := range daks {
			infos = append(infos, toDynamicKeyInfo(d))
		}
		_ = WriteSuccess(w, infos)
	}
}

func (s *Server) getDynamicKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dak, err := s.store.GetDynamicKey(r.Context(), r.PathValue("keyID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				WriteErrorResponse(w, r, keyNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load dynamic key", err))
			return
		}
		_ = WriteSuccess(w, toDynamicKeyInfo(dak))
	}
}

func (s *Server) deleteDynamicKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "deleteDynamicKeyHandler")
		dakID := r.PathValue("keyID")

		dak, err := s.store.GetDynamicKey(ctx, dakID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "dynamic key not found")
				WriteErrorResponse(w, r, keyNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load dynamic key", err))
			return
		}

		// Retire pool members first so remote credentials do not leak.
		members, err := s.store.ListAccessKeysByDynamicKey(ctx, dak.ID)
		if err != nil {
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to list pool members", err))
			return
		}
		for _, member := range members {
			if err := s.mover.Retire(ctx, member); err != nil {
				op.Progress("pool member cleanup failed", "key_id", member.ID, "error", err.Error())
			}
		}

		if err := s.store.DeleteDynamicKey(ctx, dak.ID); err != nil {
			internal := apperrors.NewInternal("key", "failed to delete dynamic key", err)
			op.Fail(internal, "store failure")
			WriteErrorResponse(w, r, internal)
			return
		}

		if err := WriteSuccess(w, map[string]string{"message": "dynamic key deleted"}); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("dynamic key deleted", "dynamic_key_id", dak.ID)
	}
}

func (s *Server) rotateDynamicKeyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "rotateDynamicKeyHandler")

		dak, err := s.store.GetDynamicKey(ctx, r.PathValue("keyID"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				op.Fail(err, "dynamic key not found")
				WriteErrorResponse(w, r, keyNotFound(err))
				return
			}
			WriteErrorResponse(w, r, apperrors.NewInternal("key", "failed to load dynamic key", err))
			return
		}

		results, err := s.rotator.Rotate(ctx, dak)
		if err != nil {
			op.Fail(err, "rotation failed")
			WriteErrorResponse(w, r, err)
			return
		}

		report := api.RotationReport{
			DynamicKeyID: dak.ID,
			Items:        toMigrationItems(results),
		}
		for _, item := range results {
			if item.Success {
				report.Rotated++
			} else {
				report.Failed++
			}
		}

		if err := WriteSuccess(w, report); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("rotation finished", "dynamic_key_id", dak.ID,
			"rotated", report.Rotated, "failed", report.Failed)
	}
}

// ---- migrations ----

func (s *Server) migrateServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "migrateServerHandler")

		req, err := decodeJSON[api.MigrateServerRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		for _, check := range []error{
			requireField("from_server_id", req.FromServerID),
			requireField("to_server_id", req.ToServerID),
		} {
			if check != nil {
				op.Fail(check, "invalid request")
				WriteErrorResponse(w, r, check)
				return
			}
		}

		report, err := s.migrator.MigrateServerKeys(ctx, migrationLockID, req.FromServerID, req.ToServerID)
		if err != nil {
			op.Fail(err, "migration refused")
			WriteErrorResponse(w, r, err)
			return
		}

		if err := WriteSuccess(w, toMigrationReport(migrationLockID, report)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("server migration finished",
			"migrated", report.Migrated, "failed", report.Failed)
	}
}

func (s *Server) migrateKeysHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		op := GetLogger(ctx).StartOp(ctx, "migrateKeysHandler")

		req, err := decodeJSON[api.MigrateKeysRequest](r)
		if err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		if len(req.KeyIDs) == 0 {
			err := apperrors.NewValidation("api", "key_ids must not be empty", nil)
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}
		if err := requireField("to_server_id", req.ToServerID); err != nil {
			op.Fail(err, "invalid request")
			WriteErrorResponse(w, r, err)
			return
		}

		report, err := s.migrator.MigrateKeys(ctx, migrationLockID, req.KeyIDs, req.ToServerID)
		if err != nil {
			op.Fail(err, "migration refused")
			WriteErrorResponse(w, r, err)
			return
		}

		if err := WriteSuccess(w, toMigrationReport(migrationLockID, report)); err != nil {
			op.Fail(err, "failed to write response")
			return
		}
		op.Complete("key migration finished",
			"migrated", report.Migrated, "failed", report.Failed)
	}
}
