package api

import (
	"github.com/chiquitav2/subfleet/internal/fleet/balancer"
	"github.com/chiquitav2/subfleet/internal/fleet/db"
	"github.com/chiquitav2/subfleet/internal/fleet/lifecycle"
	"github.com/chiquitav2/subfleet/internal/fleet/migration"
	"github.com/chiquitav2/subfleet/pkg/api"
)

func toServerInfo(s db.Server) api.ServerInfo {
	return api.ServerInfo{
		ID:              s.ID,
		Name:            s.Name,
		APIURL:          s.APIURL,
		CertSHA256:      s.CertSHA256,
		HostnameForKeys: s.HostnameForKeys,
		PortForNewKeys:  s.PortForNewKeys,
		IsActive:        s.IsActive,
		Tags:            s.Tags,
		CreatedAt:       s.CreatedAt,
	}
}

func toAccessKeyInfo(k db.AccessKey) api.AccessKeyInfo {
	return api.AccessKeyInfo{
		ID:             k.ID,
		ServerID:       k.ServerID,
		DynamicKeyID:   k.DynamicKeyID,
		Name:           k.Name,
		Status:         string(k.Status),
		AccessURL:      k.AccessURL,
		UsedBytes:      k.EffectiveUsage(),
		DataLimitBytes: k.DataLimitBytes,
		ExpirePolicy:   string(k.ExpirePolicy),
		FirstUsedAt:    k.FirstUsedAt,
		ExpiresAt:      k.ExpiresAt,
		CreatedAt:      k.CreatedAt,
	}
}

func toDynamicKeyInfo(d db.DynamicKey) api.DynamicKeyInfo {
	return api.DynamicKeyInfo{
		ID:               d.ID,
		Name:             d.Name,
		Mode:             string(d.Mode),
		Algorithm:        string(d.Algorithm),
		Status:           string(d.Status),
		ServerTags:       d.ServerTags,
		UsedBytes:        d.EffectiveUsage(),
		DataLimitBytes:   d.DataLimitBytes,
		ExpirePolicy:     string(d.ExpirePolicy),
		FirstUsedAt:      d.FirstUsedAt,
		ExpiresAt:        d.ExpiresAt,
		RotationEnabled:  d.RotationEnabled,
		RotationInterval: d.RotationInterval,
		LastRotatedAt:    d.LastRotatedAt,
		RotationCount:    int64(d.RotationCount),
		CreatedAt:        d.CreatedAt,
	}
}

func toMigrationItems(items []lifecycle.ItemResult) []api.MigrationItem {
	out := make([]api.MigrationItem, 0, len(items))
	for _, item := range items {
		out = append(out, api.MigrationItem{
			ID:      item.ID,
			Name:    item.Name,
			Success: item.Success,
			Error:   item.Error,
		})
	}
	return out
}

func toMigrationReport(operationID string, r *migration.Report) api.MigrationReport {
	return api.MigrationReport{
		OperationID: operationID,
		Total:       r.Total,
		Migrated:    r.Migrated,
		Failed:      r.Failed,
		Items:       toMigrationItems(r.Items),
	}
}

func toServerLoadInfos(loads []db.ServerLoad) []api.ServerLoadInfo {
	scores := make(map[string]float64, len(loads))
	for _, s := range balancer.ScoreServers(loads) {
		scores[s.ServerID] = s.Score
	}

	out := make([]api.ServerLoadInfo, 0, len(loads))
	for _, l := range loads {
		out = append(out, api.ServerLoadInfo{
			ServerID:   l.ServerID,
			ActiveKeys: int64(l.ActiveKeys),
			UsedBytes:  l.UsedBytes,
			Score:      scores[l.ServerID],
		})
	}
	return out
}
