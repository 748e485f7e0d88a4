package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// decodeJSON parses and validates a JSON request body.
func decodeJSON[T any](r *http.Request) (T, error) {
	var out T

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, apperrors.NewValidation("api", "invalid request body", err)
	}
	return out, nil
}

func requireField(name, value string) error {
	if value == "" {
		return apperrors.NewValidation("api", fmt.Sprintf("%s is required", name), nil)
	}
	return nil
}

// parseExpirePolicy validates the policy string; empty defaults to never.
func parseExpirePolicy(s string) (db.ExpirePolicy, error) {
	switch db.ExpirePolicy(s) {
	case "":
		return db.ExpireNever, nil
	case db.ExpireNever, db.ExpireOnDate, db.ExpireDuration, db.ExpireFirstUse:
		return db.ExpirePolicy(s), nil
	default:
		return "", apperrors.NewValidation("api", fmt.Sprintf("unknown expire_policy %q", s), nil)
	}
}

// parsePoolMode validates the mode string; empty defaults to self-managed.
func parsePoolMode(s string) (db.PoolMode, error) {
	switch db.PoolMode(s) {
	case "":
		return db.ModeSelfManaged, nil
	case db.ModeSelfManaged, db.ModeManual:
		return db.PoolMode(s), nil
	default:
		return "", apperrors.NewValidation("api", fmt.Sprintf("unknown mode %q", s), nil)
	}
}

// parseAlgorithm validates the algorithm string; empty defaults to ip_hash.
func parseAlgorithm(s string) (db.Algorithm, error) {
	switch db.Algorithm(s) {
	case "":
		return db.AlgIPHash, nil
	case db.AlgIPHash, db.AlgRandom, db.AlgRoundRobin, db.AlgLeastLoad:
		return db.Algorithm(s), nil
	default:
		return "", apperrors.NewValidation("api", fmt.Sprintf("unknown algorithm %q", s), nil)
	}
}

// validatePolicyInputs checks that policy-dependent fields are present.
func validatePolicyInputs(policy db.ExpirePolicy, durationDays *int, expiresAt *int64) error {
	switch policy {
	case db.ExpireOnDate:
		if expiresAt == nil {
			return apperrors.NewValidation("api", "expires_at is required for the date policy", nil)
		}
	case db.ExpireDuration:
		if durationDays == nil || *durationDays <= 0 {
			return apperrors.NewValidation("api", "duration_days is required for the duration policy", nil)
		}
	}
	return nil
}
