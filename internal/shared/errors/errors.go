package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrTokenNotFound     = errors.New("subscription token not found")
	ErrNoEligibleServer  = errors.New("no eligible server available")
	ErrNoEligibleKey     = errors.New("no eligible credential available")
	ErrServerInactive    = errors.New("server is inactive")
	ErrRemoteUnavailable = errors.New("remote server API unavailable")
	ErrLockHeld          = errors.New("operation lock already held")
	ErrDatabaseError     = errors.New("database error")
)

// ProvisionError represents an error while creating a credential on a server
type ProvisionError struct {
	Stage    string // e.g., "remote_create", "copy_limit", "record_rewrite"
	ServerID string
	Message  string
	Err      error
}

func (e *ProvisionError) Error() string {
	if e.ServerID != "" {
		return fmt.Sprintf("provision failed at %s (server=%s): %s: %v", e.Stage, e.ServerID, e.Message, e.Err)
	}
	return fmt.Sprintf("provision failed at %s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// NewProvisionError creates a new provision error
func NewProvisionError(stage, serverID, message string, err error) *ProvisionError {
	return &ProvisionError{
		Stage:    stage,
		ServerID: serverID,
		Message:  message,
		Err:      err,
	}
}

// MoveError represents an error while moving a credential between servers
type MoveError struct {
	KeyID        string
	FromServerID string
	ToServerID   string
	Message      string
	Err          error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("key move failed (key=%s, from=%s, to=%s): %s: %v",
		e.KeyID, e.FromServerID, e.ToServerID, e.Message, e.Err)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

// NewMoveError creates a new move error
func NewMoveError(keyID, fromServerID, toServerID, message string, err error) *MoveError {
	return &MoveError{
		KeyID:        keyID,
		FromServerID: fromServerID,
		ToServerID:   toServerID,
		Message:      message,
		Err:          err,
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error [%s]: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("config error: %s: %v", e.Message, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new config error
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
