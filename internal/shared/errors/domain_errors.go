package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the application
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "resolver", "lifecycle", "server")
	Domain() string

	// Code returns a stable error code for API responses
	Code() string

	// Retryable indicates if the operation can be retried
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error carrying the additional metadata
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Resolver Domain Errors
	ErrCodeTokenNotFound    = "token_not_found"
	ErrCodeSubscriptionGone = "subscription_gone"
	ErrCodeNoEligibleKey    = "no_eligible_key"
	ErrCodeNoEligibleServer = "no_eligible_server"

	// Lifecycle / Provisioning Errors
	ErrCodeRemoteCreate      = "remote_create_failed"
	ErrCodeRemoteUnavailable = "remote_unavailable"
	ErrCodeMoveFailed        = "key_move_failed"

	// Server Domain Errors
	ErrCodeServerNotFound = "server_not_found"
	ErrCodeServerInactive = "server_inactive"
	ErrCodeServerConflict = "server_conflict"

	// Key Domain Errors
	ErrCodeKeyNotFound = "key_not_found"
	ErrCodeKeyConflict = "key_conflict"

	// Infrastructure Errors
	ErrCodeValidation = "validation_failed"
	ErrCodeDatabase   = "database_error"
	ErrCodeLockHeld   = "operation_locked"
	ErrCodeInternal   = "internal_error"
)

// NewNotFound signals an unknown subscription token or entity id.
// Permanent from the client's perspective.
func NewNotFound(domain, message string, cause error) DomainError {
	return NewBaseError(domain, ErrCodeTokenNotFound, message, false, cause, nil)
}

// NewGone signals an entity whose lifecycle is terminated (expired, depleted,
// disabled). Permanent until an admin resets the entity.
func NewGone(domain, reason string) DomainError {
	return NewBaseError(domain, ErrCodeSubscriptionGone, reason, false, nil, map[string]any{
		"reason": reason,
	})
}

// NewUnavailable signals a transient condition: no eligible candidate, remote
// provisioning failure, or remote timeout. Clients should retry later.
func NewUnavailable(domain, code, message string, cause error) DomainError {
	return NewBaseError(domain, code, message, true, cause, nil)
}

// NewValidation signals malformed caller input
func NewValidation(domain, message string, cause error) DomainError {
	return NewBaseError(domain, ErrCodeValidation, message, false, cause, nil)
}

// NewInternal signals an unexpected store or parse failure
func NewInternal(domain, message string, cause error) DomainError {
	return NewBaseError(domain, ErrCodeInternal, message, false, cause, nil)
}

// NewLockHeld signals a refused bulk operation because another one is running
func NewLockHeld(domain, operationID string) DomainError {
	return NewBaseError(domain, ErrCodeLockHeld, "another bulk operation is in progress", true, nil, map[string]any{
		"operation_id": operationID,
	})
}

// IsGone reports whether err carries the subscription_gone code
func IsGone(err error) bool {
	return hasCode(err, ErrCodeSubscriptionGone)
}

// IsNotFound reports whether err carries a not-found code
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeTokenNotFound) || hasCode(err, ErrCodeServerNotFound) || hasCode(err, ErrCodeKeyNotFound)
}

// IsUnavailable reports whether err represents a retryable availability failure
func IsUnavailable(err error) bool {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code() {
		case ErrCodeNoEligibleKey, ErrCodeNoEligibleServer, ErrCodeRemoteCreate, ErrCodeRemoteUnavailable:
			return true
		}
	}
	return false
}

func hasCode(err error, code string) bool {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code() == code
	}
	return false
}
