package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/chiquitav2/subfleet/internal/shared/errors"
	"github.com/chiquitav2/subfleet/pkg/api"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusOK, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteCreated writes a successful JSON response with 201 status.
func WriteCreated[T any](w http.ResponseWriter, data T) error {
	return WriteJSON(w, http.StatusCreated, api.Response[T]{
		Success: true,
		Data:    data,
	})
}

// WriteErrorResponse is the centralized error handler for the API. It logs
// the error and translates DomainErrors into the correct HTTP responses.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := GetLogger(ctx)
	requestID := GetRequestID(ctx)

	logger.ErrorCtx(ctx, "API request failed", err)

	statusCode := http.StatusInternalServerError
	errorCode := apperrors.ErrCodeInternal
	message := "An internal server error occurred"
	metadata := make(map[string]any)

	if domainErr, ok := err.(apperrors.DomainError); ok {
		errorCode = domainErr.Code()
		metadata = domainErr.Metadata()
		statusCode, message = mapErrorCodeToHTTP(domainErr)

		// Transient refusals carry a retry hint.
		if domainErr.Retryable() && statusCode == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "30")
		}
	}

	_ = WriteJSON(w, statusCode, api.Response[any]{
		Success: false,
		Error: &api.ErrorInfo{
			Code:      errorCode,
			Message:   message,
			RequestID: requestID,
			Metadata:  metadata,
		},
	})
}

// mapErrorCodeToHTTP maps domain error codes to HTTP status codes and
// user-facing messages.
func mapErrorCodeToHTTP(err apperrors.DomainError) (int, string) {
	code := err.Code()
	errMsg := err.Error()

	switch code {
	// 400 Bad Request
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, "Validation failed: " + errMsg

	// 404 Not Found - unknown token or entity
	case apperrors.ErrCodeTokenNotFound, apperrors.ErrCodeServerNotFound,
		apperrors.ErrCodeKeyNotFound:
		return http.StatusNotFound, "Resource not found"

	// 409 Conflict
	case apperrors.ErrCodeServerConflict, apperrors.ErrCodeKeyConflict,
		apperrors.ErrCodeLockHeld:
		return http.StatusConflict, "Resource conflict: " + errMsg

	// 410 Gone - subscriptions terminated by lifecycle
	case apperrors.ErrCodeSubscriptionGone:
		return http.StatusGone, "Subscription is no longer available"

	// 503 Service Unavailable - transient fleet conditions
	case apperrors.ErrCodeNoEligibleKey, apperrors.ErrCodeNoEligibleServer,
		apperrors.ErrCodeRemoteCreate, apperrors.ErrCodeRemoteUnavailable,
		apperrors.ErrCodeServerInactive:
		return http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again later."

	default:
		return http.StatusInternalServerError, "An internal server error occurred"
	}
}
