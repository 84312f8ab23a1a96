package apierr

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// CACHE_ - Cache entry errors
	ErrCacheNotFound ErrorCode = "CACHE_NOT_FOUND"
	ErrCacheLocked   ErrorCode = "CACHE_LOCKED"

	// BACKEND_ - Storage backend errors
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// SYSTEM_ - System and server errors
	ErrSystemInternal ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemTimeout  ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON  ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"
	ErrValidationTooLarge     ErrorCode = "VALIDATION_BODY_TOO_LARGE"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	status    int            // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// CacheNotFound reports an absent key.
func CacheNotFound(key string) *Error {
	return New(ErrCacheNotFound, "Key not found", http.StatusNotFound).
		WithDetails(map[string]any{"key": key})
}

// CacheLocked reports that another writer holds the key's lock.
func CacheLocked(key string) *Error {
	return New(ErrCacheLocked, "Key is being written by another client, retry later", http.StatusConflict).
		WithDetails(map[string]any{"key": key})
}

// BackendUnavailable reports that the storage backend could not be reached.
func BackendUnavailable() *Error {
	return New(ErrBackendUnavailable, "Cache backend unavailable", http.StatusServiceUnavailable)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusGatewayTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]any{"field": field})
}

// ValidationTooLarge reports a request body over the configured limit.
func ValidationTooLarge(limit int64) *Error {
	return New(ErrValidationTooLarge, "Request body too large", http.StatusRequestEntityTooLarge).
		WithDetails(map[string]any{"limit_bytes": limit})
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// FromError maps an error from the cache layer onto an API error.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case backend.IsUnavailable(err):
		return BackendUnavailable()
	case errors.Is(err, context.DeadlineExceeded):
		return SystemTimeout("")
	default:
		return SystemInternal("")
	}
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
