package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/freon/internal/backend"
)

func TestNew(t *testing.T) {
	err := New(ErrSystemTimeout, "timeout occurred", http.StatusGatewayTimeout)
	if err.Code != ErrSystemTimeout {
		t.Errorf("expected code %s, got %s", ErrSystemTimeout, err.Code)
	}
	if err.Message != "timeout occurred" {
		t.Errorf("expected message 'timeout occurred', got '%s'", err.Message)
	}
	if err.Status() != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, err.Status())
	}
}

func TestErrorInterface(t *testing.T) {
	err := New(ErrCacheLocked, "busy", http.StatusConflict)
	expected := "CACHE_LOCKED: busy"
	if err.Error() != expected {
		t.Errorf("expected error string %s, got %s", expected, err.Error())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	err := CacheNotFound("user:1").WithRequestID("req-123")

	WriteError(w, err)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error in response")
	}
	if resp.Error.Code != ErrCacheNotFound {
		t.Errorf("expected code %s, got %s", ErrCacheNotFound, resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID 'req-123', got '%s'", resp.Error.RequestID)
	}
	if resp.Error.Details["key"] != "user:1" {
		t.Errorf("expected key detail 'user:1', got %v", resp.Error.Details["key"])
	}
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		name       string
		createErr  func() *Error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"CacheNotFound", func() *Error { return CacheNotFound("k") }, ErrCacheNotFound, http.StatusNotFound},
		{"CacheLocked", func() *Error { return CacheLocked("k") }, ErrCacheLocked, http.StatusConflict},
		{"BackendUnavailable", BackendUnavailable, ErrBackendUnavailable, http.StatusServiceUnavailable},
		{"SystemInternal", func() *Error { return SystemInternal("") }, ErrSystemInternal, http.StatusInternalServerError},
		{"SystemTimeout", func() *Error { return SystemTimeout("") }, ErrSystemTimeout, http.StatusGatewayTimeout},
		{"ValidationInvalidJSON", ValidationInvalidJSON, ErrValidationInvalidJSON, http.StatusBadRequest},
		{"ValidationInvalidValue", func() *Error { return ValidationInvalidValue("ttl", "") }, ErrValidationInvalidValue, http.StatusBadRequest},
		{"ValidationTooLarge", func() *Error { return ValidationTooLarge(1024) }, ErrValidationTooLarge, http.StatusRequestEntityTooLarge},
		{"RateLimitGlobal", RateLimitGlobal, ErrRateLimitGlobal, http.StatusTooManyRequests},
		{"RateLimitIP", RateLimitIP, ErrRateLimitIP, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createErr()
			if err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code)
			}
			if err.Status() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, err.Status())
			}
			if err.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{"unavailable", fmt.Errorf("get %q: %w", "k", backend.ErrUnavailable), ErrBackendUnavailable},
		{"deadline", fmt.Errorf("set: %w", context.DeadlineExceeded), ErrSystemTimeout},
		{"api error passes through", fmt.Errorf("wrap: %w", CacheLocked("k")), ErrCacheLocked},
		{"anything else", errors.New("encode: unsupported type"), ErrSystemInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromError(tt.err).Code; got != tt.wantCode {
				t.Errorf("FromError() code = %s, want %s", got, tt.wantCode)
			}
		})
	}
}
