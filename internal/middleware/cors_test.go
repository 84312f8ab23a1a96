package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_Origins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"exact", []string{"http://localhost:3000", "https://example.com"}, "http://localhost:3000", "http://localhost:3000"},
		{"disallowed", []string{"http://localhost:3000"}, "http://evil.com", ""},
		{"wildcard", []string{"*"}, "http://any-domain.com", "http://any-domain.com"},
		{"subdomain", []string{"*.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"subdomain lookalike", []string{"*.example.com"}, "http://notexample.com", ""},
		{"subdomain suffix attack", []string{"*.example.com"}, "http://example.com.evil.com", ""},
		{"none configured", nil, "http://localhost:3000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(DefaultCORSConfig(tt.allowed...))(okHandler())
			req := httptest.NewRequest("GET", "/api/cache/k", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
			if tt.want != "" && rr.Header().Get("Access-Control-Expose-Headers") == "" {
				t.Error("expected exposed headers for allowed origin")
			}
		})
	}
}

func TestCORS_PreflightRequest(t *testing.T) {
	config := &CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		MaxAge:         600,
	}
	called := false
	handler := CORS(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("OPTIONS", "/api/cache/k", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Error("preflight reached the wrapped handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 for preflight, got %d", rr.Code)
	}

	want := map[string]string{
		"Access-Control-Allow-Methods": "GET, PUT, DELETE",
		"Access-Control-Allow-Headers": "Content-Type, X-Request-ID",
		"Access-Control-Max-Age":       "600",
	}
	for h, v := range want {
		if got := rr.Header().Get(h); got != v {
			t.Errorf("%s = %q, want %q", h, got, v)
		}
	}
}

func TestCORS_Credentials(t *testing.T) {
	config := DefaultCORSConfig("http://localhost:3000")
	config.AllowCredentials = true

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	CORS(config)(okHandler()).ServeHTTP(rr, req)

	if creds := rr.Header().Get("Access-Control-Allow-Credentials"); creds != "true" {
		t.Errorf("Expected Access-Control-Allow-Credentials: true, got %s", creds)
	}
}

func TestCORS_NoOriginPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	CORS(nil)(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("Vary") != "" {
		t.Errorf("Vary set without Origin: %q", rr.Header().Get("Vary"))
	}
}
