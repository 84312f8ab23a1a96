package middleware

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// MaxKeyLength is the longest cache key the HTTP API accepts.
const MaxKeyLength = 512

// LimitBody caps the body of write requests at max bytes. Handlers see a
// *http.MaxBytesError from Read once the limit is crossed.
func LimitBody(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateKey checks a cache key taken from a URL path.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("key cannot be empty")
	case len(key) > MaxKeyLength:
		return errors.Errorf("key too long (max %d bytes)", MaxKeyLength)
	case !utf8.ValidString(key):
		return errors.New("key is not valid UTF-8")
	case strings.ContainsAny(key, "\x00\r\n"):
		return errors.New("key contains control characters")
	}
	return nil
}
