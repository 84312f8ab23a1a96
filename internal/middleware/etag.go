package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
)

// etagResponseWriter buffers the body so the ETag can be computed before
// anything reaches the client.
type etagResponseWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *etagResponseWriter) WriteHeader(status int) {
	w.status = status
}

func (w *etagResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// ETag adds a content hash ETag to successful GET responses and answers
// 304 when If-None-Match matches. Cache entries change under clients at any
// time, so responses are marked no-cache and must always be revalidated.
func ETag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		etw := &etagResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(etw, r)

		if etw.status != http.StatusOK {
			w.WriteHeader(etw.status)
			w.Write(etw.buf.Bytes())
			return
		}

		hash := sha256.Sum256(etw.buf.Bytes())
		etag := fmt.Sprintf(`"%x"`, hash[:16])
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")

		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(etw.buf.Bytes())
	})
}

// etagMatches handles lists and the weak prefix in If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
