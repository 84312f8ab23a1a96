package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

var (
	gzipPool = sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }}
	// Level 4 keeps brotli close to gzip speed on JSON bodies.
	brotliPool = sync.Pool{New: func() any { return brotli.NewWriterLevel(io.Discard, 4) }}
)

type resettableWriter interface {
	io.WriteCloser
	Reset(io.Writer)
}

// compressWriter defers choosing an encoder until the first body write, so
// empty responses (204, 304, HEAD) go out untouched.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	enc         resettableWriter
	status      int
	wroteHeader bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.enc == nil {
		w.start()
	}
	if w.enc == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.enc.Write(b)
}

func (w *compressWriter) start() {
	h := w.ResponseWriter.Header()
	if w.status == http.StatusNoContent || w.status == http.StatusNotModified || h.Get("Content-Encoding") != "" {
		w.ResponseWriter.WriteHeader(w.status)
		return
	}

	switch w.encoding {
	case encodingBrotli:
		w.enc = brotliPool.Get().(*brotli.Writer)
	default:
		w.enc = gzipPool.Get().(*gzip.Writer)
	}
	w.enc.Reset(w.ResponseWriter)
	h.Set("Content-Encoding", w.encoding)
	h.Del("Content-Length")
	w.ResponseWriter.WriteHeader(w.status)
}

// finish flushes the encoder, or the buffered status when nothing was written.
func (w *compressWriter) finish() {
	if w.enc == nil {
		if w.wroteHeader {
			w.ResponseWriter.WriteHeader(w.status)
		}
		return
	}
	w.enc.Close()
	switch enc := w.enc.(type) {
	case *brotli.Writer:
		brotliPool.Put(enc)
	case *gzip.Writer:
		gzipPool.Put(enc)
	}
	w.enc = nil
}

func (w *compressWriter) Flush() {
	if f, ok := w.enc.(interface{ Flush() error }); ok {
		f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// negotiateEncoding picks brotli over gzip when the client accepts both.
func negotiateEncoding(acceptEncoding string) string {
	var gz bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		switch strings.TrimSpace(name) {
		case encodingBrotli:
			return encodingBrotli
		case encodingGzip:
			gz = true
		}
	}
	if gz {
		return encodingGzip
	}
	return ""
}

// Compress returns a middleware that compresses responses with brotli or
// gzip based on Accept-Encoding. Websocket upgrades pass through untouched.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding, status: http.StatusOK}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}
