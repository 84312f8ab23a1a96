package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/logger"
)

const healthProbeKey = "freon:health"

// Health reports liveness plus backend reachability. It answers 503 when
// the backend cannot be reached.
func Health(b backend.Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := b.Exists(ctx, healthProbeKey); err != nil {
			logger.WarnContext(r.Context(), "Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "backend": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": "ok"})
	}
}
