package handlers

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/onnwee/freon/internal/apierr"
	"github.com/onnwee/freon/internal/backend"
	"github.com/onnwee/freon/internal/errorreporting"
	"github.com/onnwee/freon/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCacheError maps a facade error onto the API envelope. Unreachable
// backends are reported to Sentry; everything else is logged.
func writeCacheError(w http.ResponseWriter, r *http.Request, op, key string, err error) {
	apiErr := apierr.FromError(err)
	switch {
	case backend.IsUnavailable(err):
		logger.WarnContext(r.Context(), "Backend unavailable", "operation", op, "key", key, "error", err)
		errorreporting.CaptureErrorWithContext(err,
			map[string]string{"operation": op, "request_id": apierr.GetRequestID(r.Context())},
			map[string]any{"key": key})
	case apiErr.Code == apierr.ErrSystemInternal:
		logger.ErrorContext(r.Context(), "Cache operation failed", "operation", op, "key", key, "error", err)
	}
	apierr.WriteErrorWithContext(w, r, apiErr)
}

// readValue decodes a JSON request body into an arbitrary value.
func readValue(r *http.Request) (any, *apierr.Error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apierr.ValidationTooLarge(maxErr.Limit)
		}
		return nil, apierr.ValidationInvalidJSON()
	}
	var v any
	if len(body) == 0 || json.Unmarshal(body, &v) != nil {
		return nil, apierr.ValidationInvalidJSON()
	}
	return v, nil
}

// maxSeconds is the largest magnitude that still fits a time.Duration.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// parseSeconds reads a query parameter given in (possibly fractional)
// seconds. Missing parameters yield def.
func parseSeconds(r *http.Request, name string, def time.Duration) (time.Duration, *apierr.Error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, apierr.ValidationInvalidValue(name, name+" must be a number of seconds")
	}
	if math.Abs(secs) > maxSeconds {
		return 0, apierr.ValidationInvalidValue(name, fmt.Sprintf("%s must not exceed %.0f seconds in magnitude", name, maxSeconds))
	}
	return time.Duration(secs * float64(time.Second)), nil
}
