package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/onnwee/freon/internal/apierr"
	"github.com/onnwee/freon/internal/errorreporting"
	"github.com/onnwee/freon/internal/logger"
)

// RecoverWithSentry recovers from panics, reports them to Sentry and
// answers with a SYSTEM_INTERNAL error.
func RecoverWithSentry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// net/http uses this sentinel to abort a response silently.
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}

			logger.ErrorContext(r.Context(), "Panic recovered",
				"error", errorreporting.ScrubSecrets(err.Error()),
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
			)

			if errorreporting.IsSentryEnabled() {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetLevel(sentry.LevelFatal)
				hub.Scope().SetTag("method", r.Method)
				hub.Scope().SetTag("path", r.URL.Path)
				hub.Scope().SetTag("request_id", apierr.GetRequestID(r.Context()))
				hub.CaptureException(err)
			}

			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		}()

		next.ServeHTTP(w, r)
	})
}
