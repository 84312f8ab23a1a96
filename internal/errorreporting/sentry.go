package errorreporting

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Options configures Sentry. An empty DSN disables reporting.
type Options struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

var enabled atomic.Bool

// secretPatterns match credentials that show up in backend errors.
var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// userinfo in connection URLs: redis://:pw@host, postgres://user:pw@host
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]*:[^/@\s]*@`), "${1}[REDACTED]@"},
	// key=value DSNs
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)=\S+`), "${1}=[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["\s:=]+[a-zA-Z0-9_-]{16,}`), "[REDACTED]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[REDACTED]"},
}

// Init initializes Sentry error reporting
func Init(opts Options) error {
	if opts.DSN == "" {
		enabled.Store(false)
		return nil
	}
	if err := ValidateDSN(opts.DSN); err != nil {
		return err
	}
	if opts.Release == "" {
		opts.Release = "dev"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		SampleRate:       opts.SampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	enabled.Store(true)
	return nil
}

// beforeSend scrubs credentials and request secrets from every event.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for i := range event.Exception {
		event.Exception[i].Value = ScrubSecrets(event.Exception[i].Value)
	}
	if event.Message != "" {
		event.Message = ScrubSecrets(event.Message)
	}
	for key, value := range event.Extra {
		if str, ok := value.(string); ok {
			event.Extra[key] = ScrubSecrets(str)
		}
	}

	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "X-Api-Key")
		}
		event.Request.QueryString = ""
		event.Request.Data = ""
	}

	return event
}

// ScrubSecrets redacts connection credentials and tokens from text.
func ScrubSecrets(text string) string {
	for _, p := range secretPatterns {
		text = p.re.ReplaceAllString(text, p.repl)
	}
	return text
}

// CaptureErrorWithContext captures an error with additional context
func CaptureErrorWithContext(err error, tags map[string]string, extras map[string]any) {
	if err == nil || !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for all events to be sent to Sentry
func Flush(timeout time.Duration) bool {
	if !enabled.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// IsSentryEnabled reports whether Init configured a client.
func IsSentryEnabled() bool {
	return enabled.Load()
}

// ValidateDSN checks if the provided DSN is valid
func ValidateDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "https://") && !strings.HasPrefix(dsn, "http://") {
		return fmt.Errorf("invalid Sentry DSN format")
	}
	return nil
}
