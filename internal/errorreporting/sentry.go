package errorreporting

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"
)

// Patterns scrubbed from error messages before they leave the process.
var piiPatterns = []*regexp.Regexp{
	// Postgres connection strings with credentials
	regexp.MustCompile(`postgres(?:ql)?://[^\s]+`),
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)["\s:=]+[a-zA-Z0-9_-]{8,}`),
	// IP addresses
	regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// Init initializes Sentry error reporting. Without a DSN it is a no-op.
func Init(environment string) error {
	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return nil
	}

	sampleRate := 1.0
	if os.Getenv("ENV") == "production" {
		sampleRate = 0.1
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          getRelease(),
		TracesSampleRate: sampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	return nil
}

func getRelease() string {
	if release := os.Getenv("SENTRY_RELEASE"); release != "" {
		return release
	}
	if version := os.Getenv("SERVICE_VERSION"); version != "" {
		return version
	}
	return "dev"
}

// beforeSend scrubs sensitive data from events before they are sent.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Exception != nil {
		for i := range event.Exception {
			event.Exception[i].Value = scrubPII(event.Exception[i].Value)
		}
	}
	if event.Message != "" {
		event.Message = scrubPII(event.Message)
	}
	if event.Extra != nil {
		for key, value := range event.Extra {
			if str, ok := value.(string); ok {
				event.Extra[key] = scrubPII(str)
			}
		}
	}
	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
		}
		event.Request.QueryString = ""
	}
	return event
}

func scrubPII(text string) string {
	result := text
	for _, pattern := range piiPatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// CaptureError captures an error and sends it to Sentry.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureErrorWithContext captures an error with additional tags and extras.
func CaptureErrorWithContext(err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil {
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

// Flush waits for all pending events to be sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// ScrubPII exposes the scrubbing function for log sanitizing.
func ScrubPII(text string) string {
	return scrubPII(text)
}

// IsSentryEnabled returns true if Sentry is configured.
func IsSentryEnabled() bool {
	return os.Getenv("SENTRY_DSN") != ""
}
