package logging

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled atomic.Bool

// SentryOptions selects whether and where crash reports are sent.
type SentryOptions struct {
	Version string
	Enabled bool
	DSN     string
}

// InitSentry initializes opt-in crash reporting. CLASSIC_AGENT_SENTRY=1/0 overrides
// opts.Enabled and CLASSIC_AGENT_SENTRY_DSN overrides opts.DSN. Reporting stays off
// without a DSN. Returns true if Sentry was initialized.
func InitSentry(opts SentryOptions) bool {
	enabled := opts.Enabled
	switch os.Getenv("CLASSIC_AGENT_SENTRY") {
	case "1":
		enabled = true
	case "0":
		enabled = false
	}
	if !enabled {
		return false
	}

	dsn := opts.DSN
	if env := os.Getenv("CLASSIC_AGENT_SENTRY_DSN"); env != "" {
		dsn = env
	}
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but no DSN configured", nil)
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "classic-agent@" + opts.Version,
		Environment:      sentryEnvironment(),
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize Sentry: %v\n", err)
		return false
	}

	sentryEnabled.Store(true)
	return true
}

func sentryEnvironment() string {
	if env := os.Getenv("CLASSIC_AGENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled.Load()
}

// FlushSentry flushes buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled.Load() {
		sentry.Flush(timeout)
	}
}

// CapturePanic sends a recovered panic with its stack trace.
func CapturePanic(panicValue any, stack []byte, context string) {
	if !sentryEnabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		switch v := panicValue.(type) {
		case error:
			sentry.CaptureException(v)
		case string:
			sentry.CaptureMessage(v)
		default:
			sentry.CaptureMessage(fmt.Sprintf("%v", v))
		}
	})

	// The process may be about to die.
	sentry.Flush(2 * time.Second)
}

// CaptureError sends an error with extra context.
func CaptureError(err error, context string, data map[string]any) {
	if !sentryEnabled.Load() || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// addBreadcrumb attaches warnings and errors to the next reported event.
func addBreadcrumb(e LogEntry) {
	if !sentryEnabled.Load() {
		return
	}
	level := sentry.LevelWarning
	if e.Level >= LevelError {
		level = sentry.LevelError
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  string(e.Category),
		Message:   e.Message,
		Level:     level,
		Data:      e.Data,
		Timestamp: e.Timestamp,
	})
}
