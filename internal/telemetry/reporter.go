package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Reporter forwards errors to Sentry. A Reporter without a DSN, or a nil
// Reporter, silently drops everything.
type Reporter struct {
	hub    *sentry.Hub
	logger *logger.Logger
}

// NewReporter creates a reporter from the telemetry configuration
func NewReporter(cfg config.TelemetryConfig, log *logger.Logger) (*Reporter, error) {
	if cfg.SentryDSN == "" {
		log.Debug("Error reporting disabled, no DSN configured")
		return &Reporter{logger: log}, nil
	}
	return newReporter(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	}, log)
}

func newReporter(opts sentry.ClientOptions, log *logger.Logger) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: log,
	}, nil
}

// Enabled reports whether events are actually sent anywhere
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// CaptureError reports err tagged with the component that produced it
func (r *Reporter) CaptureError(component string, err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(sentry.LevelError)
		r.hub.CaptureException(err)
	})
}

// Hook returns a zap hook that forwards error-level log entries. Install it
// with logger.WithOptions(zap.Hooks(reporter.Hook())).
func (r *Reporter) Hook() func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if !r.Enabled() || entry.Level < zapcore.ErrorLevel {
			return nil
		}
		r.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			if entry.Caller.Defined {
				scope.SetTag("caller", entry.Caller.TrimmedPath())
			}
			r.hub.CaptureMessage(entry.Message)
		})
		return nil
	}
}

// Flush waits for buffered events to be delivered
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	ok := r.hub.Flush(timeout)
	if !ok && r.logger != nil {
		r.logger.Warn("Error reporter flush timed out", "timeout", timeout)
	}
	return ok
}
