package logging

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter
func Configure(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// InitSentry enables error reporting when a DSN is configured.
// The returned func flushes buffered events and should be deferred by main.
func InitSentry(dsn, environment string) func() {
	if dsn == "" {
		logrus.Debug("Sentry disabled: SENTRY_DSN not set")
		return func() {}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	})
	if err != nil {
		logrus.WithError(err).Error("sentry.Init failed, continuing without error reporting")
		return func() {}
	}

	logrus.Info("Sentry initialized")
	return func() { sentry.Flush(2 * time.Second) }
}

// CaptureError reports err to Sentry with the given tags. It is a no-op when Sentry is not initialized.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Component returns a logger entry tagged with the component name
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
