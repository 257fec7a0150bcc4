package config

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger: JSON in online mode, text otherwise.
func NewLogger(cfg Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.Mode == ModeOnline {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

type logCtxKey struct{}

// WithLogger stores a request-scoped entry in ctx.
func WithLogger(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, logCtxKey{}, e)
}

// Log returns the request-scoped entry from ctx, or an entry on the
// standard logger when none was attached (tests, background work).
func Log(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(logCtxKey{}).(*logrus.Entry); ok && e != nil {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
