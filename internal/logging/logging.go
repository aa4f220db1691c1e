// Package logging builds the process logger and carries request-scoped
// entries through context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const loggerKey ctxKey = "logger"

// Options selects level and output format.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logger. Unknown levels fall back to info, unknown formats to text.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(ParseLevel(opts.Level))
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}
	if strings.EqualFold(opts.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// ParseLevel maps a config string to a logrus level.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Component returns an entry tagged with the component name. A nil logger
// uses the logrus standard logger.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}

// Discard returns an entry that drops everything, for tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// WithLogger stores entry in ctx.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey, entry)
}

// FromContext returns the request entry from ctx, or fallback when none is set.
func FromContext(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(loggerKey).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	if fallback != nil {
		return fallback
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
