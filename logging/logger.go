// Package logging provides structured logging for the MockForge pipeline,
// adapted from the automation platform's infrastructure/logging package:
// a thin wrapper over logrus that injects trace/component fields so every
// log line can be correlated back to a request or a pipeline stage.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey namespaces values stored on a context.Context.
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	SessionIDKey ContextKey = "session_id"
	ComponentKey ContextKey = "component"
)

// Logger wraps *logrus.Logger with a fixed "component" field identifying
// which pipeline stage (registry, template, chainexec, ...) emitted the
// line.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the named component. format is "json" or "text";
// level is any logrus level name and defaults to "info" on parse failure.
func New(component, level, format string) *Logger {
	base := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	if format == "text" {
		base.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	base.SetOutput(os.Stdout)

	return &Logger{Logger: base, component: component}
}

// NewFromEnv builds a Logger using MOCKFORGE_LOG_LEVEL / MOCKFORGE_LOG_FORMAT,
// defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("MOCKFORGE_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("MOCKFORGE_LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an Entry carrying trace/session IDs pulled from ctx,
// if present, plus the fixed component field.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("component", l.component)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(SessionIDKey); v != nil {
		entry = entry.WithField("session_id", v)
	}
	return entry
}

// ContextWithTraceID stamps a trace ID onto ctx for downstream WithContext
// calls to pick up.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithSessionID stamps a session ID onto ctx.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}
