package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	runIDKey         contextKey = "run_id"
	instanceIDKey    contextKey = "instance_id"
	correlationIDKey contextKey = "correlation_id"
	actionKey        contextKey = "action"
)

// WithRunID tags ctx so every log record in this run carries run_id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, actionKey, action)
}

// CorrelationHandler decorates an slog.Handler with the run, instance, and
// action identifiers carried in the context, so call sites never have to
// repeat them.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, key := range []contextKey{runIDKey, instanceIDKey, correlationIDKey, actionKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			record.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.inner.Handle(ctx, record)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// Setup installs the default logger. Format is "text" or "json"; level is
// parsed leniently, defaulting to info.
func Setup(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(NewCorrelationHandler(inner))
	slog.SetDefault(logger)
	return logger
}
