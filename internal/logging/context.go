// Package logging carries a request-scoped slog logger through contexts.
package logging

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// FromContext returns the logger stored in ctx, or slog.Default tagged as a
// fallback when none was stored.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default().With(slog.String("logger", "fallback"))
	}
	return logger
}

// FromContextOr returns the logger stored in ctx, or fallback.
func FromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// AddMetaToContext stores a copy of the context logger extended with attrs.
func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return AddToContext(ctx, FromContext(ctx).With(args...))
}
