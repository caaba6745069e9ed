// Package logging wraps log/slog with OpenTelemetry trace/span correlation,
// grounded on engine/telemetry/logging's correlated-wrapper shape.
package logging

import (
	"context"
	"log/slog"
	"os"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Logger is a minimal interface wrapper allowing correlation injection.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, attrs ...any)
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	With(attrs ...any) Logger
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapper around base. If base is nil,
// slog.Default() is wrapped instead.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

// NewJSON builds a Logger with a JSON slog handler at the given level,
// matching the ops-config LogLevel field loaded by internal/config.
func NewJSON(level slog.Level) Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &correlatedLogger{base: slog.New(h)}
}

func withTrace(ctx context.Context, attrs []any) []any {
	sc := oteltrace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	if sc.HasSpanID() {
		attrs = append(attrs, slog.String("span_id", sc.SpanID().String()))
	}
	return attrs
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.DebugContext(ctx, msg, withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, withTrace(ctx, attrs)...)
}

func (l *correlatedLogger) With(attrs ...any) Logger {
	return &correlatedLogger{base: l.base.With(attrs...)}
}
