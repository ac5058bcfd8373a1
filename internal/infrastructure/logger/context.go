package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const loggerKey contextKey = "logger"

var nopLogger = zap.NewNop()

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return nopLogger
}

// WithAttempt enriches logger with the reconciliation attempt sequence number
// and stores it in ctx
func WithAttempt(ctx context.Context, logger *zap.Logger, seq uint64) (context.Context, *zap.Logger) {
	enriched := logger.With(zap.Uint64("attempt_seq", seq))
	return WithContext(ctx, enriched), enriched
}

// WithTraceContext adds trace_id and span_id from the context's span. If no
// valid span exists the logger is returned unchanged.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
