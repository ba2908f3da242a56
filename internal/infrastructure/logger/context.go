package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	leadIDKey    contextKey = "lead_id"
)

// WithContext returns a context carrying logger
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger carried by ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores requestID in ctx and returns the enriched logger
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	enriched := logger.With(zap.String("request_id", requestID))
	return WithContext(ctx, enriched), enriched
}

// WithLeadID stores the id of the lead a request or edit works on
func WithLeadID(ctx context.Context, logger *zap.Logger, leadID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, leadIDKey, leadID)
	enriched := logger.With(zap.String("lead_id", leadID))
	return WithContext(ctx, enriched), enriched
}

// GetRequestID returns the request id stored in ctx
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetLeadID returns the lead id stored in ctx
func GetLeadID(ctx context.Context) string {
	id, _ := ctx.Value(leadIDKey).(string)
	return id
}

// GetTraceID returns the trace id of the active span, or ""
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// traceFields returns trace_id and span_id for the active span
func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// L returns the logger carried by ctx with the active trace attached. Ids
// stored through WithRequestID and WithLeadID are already on that logger.
//
//	logger.L(ctx).Info("Lead updated", zap.String("status", "won"))
func L(ctx context.Context) *zap.Logger {
	logger := FromContext(ctx)
	if fields := traceFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}

// Enrich adds the trace, request and lead ids found in ctx to a logger that
// did not come from ctx
func Enrich(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := traceFields(ctx)
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := GetLeadID(ctx); id != "" {
		fields = append(fields, zap.String("lead_id", id))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
