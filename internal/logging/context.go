package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	tenantKey    struct{}
	requestIDKey struct{}
	loggerKey    struct{}
)

// maxIDLen bounds ids copied into log lines.
const maxIDLen = 128

// ContextFields returns the correlation fields carried by ctx: the active
// span, the tenant and the request id.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.Stringer("trace_id", sc.TraceID()),
			zap.Stringer("span_id", sc.SpanID()),
		)
	}
	if v := TenantFromContext(ctx); v != "" {
		fields = append(fields, zap.String("tenant.id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func withID(ctx context.Context, key any, id string) context.Context {
	if id == "" {
		return ctx
	}
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTenant tags ctx with a tenant id for log correlation. It grants no
// access; isolation is enforced by the memory repository.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return withID(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant id set by WithTenant.
func TenantFromContext(ctx context.Context) string { return idFrom(ctx, tenantKey{}) }

// WithRequestID tags ctx with a request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestIDKey{}) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
