package trace

import (
	"context"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

const (
	TraceIDKey = "trace_id"
	header     = "X-Trace-ID"
)

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext 优先返回显式设置的 trace_id，其次是当前 OTel span 的 trace id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok && traceID != "" {
		return traceID
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure 没有 trace_id 时生成一个
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if incoming == "" {
		incoming = FromContext(ctx)
	}
	if incoming == "" {
		incoming = GenerateTraceID()
	}
	return WithContext(ctx, incoming), incoming
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return header
}
