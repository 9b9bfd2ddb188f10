package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为一条 SQL 创建 client span，operation 为首个关键字（select/insert/...）
func DBSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(operation),
		),
	)
}

// EndDBSpan pgx.ErrNoRows 不算错误，服务层会转成 NotFound
func EndDBSpan(span trace.Span, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetStatus(codes.Ok, "no rows")
		span.End()
		return
	}
	EndSpan(span, err)
}
