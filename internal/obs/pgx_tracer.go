package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxTracedSQL = 300

type querySpanKey struct{}

// PGXTracer implements pgx.QueryTracer, emitting one span per statement.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx.query")
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateSQL(data.SQL)),
	)
	if fields := strings.Fields(data.SQL); len(fields) > 0 {
		span.SetAttributes(attribute.String("db.operation", fields[0]))
	}
	return context.WithValue(ctx, querySpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	}
	span.End()
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > maxTracedSQL {
		return trimmed[:maxTracedSQL] + "..."
	}
	return trimmed
}
