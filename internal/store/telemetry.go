package store

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kyleqd/sitemap/internal/rules"
)

const instrumentation = "github.com/kyleqd/sitemap/internal/store"

var (
	tracer = otel.Tracer(instrumentation)
	meter  = otel.Meter(instrumentation)

	mutationCounter, _  = meter.Int64Counter("sitemap.store.mutations", metric.WithDescription("Committed funnel operations."))
	rejectionCounter, _ = meter.Int64Counter("sitemap.store.rejections", metric.WithDescription("Funnel operations rejected by a hard rule."))
	warningCounter, _   = meter.Int64Counter("sitemap.store.warnings", metric.WithDescription("Soft rule violations returned to callers."))
)

func (s *Store) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("sitemap.id", s.id),
	))
}

func record(ctx context.Context, span trace.Span, op string, res Result, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	var verr *rules.ValidationError
	switch {
	case errors.As(err, &verr):
		rejectionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("rule", verr.RuleID)))
		span.SetAttributes(attribute.String("rule", verr.RuleID))
		span.SetStatus(codes.Error, verr.Error())
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		mutationCounter.Add(ctx, 1, attrs)
		if n := len(res.Warnings); n > 0 {
			warningCounter.Add(ctx, int64(n), attrs)
		}
		span.SetAttributes(attribute.Int64("seq", int64(res.Seq)))
	}
}
