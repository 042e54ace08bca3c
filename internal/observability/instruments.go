package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instruments is the span + latency histogram + error counter set shared by
// the storage decorators. Metric names are "<prefix>.operation.duration" and
// "<prefix>.operation.errors".
type instruments struct {
	prefix   string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func newInstruments(scope, prefix, what string) (*instruments, error) {
	meter := otel.Meter(scope)

	duration, err := meter.Float64Histogram(
		prefix+".operation.duration",
		metric.WithDescription("Duration of "+what+" operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		prefix+".operation.errors",
		metric.WithDescription("Number of "+what+" operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		prefix:   prefix,
		tracer:   otel.Tracer(scope),
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (in *instruments) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, in.prefix+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String(in.prefix+".operation", operation),
		}, attrs...)...),
	)
}

func (in *instruments) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	in.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		in.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
