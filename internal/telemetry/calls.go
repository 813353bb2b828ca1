package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const callScopeName = "planline/tools"

// CallInstruments records a span and metrics for every tool call.
type CallInstruments struct {
	tracer    trace.Tracer
	calls     metric.Int64Counter
	errs      metric.Int64Counter
	conflicts metric.Int64Counter
	dur       metric.Float64Histogram
}

// NewCallInstruments builds instruments from the given providers. Nil
// providers fall back to the global ones installed by Init.
func NewCallInstruments(mp metric.MeterProvider, tp trace.TracerProvider) *CallInstruments {
	var m metric.Meter
	if mp != nil {
		m = mp.Meter(callScopeName)
	} else {
		m = Meter(callScopeName)
	}
	var tr trace.Tracer
	if tp != nil {
		tr = tp.Tracer(callScopeName)
	} else {
		tr = Tracer(callScopeName)
	}
	calls, _ := m.Int64Counter("planline.tool.calls",
		metric.WithDescription("Tool calls executed"),
	)
	errs, _ := m.Int64Counter("planline.tool.errors",
		metric.WithDescription("Tool calls that failed with a fatal error"),
	)
	conflicts, _ := m.Int64Counter("planline.tool.conflicts",
		metric.WithDescription("Tool calls answered with a business error"),
	)
	dur, _ := m.Float64Histogram("planline.tool.duration",
		metric.WithDescription("Tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &CallInstruments{tracer: tr, calls: calls, errs: errs, conflicts: conflicts, dur: dur}
}

// Start opens a span for the named tool and counts the call.
func (c *CallInstruments) Start(ctx context.Context, tool string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("tool.name", tool)}, attrs...)
	ctx, span := c.tracer.Start(ctx, "tool."+tool,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	c.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.name", tool)))
	return ctx, span, start()
}

// End closes the span. kind is the business error kind, empty on success;
// fatal is a non-business failure.
func (c *CallInstruments) End(ctx context.Context, span trace.Span, began time.Time, tool, kind string, fatal error) {
	attrs := metric.WithAttributes(attribute.String("tool.name", tool))
	c.dur.Record(ctx, float64(time.Since(began).Microseconds())/1000, attrs)
	switch {
	case fatal != nil:
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
		c.errs.Add(ctx, 1, attrs)
	case kind != "":
		span.SetAttributes(attribute.String("tool.error_kind", kind))
		c.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.name", tool), attribute.String("tool.error_kind", kind)))
	}
	span.End()
}

var start = time.Now
