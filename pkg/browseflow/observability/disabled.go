package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Disabled is both a MetricsRecorder and a SpanManager that record
// nothing. Its spans are non-recording and contexts pass through.
type Disabled struct{}

var (
	_ MetricsRecorder = Disabled{}
	_ SpanManager     = Disabled{}
)

func (Disabled) RecordNodeExecution(context.Context, string, string, time.Duration, error) {}
func (Disabled) RecordRun(context.Context, string, time.Duration)                          {}
func (Disabled) RecordSuspension(context.Context, string)                                  {}
func (Disabled) RecordCheckpoint(context.Context, string, int64)                           {}

func (Disabled) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (Disabled) StartNodeSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (Disabled) EndSpanWithError(trace.Span, error)                          {}
func (Disabled) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
