package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
)

// scopeName identifies the instrumentation scope of all spans emitted by the engine.
const scopeName = "github.com/tigerroll/swell/pkg/batch"

// OpenTelemetryTracer is an OpenTelemetry implementation of the metrics.Tracer interface.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(scopeName)}
}

// StartExecutionSpan starts a Span for a BatchExecution.
func (t *OpenTelemetryTracer) StartExecutionSpan(ctx context.Context, execution *model.BatchExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "batch.execution "+execution.JobName, trace.WithAttributes(
		attribute.String("batch.execution.id", execution.ID),
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.correlation.id", execution.CorrelationID),
		attribute.String("batch.source.system", execution.SourceSystem),
	))
	return ctx, func() { span.End() }
}

// StartPartitionSpan starts a Span for one partition run.
// The span becomes a child of any execution span carried by ctx.
func (t *OpenTelemetryTracer) StartPartitionSpan(ctx context.Context, partition *model.Partition) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "batch.partition "+partition.TransactionType, trace.WithAttributes(
		attribute.String("batch.partition.id", partition.PartitionID),
		attribute.String("batch.transaction.type", partition.TransactionType),
		attribute.Int("batch.partition.order", partition.ProcessingOrder),
		attribute.Int("batch.partition.threads", partition.ThreadCount),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current Span and marks its status.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current Span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for key, value := range attributes {
		attrs = append(attrs, anyAttribute(key, value))
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// anyAttribute converts one loosely typed attribute to its OpenTelemetry form.
func anyAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
