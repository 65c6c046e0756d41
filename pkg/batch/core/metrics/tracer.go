package metrics

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like
// OpenTelemetry, enabling visualization of execution and partition flows.
type Tracer interface {
	// StartExecutionSpan starts a Span for a BatchExecution.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartExecutionSpan(ctx context.Context, execution *model.BatchExecution) (context.Context, func())

	// StartPartitionSpan starts a Span for one partition run.
	//
	// ctx: The parent context (typically a context with an execution span).
	StartPartitionSpan(ctx context.Context, partition *model.Partition) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// module: The name of the module or component where the error occurred
	//         (e.g., "processor", "merger").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// attributes: Additional attributes to associate with the event.
	//             Example: `map[string]interface{}{"record_id": "123", "status": "success"}`
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
