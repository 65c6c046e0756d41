package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// Span represents a single operation or unit of work in distributed tracing.
// This interface provides basic methods for managing the lifecycle of a span.
type Span interface {
	// End sets the end time of the current span and finishes the span.
	// Once a span is ended, its data is ready to be exported to the tracing system.
	End()
}

// MetricRecorder is an abstract interface for recording metrics related to
// batch execution. It provides a standardized way to record execution,
// partition and record-level events so different metrics backends
// (e.g., Prometheus, OpenTelemetry Metrics) can be plugged in.
type MetricRecorder interface {
	// RecordExecutionStart records the start of a BatchExecution.
	RecordExecutionStart(ctx context.Context, execution *model.BatchExecution)

	// RecordExecutionEnd records the end of a BatchExecution, including its
	// terminal status and duration.
	RecordExecutionEnd(ctx context.Context, execution *model.BatchExecution)

	// RecordAdmitDecision records the verdict of one idempotency admission attempt.
	RecordAdmitDecision(ctx context.Context, jobName string, verdict model.AdmitVerdict)

	// RecordPartitionStart records the start of one partition run.
	RecordPartitionStart(ctx context.Context, partition *model.Partition)

	// RecordPartitionEnd records the end of one partition run with its
	// aggregate counters.
	RecordPartitionEnd(ctx context.Context, result *model.PartitionResult)

	// RecordRecordOutcome records the result class of one processed record.
	//
	// transactionType: The transaction type of the partition the record belongs to.
	// outcome: SUCCESS, VALIDATION_ERROR or FAILURE.
	RecordRecordOutcome(ctx context.Context, transactionType string, outcome model.OutcomeStatus)

	// RecordStagingWrite records the successful staging of transformed records.
	//
	// count: The number of records written in the batch.
	RecordStagingWrite(ctx context.Context, executionID string, count int)

	// RecordMergeFinalized records a merge session reaching its terminal state.
	//
	// state: COMPLETE or PARTIAL.
	RecordMergeFinalized(ctx context.Context, state model.MergeState, recordCount int)

	// RecordLeaseExpired records leases reclaimed by the sweeper.
	RecordLeaseExpired(ctx context.Context, count int64)

	// RecordAlertRaised records one threshold violation raised by the monitor.
	RecordAlertRaised(ctx context.Context, alert model.Alert)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "claim_duration", "merge_finalize_time").
	// tags: A map of additional tags or attributes to associate with the duration.
	//       Example: `{"transaction_type": "WIRE", "status": "success"}`
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
