package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordExecutionStart does nothing.
func (r *NoOpMetricRecorder) RecordExecutionStart(ctx context.Context, execution *model.BatchExecution) {
}

// RecordExecutionEnd does nothing.
func (r *NoOpMetricRecorder) RecordExecutionEnd(ctx context.Context, execution *model.BatchExecution) {
}

// RecordAdmitDecision does nothing.
func (r *NoOpMetricRecorder) RecordAdmitDecision(ctx context.Context, jobName string, verdict model.AdmitVerdict) {
}

// RecordPartitionStart does nothing.
func (r *NoOpMetricRecorder) RecordPartitionStart(ctx context.Context, partition *model.Partition) {
}

// RecordPartitionEnd does nothing.
func (r *NoOpMetricRecorder) RecordPartitionEnd(ctx context.Context, result *model.PartitionResult) {
}

// RecordRecordOutcome does nothing.
func (r *NoOpMetricRecorder) RecordRecordOutcome(ctx context.Context, transactionType string, outcome model.OutcomeStatus) {
}

// RecordStagingWrite does nothing.
func (r *NoOpMetricRecorder) RecordStagingWrite(ctx context.Context, executionID string, count int) {
}

// RecordMergeFinalized does nothing.
func (r *NoOpMetricRecorder) RecordMergeFinalized(ctx context.Context, state model.MergeState, recordCount int) {
}

// RecordLeaseExpired does nothing.
func (r *NoOpMetricRecorder) RecordLeaseExpired(ctx context.Context, count int64) {}

// RecordAlertRaised does nothing.
func (r *NoOpMetricRecorder) RecordAlertRaised(ctx context.Context, alert model.Alert) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartExecutionSpan returns the context unchanged.
func (t *NoOpTracer) StartExecutionSpan(ctx context.Context, execution *model.BatchExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartPartitionSpan returns the context unchanged.
func (t *NoOpTracer) StartPartitionSpan(ctx context.Context, partition *model.Partition) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
