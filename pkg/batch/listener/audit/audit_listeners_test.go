package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/swell/pkg/batch/listener/audit"
)

func newExecution() *model.BatchExecution {
	execution := model.NewBatchExecution("settlement", "CORE", "CORE:SETTLEMENT:20250815:A1", "corr-audit", model.NewSubmissionParameters())
	execution.BusinessDate = "2025-08-15"
	return execution
}

func eventOfType(t *testing.T, events []*model.AuditEvent, eventType model.AuditEventType) *model.AuditEvent {
	t.Helper()
	for _, e := range events {
		if e.EventType == eventType {
			return e
		}
	}
	require.Failf(t, "audit event not found", "no event of type %s in %d events", eventType, len(events))
	return nil
}

func TestExecutionLifecycleIsRecorded(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	execution := newExecution()
	listener.BeforeExecution(ctx, execution)

	execution.MarkAsStarted()
	execution.MarkAsCompleted()
	listener.AfterExecution(ctx, execution)

	events, err := repo.FindAuditEventsByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	started := eventOfType(t, events, model.AuditExecutionStarted)
	assert.True(t, started.Success)
	assert.Equal(t, execution.CorrelationID, started.CorrelationID)
	jobName, _ := started.Detail.Get("job_name")
	assert.Equal(t, "settlement", jobName)

	ended := eventOfType(t, events, model.AuditExecutionEnded)
	assert.True(t, ended.Success)
	status, _ := ended.Detail.Get("status")
	assert.Equal(t, string(model.BatchStatusCompleted), status)
	_, hasDuration := ended.Detail.Get("duration_ms")
	assert.True(t, hasDuration)
}

func TestFailedExecutionEndIsUnsuccessful(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	execution := newExecution()
	execution.MarkAsStarted()
	execution.MarkAsFailed(assert.AnError)
	listener.AfterExecution(ctx, execution)

	events, err := repo.FindAuditEventsByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	failureCount, _ := events[0].Detail.Get("failure_count")
	assert.Equal(t, 1, failureCount)
}

func TestAdmitDecisionRecordsVerdictAndFallbackFlag(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	decision := &model.AdmitDecision{
		Verdict: model.AdmitProceed,
		Lease: &model.Lease{
			Key:         "CORE:SETTLEMENT:20250815:A1",
			ExecutionID: "exec-1",
			ExpiresAt:   time.Now().Add(time.Minute),
		},
		RandomFallback: true,
	}
	listener.OnAdmitDecision(ctx, decision.Lease.Key, "corr-admit", decision)

	events, err := repo.FindAuditEventsByExecutionID(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, model.AuditAdmitDecision, event.EventType)
	assert.True(t, event.Success)
	verdict, _ := event.Detail.Get("verdict")
	assert.Equal(t, string(model.AdmitProceed), verdict)
	fallback, ok := event.Detail.Get("random_fallback")
	require.True(t, ok)
	assert.Equal(t, true, fallback)
}

func TestRejectedAdmissionIsUnsuccessfulWithoutFallbackFlag(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	decision := &model.AdmitDecision{Verdict: model.AdmitRejectInProgress}
	listener.OnAdmitDecision(ctx, "CORE:SETTLEMENT:20250815:A1", "corr-admit", decision)

	// No lease means no execution id; the event lands under the empty id.
	events, err := repo.FindAuditEventsByExecutionID(ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	_, ok := events[0].Detail.Get("random_fallback")
	assert.False(t, ok)
}

func TestPartitionAndRecordFailureEvents(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	partition := &model.Partition{
		PartitionID:     "p0001-WIRE",
		ExecutionID:     "exec-2",
		TransactionType: "WIRE",
	}
	listener.BeforePartition(ctx, partition)

	listener.OnRecordFailure(ctx, partition, model.RecordOutcome{
		RecordID:    "TXN-9",
		Status:      model.OutcomeValidationError,
		ErrorDetail: "missing required field amount",
	})

	result := &model.PartitionResult{
		PartitionID:     partition.PartitionID,
		ExecutionID:     partition.ExecutionID,
		TransactionType: partition.TransactionType,
		Status:          model.BatchStatusFailed,
		Metrics: model.PartitionMetrics{
			TotalCount:   2,
			SuccessCount: 1,
			FailureCount: 1,
			DurationMs:   12,
		},
		TimedOut: true,
	}
	listener.AfterPartition(ctx, result)

	events, err := repo.FindAuditEventsByExecutionID(ctx, "exec-2")
	require.NoError(t, err)
	require.Len(t, events, 3)

	start := eventOfType(t, events, model.AuditPartitionStart)
	assert.True(t, start.Success)
	partitionID, _ := start.Detail.Get("partition_id")
	assert.Equal(t, "p0001-WIRE", partitionID)

	failure := eventOfType(t, events, model.AuditRecordFailure)
	assert.False(t, failure.Success)
	recordID, _ := failure.Detail.Get("record_id")
	assert.Equal(t, "TXN-9", recordID)
	detail, _ := failure.Detail.Get("error_detail")
	assert.Equal(t, "missing required field amount", detail)

	end := eventOfType(t, events, model.AuditPartitionEnd)
	assert.False(t, end.Success)
	timedOut, ok := end.Detail.Get("timed_out")
	require.True(t, ok)
	assert.Equal(t, true, timedOut)
	errorCount, _ := end.Detail.Get("error_count")
	assert.Equal(t, 1, errorCount)
}

func TestSessionFinalizeAndAlertEvents(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()
	listener := audit.NewAuditTrailListener(repo)

	listener.OnSessionFinalized(ctx, "exec-3", "session-1", model.MergeStatePartial, 7)
	listener.OnAlert(ctx, "exec-3", model.Alert{
		Name:        "error_rate",
		Severity:    model.AlertSeverityCritical,
		Message:     "error rate 12.0% exceeds 5.0%",
		MetricValue: 12.0,
		Threshold:   5.0,
		RaisedAt:    time.Now(),
	})

	events, err := repo.FindAuditEventsByExecutionID(ctx, "exec-3")
	require.NoError(t, err)
	require.Len(t, events, 2)

	finalize := eventOfType(t, events, model.AuditSessionFinalize)
	assert.False(t, finalize.Success)
	state, _ := finalize.Detail.Get("state")
	assert.Equal(t, string(model.MergeStatePartial), state)
	staged, _ := finalize.Detail.Get("staged_count")
	assert.Equal(t, 7, staged)

	alert := eventOfType(t, events, model.AuditAlertRaised)
	assert.False(t, alert.Success)
	severity, _ := alert.Detail.Get("severity")
	assert.Equal(t, string(model.AlertSeverityCritical), severity)
}
