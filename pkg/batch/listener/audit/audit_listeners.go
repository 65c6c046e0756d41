// Package audit persists a structured trail of engine lifecycle events.
// One listener implements every lifecycle port so a single row format covers
// admissions, executions, partitions, record failures, merges and alerts.
package audit

import (
	"context"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// AuditTrailListener records every lifecycle transition as an AuditEvent row.
// Append failures are logged and swallowed; the trail is observability, not a
// transactional participant, and must never fail the pipeline.
type AuditTrailListener struct {
	repo repository.StoreRepository
}

// NewAuditTrailListener creates a new instance of AuditTrailListener.
func NewAuditTrailListener(repo repository.StoreRepository) *AuditTrailListener {
	return &AuditTrailListener{repo: repo}
}

func (l *AuditTrailListener) append(ctx context.Context, event *model.AuditEvent) {
	if err := l.repo.AppendAuditEvent(ctx, event); err != nil {
		logger.Errorf("AuditTrailListener: Failed to append %s audit event for execution '%s': %v", event.EventType, event.ExecutionID, err)
	}
}

// --- Admission ---

// OnAdmitDecision records the verdict of one admission attempt. Rejections are
// recorded as unsuccessful so the trail exposes duplicate and exhausted keys.
func (l *AuditTrailListener) OnAdmitDecision(ctx context.Context, key string, correlationID string, decision *model.AdmitDecision) {
	executionID := ""
	if decision.Lease != nil {
		executionID = decision.Lease.ExecutionID
	}
	success := decision.Verdict == model.AdmitProceed || decision.Verdict == model.AdmitCached

	event := model.NewAuditEvent(executionID, correlationID, model.AuditAdmitDecision, success).
		WithDetail("idempotency_key", key).
		WithDetail("verdict", string(decision.Verdict))
	if decision.RandomFallback {
		// Deduplication was waived for this submission; flag it for operators.
		event.WithDetail("random_fallback", true)
	}
	l.append(ctx, event)
}

// --- Execution lifecycle ---

func (l *AuditTrailListener) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
	event := model.NewAuditEvent(execution.ID, execution.CorrelationID, model.AuditExecutionStarted, true).
		WithDetail("job_name", execution.JobName).
		WithDetail("business_date", execution.BusinessDate)
	l.append(ctx, event)
}

func (l *AuditTrailListener) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	event := model.NewAuditEvent(execution.ID, execution.CorrelationID, model.AuditExecutionEnded, execution.Status == model.BatchStatusCompleted).
		WithDetail("status", string(execution.Status)).
		WithDetail("exit_status", string(execution.ExitStatus)).
		WithDetail("failure_count", len(execution.Failures))
	if execution.EndTime != nil {
		event.WithDetail("duration_ms", execution.EndTime.Sub(execution.StartTime).Milliseconds())
	}
	l.append(ctx, event)
}

// --- Partition lifecycle ---

func (l *AuditTrailListener) BeforePartition(ctx context.Context, partition *model.Partition) {
	event := model.NewAuditEvent(partition.ExecutionID, "", model.AuditPartitionStart, true).
		WithDetail("partition_id", partition.PartitionID).
		WithDetail("transaction_type", partition.TransactionType)
	l.append(ctx, event)
}

func (l *AuditTrailListener) AfterPartition(ctx context.Context, result *model.PartitionResult) {
	event := model.NewAuditEvent(result.ExecutionID, "", model.AuditPartitionEnd, result.Status == model.BatchStatusCompleted).
		WithDetail("partition_id", result.PartitionID).
		WithDetail("transaction_type", result.TransactionType).
		WithDetail("status", string(result.Status)).
		WithDetail("total_count", result.Metrics.TotalCount).
		WithDetail("success_count", result.Metrics.SuccessCount).
		WithDetail("error_count", result.Metrics.ErrorCount()).
		WithDetail("duration_ms", result.Metrics.DurationMs)
	if result.TimedOut {
		event.WithDetail("timed_out", true)
	}
	l.append(ctx, event)
}

// --- Record failures ---

// OnRecordFailure records one contained record-level fault. The outcome's
// payload is already masked upstream and is not copied into the trail; the
// record id and error detail are enough to locate the source record.
func (l *AuditTrailListener) OnRecordFailure(ctx context.Context, partition *model.Partition, outcome model.RecordOutcome) {
	event := model.NewAuditEvent(partition.ExecutionID, "", model.AuditRecordFailure, false).
		WithDetail("partition_id", partition.PartitionID).
		WithDetail("record_id", outcome.RecordID).
		WithDetail("status", string(outcome.Status)).
		WithDetail("error_detail", outcome.ErrorDetail)
	l.append(ctx, event)
}

// --- Merge sessions ---

func (l *AuditTrailListener) OnSessionFinalized(ctx context.Context, executionID string, sessionID string, state model.MergeState, stagedCount int) {
	event := model.NewAuditEvent(executionID, "", model.AuditSessionFinalize, state == model.MergeStateComplete).
		WithDetail("session_id", sessionID).
		WithDetail("state", string(state)).
		WithDetail("staged_count", stagedCount)
	l.append(ctx, event)
}

// --- Alerts ---

func (l *AuditTrailListener) OnAlert(ctx context.Context, executionID string, alert model.Alert) {
	event := model.NewAuditEvent(executionID, "", model.AuditAlertRaised, false).
		WithDetail("alert_name", alert.Name).
		WithDetail("severity", string(alert.Severity)).
		WithDetail("message", alert.Message).
		WithDetail("metric_value", alert.MetricValue).
		WithDetail("threshold", alert.Threshold)
	l.append(ctx, event)
}

var _ port.AdmitListener = (*AuditTrailListener)(nil)
var _ port.ExecutionListener = (*AuditTrailListener)(nil)
var _ port.PartitionListener = (*AuditTrailListener)(nil)
var _ port.RecordFailureListener = (*AuditTrailListener)(nil)
var _ port.MergeListener = (*AuditTrailListener)(nil)
var _ port.AlertListener = (*AuditTrailListener)(nil)
