package logging

import (
	"context"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
	serialization "github.com/tigerroll/swell/pkg/batch/support/util/serialization"
)

// --- Admit Listener ---

type LoggingAdmitListener struct{}

func NewLoggingAdmitListener() port.AdmitListener {
	return &LoggingAdmitListener{}
}

func (l *LoggingAdmitListener) OnAdmitDecision(ctx context.Context, key string, correlationID string, decision *model.AdmitDecision) {
	switch decision.Verdict {
	case model.AdmitProceed:
		logger.Infof("AdmitListener: Admission PROCEED - Key: %s, CorrelationID: %s", key, correlationID)
	case model.AdmitCached:
		logger.Infof("AdmitListener: Admission CACHED - Key: %s, CorrelationID: %s", key, correlationID)
	default:
		logger.Warnf("AdmitListener: Admission %s - Key: %s, CorrelationID: %s", decision.Verdict, key, correlationID)
	}
}

var _ port.AdmitListener = (*LoggingAdmitListener)(nil)

// --- Execution Listener ---

type LoggingExecutionListener struct{}

func NewLoggingExecutionListener() port.ExecutionListener {
	return &LoggingExecutionListener{}
}

func (l *LoggingExecutionListener) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
	logger.Infof("ExecutionListener: BeforeExecution - JobName: %s, ID: %s, Params: %+v",
		execution.JobName, execution.ID, serialization.GetMaskedSubmissionParametersMap(execution.Parameters.Params))
}

func (l *LoggingExecutionListener) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	logger.Infof("ExecutionListener: AfterExecution - JobName: %s, Status: %s, ExitStatus: %s",
		execution.JobName, execution.Status, execution.ExitStatus)
}

var _ port.ExecutionListener = (*LoggingExecutionListener)(nil)

// --- Partition Listener ---

type LoggingPartitionListener struct{}

func NewLoggingPartitionListener() port.PartitionListener {
	return &LoggingPartitionListener{}
}

func (l *LoggingPartitionListener) BeforePartition(ctx context.Context, partition *model.Partition) {
	logger.Infof("PartitionListener: BeforePartition - PartitionID: %s, TransactionType: %s, Threads: %d",
		partition.PartitionID, partition.TransactionType, partition.ThreadCount)
}

func (l *LoggingPartitionListener) AfterPartition(ctx context.Context, result *model.PartitionResult) {
	logger.Infof("PartitionListener: AfterPartition - PartitionID: %s, Status: %s, Total: %d, Success: %d, Errors: %d",
		result.PartitionID, result.Status, result.Metrics.TotalCount, result.Metrics.SuccessCount, result.Metrics.ErrorCount())
}

var _ port.PartitionListener = (*LoggingPartitionListener)(nil)

// --- Record Failure Listener ---

type LoggingRecordFailureListener struct{}

func NewLoggingRecordFailureListener() port.RecordFailureListener {
	return &LoggingRecordFailureListener{}
}

func (l *LoggingRecordFailureListener) OnRecordFailure(ctx context.Context, partition *model.Partition, outcome model.RecordOutcome) {
	logger.Warnf("RecordFailureListener: OnRecordFailure - PartitionID: %s, RecordID: %s, Status: %s, Error: %s",
		partition.PartitionID, outcome.RecordID, outcome.Status, outcome.ErrorDetail)
}

var _ port.RecordFailureListener = (*LoggingRecordFailureListener)(nil)

// --- Merge Listener ---

type LoggingMergeListener struct{}

func NewLoggingMergeListener() port.MergeListener {
	return &LoggingMergeListener{}
}

func (l *LoggingMergeListener) OnSessionFinalized(ctx context.Context, executionID string, sessionID string, state model.MergeState, stagedCount int) {
	if state == model.MergeStateComplete {
		logger.Infof("MergeListener: OnSessionFinalized - ExecutionID: %s, SessionID: %s, State: %s, Staged: %d",
			executionID, sessionID, state, stagedCount)
		return
	}
	logger.Warnf("MergeListener: OnSessionFinalized - ExecutionID: %s, SessionID: %s, State: %s, Staged: %d",
		executionID, sessionID, state, stagedCount)
}

var _ port.MergeListener = (*LoggingMergeListener)(nil)

// --- Alert Listener ---

type LoggingAlertListener struct{}

func NewLoggingAlertListener() port.AlertListener {
	return &LoggingAlertListener{}
}

func (l *LoggingAlertListener) OnAlert(ctx context.Context, executionID string, alert model.Alert) {
	if alert.Severity == model.AlertSeverityCritical {
		logger.Errorf("AlertListener: OnAlert - %s [%s]: %s (value: %.2f, threshold: %.2f)",
			alert.Name, alert.Severity, alert.Message, alert.MetricValue, alert.Threshold)
		return
	}
	logger.Warnf("AlertListener: OnAlert - %s [%s]: %s (value: %.2f, threshold: %.2f)",
		alert.Name, alert.Severity, alert.Message, alert.MetricValue, alert.Threshold)
}

var _ port.AlertListener = (*LoggingAlertListener)(nil)
