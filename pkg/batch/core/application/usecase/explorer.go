package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// DefaultExecutionExplorer is a simple implementation of the ExecutionExplorer
// interface. It queries engine metadata using the store repository.
type DefaultExecutionExplorer struct {
	repo repository.StoreRepository
}

var _ ExecutionExplorer = (*DefaultExecutionExplorer)(nil)

// NewDefaultExecutionExplorer creates a new instance of DefaultExecutionExplorer.
func NewDefaultExecutionExplorer(repo repository.StoreRepository) *DefaultExecutionExplorer {
	return &DefaultExecutionExplorer{
		repo: repo,
	}
}

// GetExecution retrieves a BatchExecution by its ID.
func (e *DefaultExecutionExplorer) GetExecution(ctx context.Context, executionID string) (*model.BatchExecution, error) {
	logger.Infof("ExecutionExplorer: GetExecution method called. Execution ID: %s", executionID)
	execution, err := e.repo.FindBatchExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve BatchExecution (ID: %s)", executionID), err, false, false)
	}
	logger.Debugf("Retrieved BatchExecution (ID: %s) from the store.", executionID)
	return execution, nil
}

// GetExecutionsByJobName retrieves the most recent BatchExecutions for a job,
// newest first.
func (e *DefaultExecutionExplorer) GetExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.BatchExecution, error) {
	logger.Infof("ExecutionExplorer: GetExecutionsByJobName method called. Job: %s, Limit: %d", jobName, limit)
	executions, err := e.repo.FindBatchExecutionsByJobName(ctx, jobName, limit)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve BatchExecutions for job '%s'", jobName), err, false, false)
	}
	logger.Debugf("Retrieved %d BatchExecutions for job '%s'.", len(executions), jobName)
	return executions, nil
}

// GetLastExecutionByKey retrieves the latest BatchExecution recorded under the
// given idempotency key.
func (e *DefaultExecutionExplorer) GetLastExecutionByKey(ctx context.Context, idempotencyKey string) (*model.BatchExecution, error) {
	logger.Infof("ExecutionExplorer: GetLastExecutionByKey method called. Key: %s", idempotencyKey)
	execution, err := e.repo.FindLatestBatchExecutionByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve latest BatchExecution for key '%s'", idempotencyKey), err, false, false)
	}
	return execution, nil
}

// GetJobNames retrieves all job names that have at least one recorded execution.
func (e *DefaultExecutionExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	logger.Infof("ExecutionExplorer: GetJobNames method called.")
	names, err := e.repo.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", "Failed to retrieve job names", err, false, false)
	}
	return names, nil
}

// GetParameters retrieves the SubmissionParameters of the specified execution.
func (e *DefaultExecutionExplorer) GetParameters(ctx context.Context, executionID string) (model.SubmissionParameters, error) {
	logger.Infof("ExecutionExplorer: GetParameters method called. Execution ID: %s", executionID)
	execution, err := e.repo.FindBatchExecutionByID(ctx, executionID)
	if err != nil {
		return model.NewSubmissionParameters(), exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve BatchExecution (ID: %s)", executionID), err, false, false)
	}
	return execution.Parameters, nil
}

// GetStagingRecords retrieves staged output of an execution within an
// inclusive sequence-number range, ordered by sequence number.
func (e *DefaultExecutionExplorer) GetStagingRecords(ctx context.Context, executionID string, fromSeq, toSeq int64) ([]*model.StagingRecord, error) {
	logger.Infof("ExecutionExplorer: GetStagingRecords method called. Execution ID: %s, Range: [%d, %d]", executionID, fromSeq, toSeq)
	records, err := e.repo.FindStagingRecordsBySequenceRange(ctx, executionID, fromSeq, toSeq)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve staged records of BatchExecution (ID: %s)", executionID), err, false, false)
	}
	logger.Debugf("Retrieved %d staged records of BatchExecution (ID: %s).", len(records), executionID)
	return records, nil
}

// GetAuditTrail retrieves the audit events of an execution in recording order.
func (e *DefaultExecutionExplorer) GetAuditTrail(ctx context.Context, executionID string) ([]*model.AuditEvent, error) {
	logger.Infof("ExecutionExplorer: GetAuditTrail method called. Execution ID: %s", executionID)
	events, err := e.repo.FindAuditEventsByExecutionID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("execution_explorer", fmt.Sprintf("Failed to retrieve audit trail of BatchExecution (ID: %s)", executionID), err, false, false)
	}
	return events, nil
}
