package usecase

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// ExecutionOperator is an interface for performing operations on running executions (e.g., stop, abandon).
type ExecutionOperator interface {
	// Stop stops the specified BatchExecution.
	// Stopping may occur asynchronously; workers observe the cancellation
	// at the next chunk boundary.
	Stop(ctx context.Context, executionID string) error

	// Abandon abandons the specified BatchExecution.
	// Only failed or stopped executions can be abandoned, and an abandoned
	// execution is excluded from any further operation.
	Abandon(ctx context.Context, executionID string) error
}

// ExecutionExplorer is an interface for querying engine metadata
// (BatchExecution, staged output, audit trail).
type ExecutionExplorer interface {
	// GetExecution retrieves a BatchExecution by its ID.
	GetExecution(ctx context.Context, executionID string) (*model.BatchExecution, error)

	// GetExecutionsByJobName retrieves the most recent BatchExecutions for a job,
	// newest first. A limit of 0 returns all of them.
	GetExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.BatchExecution, error)

	// GetLastExecutionByKey retrieves the latest BatchExecution recorded under
	// the given idempotency key.
	GetLastExecutionByKey(ctx context.Context, idempotencyKey string) (*model.BatchExecution, error)

	// GetJobNames retrieves all job names that have at least one recorded execution.
	GetJobNames(ctx context.Context) ([]string, error)

	// GetParameters retrieves the SubmissionParameters of the specified BatchExecution.
	GetParameters(ctx context.Context, executionID string) (model.SubmissionParameters, error)

	// GetStagingRecords retrieves staged output of an execution within an
	// inclusive sequence-number range, ordered by sequence number.
	// A toSeq of 0 means no upper bound.
	GetStagingRecords(ctx context.Context, executionID string, fromSeq, toSeq int64) ([]*model.StagingRecord, error)

	// GetAuditTrail retrieves the audit events of an execution in the order
	// they were recorded.
	GetAuditTrail(ctx context.Context, executionID string) ([]*model.AuditEvent, error)
}
