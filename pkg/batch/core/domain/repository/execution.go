package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// ErrBatchExecutionNotFound is the error returned when a BatchExecution is not found.
var ErrBatchExecutionNotFound = errors.New("batch execution not found")

func init() {
	// Register the error type in the registry upon framework startup.
	exception.RegisterErrorType("ErrBatchExecutionNotFound", ErrBatchExecutionNotFound)
}

// ExecutionRepository defines operations for persisting and querying batch executions.
type ExecutionRepository interface {
	// SaveBatchExecution persists a new BatchExecution.
	SaveBatchExecution(ctx context.Context, execution *model.BatchExecution) error

	// UpdateBatchExecution updates the state of an existing BatchExecution
	// guarded by its Version. It returns exception.ErrOptimisticLockingFailure
	// when the stored version no longer matches.
	UpdateBatchExecution(ctx context.Context, execution *model.BatchExecution) error

	// FindBatchExecutionByID finds a BatchExecution by its ID.
	FindBatchExecutionByID(ctx context.Context, executionID string) (*model.BatchExecution, error)

	// FindLatestBatchExecutionByKey finds the most recent BatchExecution
	// submitted under the given idempotency key.
	FindLatestBatchExecutionByKey(ctx context.Context, idempotencyKey string) (*model.BatchExecution, error)

	// FindBatchExecutionsByJobName finds recent BatchExecutions for a job name,
	// newest first. A limit of 0 means no limit.
	FindBatchExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.BatchExecution, error)

	// GetJobNames returns a list of all distinct job names present in the store.
	GetJobNames(ctx context.Context) ([]string, error)
}
