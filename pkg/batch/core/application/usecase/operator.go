package usecase

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// DefaultExecutionOperator implements ExecutionOperator against the store
// repository, signalling running pipelines through the launcher's
// cancel-function registry.
type DefaultExecutionOperator struct {
	repo     repository.StoreRepository
	launcher *DefaultBatchLauncher
}

var _ ExecutionOperator = (*DefaultExecutionOperator)(nil)

// NewDefaultExecutionOperator creates a new DefaultExecutionOperator.
func NewDefaultExecutionOperator(repo repository.StoreRepository) *DefaultExecutionOperator {
	return &DefaultExecutionOperator{
		repo: repo,
		// launcher is expected to be set later via SetLauncher to avoid circular dependencies.
	}
}

// SetLauncher sets the reference to the launcher, typically done after
// construction to avoid circular dependencies.
func (o *DefaultExecutionOperator) SetLauncher(launcher *DefaultBatchLauncher) {
	o.launcher = launcher
}

// Stop requests a running execution to stop. The stored row is advanced to
// STOPPING first, then the pipeline's context is cancelled; workers observe
// the cancellation at the next chunk boundary.
func (o *DefaultExecutionOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("ExecutionOperator: Stop method called. Execution ID: %s", executionID)

	if o.launcher == nil {
		return exception.NewBatchErrorf("execution_operator", "BatchLauncher is not set. Cannot perform Stop operation.")
	}

	execution, err := o.repo.FindBatchExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("execution_operator", fmt.Sprintf("Stop processing error: Failed to load BatchExecution (ID: %s)", executionID), err, false, false)
	}

	if execution.Status.IsFinished() {
		logger.Warnf("BatchExecution (ID: %s) cannot be stopped as it is already in a finished state (%s).", executionID, execution.Status)
		return exception.NewBatchErrorf("execution_operator", "Stop processing error: BatchExecution (ID: %s) is already in a finished state (%s)", executionID, execution.Status)
	}

	if err := execution.TransitionTo(model.BatchStatusStopping); err != nil {
		logger.Warnf("Failed to update BatchExecution (ID: %s) status to STOPPING: %v", executionID, err)
		execution.Status = model.BatchStatusStopping
		execution.LastUpdated = time.Now()
	}
	if err := o.repo.UpdateBatchExecution(ctx, execution); err != nil {
		return exception.NewBatchError("execution_operator", fmt.Sprintf("Stop processing error: Failed to update BatchExecution (ID: %s) status", executionID), err, false, true)
	}
	logger.Infof("Updated BatchExecution (ID: %s) status to STOPPING.", executionID)

	cancelFunc, ok := o.launcher.GetCancelFunc(executionID)
	if !ok {
		logger.Warnf("No CancelFunc found for BatchExecution (ID: %s). The pipeline may have already finished, or it runs on another instance.", executionID)
		return exception.NewBatchErrorf("execution_operator", "Stop processing error: CancelFunc for BatchExecution (ID: %s) not found", executionID)
	}
	cancelFunc()

	logger.Infof("Sent stop signal for BatchExecution (ID: %s).", executionID)
	return nil
}

// Abandon marks a failed or stopped execution as ABANDONED so it is excluded
// from any further operation. Running pipelines must be stopped first, and a
// completed execution can never be abandoned.
func (o *DefaultExecutionOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("ExecutionOperator: Abandon method called. Execution ID: %s", executionID)

	execution, err := o.repo.FindBatchExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("execution_operator", fmt.Sprintf("Abandon processing error: Failed to load BatchExecution (ID: %s)", executionID), err, false, false)
	}

	switch execution.Status {
	case model.BatchStatusStarting, model.BatchStatusStarted, model.BatchStatusStopping:
		logger.Warnf("BatchExecution (ID: %s) cannot be abandoned while it is running or stopping (current status: %s).", executionID, execution.Status)
		return exception.NewBatchErrorf("execution_operator", "Abandon processing error: BatchExecution (ID: %s) cannot be abandoned while running or stopping (%s)", executionID, execution.Status)
	case model.BatchStatusAbandoned:
		logger.Infof("BatchExecution (ID: %s) is already in ABANDONED status.", executionID)
		return nil
	case model.BatchStatusCompleted:
		logger.Warnf("BatchExecution (ID: %s) cannot be abandoned as it completed successfully.", executionID)
		return exception.NewBatchErrorf("execution_operator", "Abandon processing error: BatchExecution (ID: %s) completed successfully and cannot be abandoned", executionID)
	}

	execution.MarkAsAbandoned()
	if err := o.repo.UpdateBatchExecution(ctx, execution); err != nil {
		return exception.NewBatchError("execution_operator", fmt.Sprintf("Abandon processing error: Failed to update BatchExecution (ID: %s) status", executionID), err, false, true)
	}

	if o.launcher != nil {
		o.launcher.UnregisterCancelFunc(executionID)
	}

	logger.Infof("Successfully abandoned BatchExecution (ID: %s).", executionID)
	return nil
}
