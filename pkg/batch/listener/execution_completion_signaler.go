package listener

import (
	"context"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// ExecutionCompletionSignaler is an ExecutionListener that closes a channel
// when an execution finishes, signaling its completion to external components.
// Intended for single-submission applications that wait for the pipeline
// before shutting down.
type ExecutionCompletionSignaler struct {
	// DoneChan is the channel that will be closed upon execution completion.
	DoneChan chan struct{}
}

// NewExecutionCompletionSignaler creates a new instance of ExecutionCompletionSignaler.
//
// Parameters:
//
//	doneChan: The channel to be closed when the execution finishes.
//
// Returns:
//
//	A pointer to a new `ExecutionCompletionSignaler` instance.
func NewExecutionCompletionSignaler(doneChan chan struct{}) *ExecutionCompletionSignaler {
	return &ExecutionCompletionSignaler{
		DoneChan: doneChan,
	}
}

// BeforeExecution is part of the ExecutionListener interface but does nothing in this implementation.
func (l *ExecutionCompletionSignaler) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
	// No-op
}

// AfterExecution closes the DoneChan when the execution finishes.
// It ensures the channel is not already closed before attempting to close it.
func (l *ExecutionCompletionSignaler) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	logger.Infof("ExecutionCompletionSignaler: Execution '%s' (Job: %s) finished. Closing DoneChan.", execution.ID, execution.JobName)
	// Check if the channel is already closed before closing.
	select {
	case <-l.DoneChan:
		// Channel is already closed. Do nothing, as it's already signaled.
	default:
		// Channel is not closed, so close it.
		close(l.DoneChan)
	}
}

// Verify that ExecutionCompletionSignaler implements the port.ExecutionListener interface.
var _ port.ExecutionListener = (*ExecutionCompletionSignaler)(nil)
