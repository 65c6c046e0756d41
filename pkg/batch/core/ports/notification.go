package ports

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// Notifier is an abstract interface for notifying external systems about
// execution results and raised alerts.
type Notifier interface {
	// NotifyExecutionCompletion notifies about execution completion (success/failure/stop).
	NotifyExecutionCompletion(ctx context.Context, execution *model.BatchExecution)
	// NotifyAlert notifies about a threshold violation raised by the monitor.
	NotifyAlert(ctx context.Context, executionID string, alert model.Alert)
}
