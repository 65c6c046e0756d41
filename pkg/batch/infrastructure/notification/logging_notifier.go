package notification

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/ports"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// LoggingNotifier is an implementation that only logs notifications. It is the
// fallback when no webhook endpoint is configured.
type LoggingNotifier struct{}

// NewLoggingNotifier creates a new instance of LoggingNotifier.
func NewLoggingNotifier() ports.Notifier {
	logger.Infof("Notification: Initializing Logging Notifier.")
	return &LoggingNotifier{}
}

// NotifyExecutionCompletion notifies of execution completion.
func (n *LoggingNotifier) NotifyExecutionCompletion(ctx context.Context, execution *model.BatchExecution) {
	duration := time.Duration(0)
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime)
	}

	message := fmt.Sprintf(
		"Execution Notification: Job '%s' (ID: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Failures: %d",
		execution.JobName,
		execution.ID,
		execution.Status,
		execution.ExitStatus,
		duration,
		len(execution.Failures),
	)

	if execution.Status == model.BatchStatusCompleted {
		logger.Infof(message)
	} else {
		logger.Warnf(message)
	}
}

// NotifyAlert notifies of a raised performance alert.
func (n *LoggingNotifier) NotifyAlert(ctx context.Context, executionID string, alert model.Alert) {
	logger.Warnf("Alert Notification: %s [%s] for execution '%s': %s (value: %.2f, threshold: %.2f)",
		alert.Name, alert.Severity, executionID, alert.Message, alert.MetricValue, alert.Threshold)
}

var _ ports.Notifier = (*LoggingNotifier)(nil)
