package notification

import (
	"context"

	coreport "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/ports"
)

// NotificationExecutionListener adapts ports.Notifier to coreport.ExecutionListener,
// announcing each execution's terminal state through the configured notifier.
type NotificationExecutionListener struct {
	notifier ports.Notifier
}

// NewNotificationExecutionListener creates a new instance of NotificationExecutionListener.
func NewNotificationExecutionListener(notifier ports.Notifier) coreport.ExecutionListener {
	return &NotificationExecutionListener{notifier: notifier}
}

// BeforeExecution exists to satisfy ExecutionListener requirements but does nothing.
func (l *NotificationExecutionListener) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
}

// AfterExecution sends a notification when an execution finishes.
func (l *NotificationExecutionListener) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	l.notifier.NotifyExecutionCompletion(ctx, execution)
}

var _ coreport.ExecutionListener = (*NotificationExecutionListener)(nil)

// NotificationAlertListener adapts ports.Notifier to coreport.AlertListener,
// forwarding raised alerts to the configured notifier.
type NotificationAlertListener struct {
	notifier ports.Notifier
}

// NewNotificationAlertListener creates a new instance of NotificationAlertListener.
func NewNotificationAlertListener(notifier ports.Notifier) coreport.AlertListener {
	return &NotificationAlertListener{notifier: notifier}
}

// OnAlert sends a notification for one raised alert.
func (l *NotificationAlertListener) OnAlert(ctx context.Context, executionID string, alert model.Alert) {
	l.notifier.NotifyAlert(ctx, executionID, alert)
}

var _ coreport.AlertListener = (*NotificationAlertListener)(nil)
