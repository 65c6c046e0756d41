package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/ports"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// ModuleWebhookNotifier is the module name used in errors from this component.
const ModuleWebhookNotifier = "webhook_notifier"

// WebhookNotifier delivers execution results and alerts to an external HTTP
// endpoint as JSON. Delivery failures are logged, never surfaced to the
// pipeline; notifications are fire-and-forget.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier from the alerting configuration.
func NewWebhookNotifier(cfg *config.Config) ports.Notifier {
	alerting := cfg.Swell.Alerting

	timeout := time.Duration(alerting.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Infof("Notification: Initializing Webhook Notifier (endpoint: %s).", alerting.WebhookURL)
	return &WebhookNotifier{
		endpoint: alerting.WebhookURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type executionCompletionPayload struct {
	Event        string `json:"event"`
	ExecutionID  string `json:"executionId"`
	JobName      string `json:"jobName"`
	Status       string `json:"status"`
	ExitStatus   string `json:"exitStatus"`
	DurationMs   int64  `json:"durationMs"`
	FailureCount int    `json:"failureCount"`
}

type alertPayload struct {
	Event       string    `json:"event"`
	ExecutionID string    `json:"executionId"`
	Name        string    `json:"name"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	MetricValue float64   `json:"metricValue"`
	Threshold   float64   `json:"threshold"`
	RaisedAt    time.Time `json:"raisedAt"`
}

// NotifyExecutionCompletion posts the execution's terminal state to the webhook.
func (n *WebhookNotifier) NotifyExecutionCompletion(ctx context.Context, execution *model.BatchExecution) {
	payload := executionCompletionPayload{
		Event:        "execution_completion",
		ExecutionID:  execution.ID,
		JobName:      execution.JobName,
		Status:       string(execution.Status),
		ExitStatus:   string(execution.ExitStatus),
		FailureCount: len(execution.Failures),
	}
	if execution.EndTime != nil {
		payload.DurationMs = execution.EndTime.Sub(execution.StartTime).Milliseconds()
	}

	if err := n.post(ctx, payload); err != nil {
		logger.Errorf("WebhookNotifier: Failed to deliver completion notification for execution '%s': %v", execution.ID, err)
	}
}

// NotifyAlert posts one raised alert to the webhook.
func (n *WebhookNotifier) NotifyAlert(ctx context.Context, executionID string, alert model.Alert) {
	payload := alertPayload{
		Event:       "alert_raised",
		ExecutionID: executionID,
		Name:        alert.Name,
		Severity:    string(alert.Severity),
		Message:     alert.Message,
		MetricValue: alert.MetricValue,
		Threshold:   alert.Threshold,
		RaisedAt:    alert.RaisedAt,
	}

	if err := n.post(ctx, payload); err != nil {
		logger.Errorf("WebhookNotifier: Failed to deliver alert '%s' for execution '%s': %v", alert.Name, executionID, err)
	}
}

func (n *WebhookNotifier) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return exception.NewBatchError(ModuleWebhookNotifier, "Failed to serialize webhook payload", err, false, false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return exception.NewBatchError(ModuleWebhookNotifier, "Failed to create webhook request", err, false, false)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return exception.NewBatchError(ModuleWebhookNotifier, "Webhook call failed", err, true, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("Error response from webhook: Status code %d, Body: %s", resp.StatusCode, bodyString)
		isRetryable := resp.StatusCode >= 500
		return exception.NewBatchError(ModuleWebhookNotifier, errMsg, errors.New(bodyString), isRetryable, false)
	}
	return nil
}

var _ ports.Notifier = (*WebhookNotifier)(nil)
