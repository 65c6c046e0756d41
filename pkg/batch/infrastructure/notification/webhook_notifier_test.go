package notification_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/notification"
)

type capturedRequest struct {
	contentType string
	body        map[string]interface{}
}

// webhookCapture records incoming webhook deliveries for assertions.
type webhookCapture struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (c *webhookCapture) handler(w http.ResponseWriter, r *http.Request) {
	bodyBytes, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(bodyBytes, &body)

	c.mu.Lock()
	c.requests = append(c.requests, capturedRequest{
		contentType: r.Header.Get("Content-Type"),
		body:        body,
	})
	status := c.status
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (c *webhookCapture) captured() []capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func webhookConfig(url string) *config.Config {
	cfg := config.NewConfig()
	cfg.Swell.Alerting.Enabled = true
	cfg.Swell.Alerting.WebhookURL = url
	cfg.Swell.Alerting.TimeoutSeconds = 2
	return cfg
}

func TestNotifyExecutionCompletionPostsTerminalState(t *testing.T) {
	capture := &webhookCapture{}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	notifier := notification.NewWebhookNotifier(webhookConfig(server.URL))

	execution := model.NewBatchExecution("settlement", "CORE", "CORE:SETTLEMENT:20250815:W1", "corr-w", model.NewSubmissionParameters())
	execution.MarkAsStarted()
	execution.MarkAsCompleted()
	notifier.NotifyExecutionCompletion(context.Background(), execution)

	requests := capture.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, "application/json", requests[0].contentType)
	assert.Equal(t, "execution_completion", requests[0].body["event"])
	assert.Equal(t, execution.ID, requests[0].body["executionId"])
	assert.Equal(t, "settlement", requests[0].body["jobName"])
	assert.Equal(t, string(model.BatchStatusCompleted), requests[0].body["status"])
	assert.Equal(t, string(model.ExitStatusCompleted), requests[0].body["exitStatus"])
}

func TestNotifyAlertPostsViolationDetails(t *testing.T) {
	capture := &webhookCapture{}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	notifier := notification.NewWebhookNotifier(webhookConfig(server.URL))

	notifier.NotifyAlert(context.Background(), "exec-w2", model.Alert{
		Name:        "error_rate",
		Severity:    model.AlertSeverityWarning,
		Message:     "error rate 7.5% exceeds 5.0%",
		MetricValue: 7.5,
		Threshold:   5.0,
		RaisedAt:    time.Now(),
	})

	requests := capture.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, "alert_raised", requests[0].body["event"])
	assert.Equal(t, "exec-w2", requests[0].body["executionId"])
	assert.Equal(t, "error_rate", requests[0].body["name"])
	assert.Equal(t, string(model.AlertSeverityWarning), requests[0].body["severity"])
	assert.Equal(t, 7.5, requests[0].body["metricValue"])
}

func TestErrorResponsesAreSwallowed(t *testing.T) {
	capture := &webhookCapture{status: http.StatusInternalServerError}
	server := httptest.NewServer(http.HandlerFunc(capture.handler))
	defer server.Close()

	notifier := notification.NewWebhookNotifier(webhookConfig(server.URL))

	// Delivery fails with a 500 but the notifier must not panic or block.
	notifier.NotifyAlert(context.Background(), "exec-w3", model.Alert{Name: "latency_p95"})
	require.Len(t, capture.captured(), 1)
}

func TestUnreachableEndpointIsSwallowed(t *testing.T) {
	notifier := notification.NewWebhookNotifier(webhookConfig("http://127.0.0.1:1/webhook"))
	notifier.NotifyAlert(context.Background(), "exec-w4", model.Alert{Name: "error_rate"})
}

func TestNewFxNotifierSelectsImplementationFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	_, isLogging := notification.NewFxNotifier(cfg).(*notification.LoggingNotifier)
	assert.True(t, isLogging)

	cfg = webhookConfig("http://localhost:9/hook")
	_, isWebhook := notification.NewFxNotifier(cfg).(*notification.WebhookNotifier)
	assert.True(t, isWebhook)
}
