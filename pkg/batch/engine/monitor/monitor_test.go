package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
)

type recordedAlert struct {
	executionID string
	alert       model.Alert
}

type capturingAlertListener struct {
	mu      sync.Mutex
	records []recordedAlert
}

func (l *capturingAlertListener) OnAlert(_ context.Context, executionID string, alert model.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordedAlert{executionID, alert})
}

func (l *capturingAlertListener) snapshot() []recordedAlert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedAlert(nil), l.records...)
}

// newMonitorConfig disables every threshold and stretches the collection
// interval so only explicit CollectOnce calls evaluate alerts. Tests enable
// the thresholds they exercise.
func newMonitorConfig(mutate func(*config.ThresholdConfig)) *config.Config {
	cfg := config.NewConfig()
	cfg.Swell.Batch.Monitor.BufferSize = 256
	cfg.Swell.Batch.Monitor.CollectionIntervalSeconds = 3600
	cfg.Swell.Batch.Monitor.Thresholds = config.ThresholdConfig{}
	if mutate != nil {
		mutate(&cfg.Swell.Batch.Monitor.Thresholds)
	}
	return cfg
}

func processedEvent(status model.OutcomeStatus, processingMs int64) model.TransactionProcessedEvent {
	return model.TransactionProcessedEvent{
		ExecutionID:      "exec-1",
		TransactionType:  "WIRE",
		Status:           status,
		ProcessingTimeMs: processingMs,
	}
}

func waitForProcessed(t *testing.T, m *monitor.DefaultPerformanceMonitor, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Dashboard().Business.ProcessedTotal == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMonitor_IngestsEventsAndComputesBusinessMetrics(t *testing.T) {
	cfg := newMonitorConfig(func(th *config.ThresholdConfig) { th.SLATargetMs = 200 })
	m := monitor.NewDefaultPerformanceMonitor(cfg, nil, metrics.NewNoOpMetricRecorder())
	defer m.Close()

	for i := 0; i < 8; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 150))
	}
	for i := 0; i < 2; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeFailure, 300))
	}
	waitForProcessed(t, m, 10)

	dash := m.Dashboard()
	assert.Equal(t, int64(10), dash.Business.ProcessedTotal)
	assert.Equal(t, int64(2), dash.Business.FailedTotal)
	assert.InDelta(t, 80.0, dash.Business.SuccessRatePct, 0.01)
	assert.InDelta(t, 180.0, dash.Business.AvgProcessingTimeMs, 0.01)
	assert.InDelta(t, 80.0, dash.Business.SLACompliancePct, 0.01)
	assert.Positive(t, dash.System.NumGoroutine)
	assert.Positive(t, dash.System.HeapAllocBytes)
}

func TestMonitor_CloseDrainsBufferedEvents(t *testing.T) {
	cfg := newMonitorConfig(nil)
	m := monitor.NewDefaultPerformanceMonitor(cfg, nil, metrics.NewNoOpMetricRecorder())

	for i := 0; i < 50; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 10))
	}
	m.Close()

	assert.Equal(t, int64(50), m.Dashboard().Business.ProcessedTotal)
	assert.Zero(t, m.DroppedCount())
}

func TestMonitor_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	cfg := newMonitorConfig(nil)
	cfg.Swell.Batch.Monitor.BufferSize = 1
	m := monitor.NewDefaultPerformanceMonitor(cfg, nil, metrics.NewNoOpMetricRecorder())
	m.Close()

	// With the worker stopped nothing consumes the buffer; only one event fits.
	for i := 0; i < 10; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 10))
	}
	assert.Equal(t, int64(9), m.DroppedCount())
}

func TestMonitor_RaisesAndClearsSuccessRateAlert(t *testing.T) {
	cfg := newMonitorConfig(func(th *config.ThresholdConfig) { th.SuccessRateFloorPct = 90 })
	listener := &capturingAlertListener{}
	m := monitor.NewDefaultPerformanceMonitor(cfg, []port.AlertListener{listener}, metrics.NewNoOpMetricRecorder())
	defer m.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 10))
		m.OnTransactionProcessed(processedEvent(model.OutcomeFailure, 10))
	}
	waitForProcessed(t, m, 10)

	m.CollectOnce(ctx)
	records := listener.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "success_rate_below_floor", records[0].alert.Name)
	assert.Equal(t, model.AlertSeverityCritical, records[0].alert.Severity)
	assert.Empty(t, records[0].executionID)

	dash := m.Dashboard()
	require.Len(t, dash.ActiveAlerts, 1)
	assert.Equal(t, "success_rate_below_floor", dash.ActiveAlerts[0].Name)

	// A still-violated threshold is not re-raised on the next cycle.
	m.CollectOnce(ctx)
	assert.Len(t, listener.snapshot(), 1)

	// Enough successes lift the rate above the floor and the alert clears.
	for i := 0; i < 90; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 10))
	}
	waitForProcessed(t, m, 100)
	m.CollectOnce(ctx)

	assert.Empty(t, m.Dashboard().ActiveAlerts)
	assert.Len(t, listener.snapshot(), 1)
}

func TestMonitor_PoolSaturationGaugeAndAlert(t *testing.T) {
	cfg := newMonitorConfig(func(th *config.ThresholdConfig) { th.PoolSaturationPct = 80 })
	listener := &capturingAlertListener{}
	m := monitor.NewDefaultPerformanceMonitor(cfg, []port.AlertListener{listener}, metrics.NewNoOpMetricRecorder())
	defer m.Close()
	ctx := context.Background()

	m.ReportPoolSaturation(4, 4)
	assert.InDelta(t, 100.0, m.Dashboard().System.PoolSaturationPct, 0.01)

	m.CollectOnce(ctx)
	records := listener.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "pool_saturation_exceeded", records[0].alert.Name)
	assert.Equal(t, model.AlertSeverityWarning, records[0].alert.Severity)

	m.ReportPoolSaturation(1, 4)
	m.CollectOnce(ctx)
	assert.Empty(t, m.Dashboard().ActiveAlerts)
}

func TestMonitor_SLAComplianceFloorAlert(t *testing.T) {
	cfg := newMonitorConfig(func(th *config.ThresholdConfig) {
		th.SLATargetMs = 100
		th.SLAComplianceFloorPct = 90
	})
	listener := &capturingAlertListener{}
	m := monitor.NewDefaultPerformanceMonitor(cfg, []port.AlertListener{listener}, metrics.NewNoOpMetricRecorder())
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 50))
		m.OnTransactionProcessed(processedEvent(model.OutcomeSuccess, 500))
	}
	waitForProcessed(t, m, 10)

	m.CollectOnce(context.Background())
	records := listener.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "sla_compliance_below_floor", records[0].alert.Name)
	assert.InDelta(t, 50.0, records[0].alert.MetricValue, 0.01)
}

func TestMonitor_GoroutineCeilingAlert(t *testing.T) {
	cfg := newMonitorConfig(func(th *config.ThresholdConfig) { th.GoroutineCount = 1 })
	listener := &capturingAlertListener{}
	m := monitor.NewDefaultPerformanceMonitor(cfg, []port.AlertListener{listener}, metrics.NewNoOpMetricRecorder())
	defer m.Close()

	m.CollectOnce(context.Background())
	records := listener.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "goroutine_count_exceeded", records[0].alert.Name)
}

func TestMonitor_DisabledThresholdsRaiseNothing(t *testing.T) {
	cfg := newMonitorConfig(nil)
	listener := &capturingAlertListener{}
	m := monitor.NewDefaultPerformanceMonitor(cfg, []port.AlertListener{listener}, metrics.NewNoOpMetricRecorder())
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.OnTransactionProcessed(processedEvent(model.OutcomeFailure, 10_000))
	}
	waitForProcessed(t, m, 10)

	m.CollectOnce(context.Background())
	assert.Empty(t, listener.snapshot())
	assert.Empty(t, m.Dashboard().ActiveAlerts)
}
