// Package monitor implements the performance monitor: fire-and-forget event
// ingestion, periodic system and business metric collection, and threshold
// alerting.
package monitor

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// PerformanceMonitor observes the pipeline without ever blocking it.
type PerformanceMonitor interface {
	// OnTransactionProcessed ingests one processed record event. The call never
	// blocks: when the buffer is full the event is dropped and counted.
	OnTransactionProcessed(event model.TransactionProcessedEvent)
	// ReportPoolSaturation updates the worker-pool saturation gauge from the
	// pipeline's active partition count against its cap.
	ReportPoolSaturation(activePartitions, limit int)
	// Dashboard returns an on-demand snapshot of system metrics, business KPIs
	// and currently active alerts.
	Dashboard() model.PerformanceSnapshot
}

// DefaultPerformanceMonitor consumes events on a single worker goroutine and
// evaluates alert thresholds each collection cycle. Counters are atomics so
// Dashboard never contends with ingestion.
type DefaultPerformanceMonitor struct {
	events chan model.TransactionProcessedEvent
	stopCh chan struct{}
	wg     sync.WaitGroup

	thresholds         config.ThresholdConfig
	collectionInterval time.Duration
	alertListeners     []port.AlertListener
	recorder           metrics.MetricRecorder
	startedAt          time.Time

	processed      atomic.Int64
	failed         atomic.Int64
	slaMet         atomic.Int64
	totalMs        atomic.Int64
	dropped        atomic.Int64
	poolSaturation atomic.Uint64 // float64 bits

	mu              sync.Mutex
	active          map[string]model.Alert
	droppedReported int64
}

var _ PerformanceMonitor = (*DefaultPerformanceMonitor)(nil)

// NewDefaultPerformanceMonitor creates the monitor and starts its worker
// goroutine. Close stops the worker and drains buffered events.
func NewDefaultPerformanceMonitor(
	cfg *config.Config,
	alertListeners []port.AlertListener,
	recorder metrics.MetricRecorder,
) *DefaultPerformanceMonitor {
	bufferSize := cfg.Swell.Batch.Monitor.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	interval := time.Duration(cfg.Swell.Batch.Monitor.CollectionIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m := &DefaultPerformanceMonitor{
		events:             make(chan model.TransactionProcessedEvent, bufferSize),
		stopCh:             make(chan struct{}),
		thresholds:         cfg.Swell.Batch.Monitor.Thresholds,
		collectionInterval: interval,
		alertListeners:     alertListeners,
		recorder:           recorder,
		startedAt:          time.Now(),
		active:             make(map[string]model.Alert),
	}
	m.wg.Add(1)
	go m.run()
	logger.Debugf("PerformanceMonitor: Worker goroutine started (buffer size: %d, interval: %s).", bufferSize, interval)
	return m
}

// OnTransactionProcessed enqueues one event without blocking.
func (m *DefaultPerformanceMonitor) OnTransactionProcessed(event model.TransactionProcessedEvent) {
	select {
	case m.events <- event:
	default:
		m.dropped.Add(1)
	}
}

// ReportPoolSaturation stores the current saturation percentage.
func (m *DefaultPerformanceMonitor) ReportPoolSaturation(activePartitions, limit int) {
	pct := 0.0
	if limit > 0 {
		pct = float64(activePartitions) / float64(limit) * 100
	}
	m.poolSaturation.Store(math.Float64bits(pct))
}

// Dashboard builds a fresh snapshot on demand.
func (m *DefaultPerformanceMonitor) Dashboard() model.PerformanceSnapshot {
	return m.buildSnapshot(time.Now())
}

// DroppedCount returns the number of events discarded on a full buffer.
func (m *DefaultPerformanceMonitor) DroppedCount() int64 {
	return m.dropped.Load()
}

// CollectOnce runs a single collection and threshold evaluation cycle
// immediately, independent of the periodic loop.
func (m *DefaultPerformanceMonitor) CollectOnce(ctx context.Context) {
	m.collect(ctx)
}

// Close stops the worker goroutine after draining buffered events.
func (m *DefaultPerformanceMonitor) Close() {
	close(m.stopCh)
	m.wg.Wait()
	logger.Debugf("PerformanceMonitor: Shutdown complete.")
}

func (m *DefaultPerformanceMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.collectionInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-m.events:
			m.ingest(event)
		case <-ticker.C:
			m.collect(context.Background())
		case <-m.stopCh:
			// Drain whatever was buffered before the stop signal.
			remaining := len(m.events)
			for i := 0; i < remaining; i++ {
				m.ingest(<-m.events)
			}
			return
		}
	}
}

func (m *DefaultPerformanceMonitor) ingest(event model.TransactionProcessedEvent) {
	m.processed.Add(1)
	m.totalMs.Add(event.ProcessingTimeMs)
	if event.Status != model.OutcomeSuccess {
		m.failed.Add(1)
	}
	if m.thresholds.SLATargetMs > 0 && event.ProcessingTimeMs <= int64(m.thresholds.SLATargetMs) {
		m.slaMet.Add(1)
	}
}

func (m *DefaultPerformanceMonitor) buildSnapshot(now time.Time) model.PerformanceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	processed := m.processed.Load()
	failed := m.failed.Load()

	business := model.BusinessMetrics{
		ProcessedTotal:   processed,
		FailedTotal:      failed,
		SuccessRatePct:   100,
		SLACompliancePct: 100,
	}
	if processed > 0 {
		business.SuccessRatePct = float64(processed-failed) / float64(processed) * 100
		business.AvgProcessingTimeMs = float64(m.totalMs.Load()) / float64(processed)
		if m.thresholds.SLATargetMs > 0 {
			business.SLACompliancePct = float64(m.slaMet.Load()) / float64(processed) * 100
		}
	}
	if elapsed := now.Sub(m.startedAt).Minutes(); elapsed > 0 {
		business.ThroughputPerMin = float64(processed) / elapsed
	}

	m.mu.Lock()
	alerts := make([]model.Alert, 0, len(m.active))
	for _, alert := range m.active {
		alerts = append(alerts, alert)
	}
	m.mu.Unlock()

	return model.PerformanceSnapshot{
		CollectedAt: now,
		System: model.SystemMetrics{
			HeapAllocBytes:    ms.HeapAlloc,
			HeapSysBytes:      ms.HeapSys,
			NumGoroutine:      runtime.NumGoroutine(),
			NumGC:             ms.NumGC,
			PoolSaturationPct: math.Float64frombits(m.poolSaturation.Load()),
		},
		Business:     business,
		ActiveAlerts: alerts,
	}
}

// collect evaluates thresholds against a fresh snapshot, raising new alerts
// and clearing subsided ones.
func (m *DefaultPerformanceMonitor) collect(ctx context.Context) {
	snapshot := m.buildSnapshot(time.Now())
	violations := m.evaluateThresholds(snapshot)

	m.mu.Lock()
	raised := make([]model.Alert, 0)
	current := make(map[string]struct{}, len(violations))
	for _, alert := range violations {
		current[alert.Name] = struct{}{}
		if _, ok := m.active[alert.Name]; !ok {
			m.active[alert.Name] = alert
			raised = append(raised, alert)
		}
	}
	for name := range m.active {
		if _, ok := current[name]; !ok {
			delete(m.active, name)
			logger.Infof("PerformanceMonitor: Alert %s cleared.", name)
		}
	}
	dropped := m.dropped.Load()
	droppedDelta := dropped - m.droppedReported
	m.droppedReported = dropped
	m.mu.Unlock()

	if droppedDelta > 0 {
		logger.Warnf("PerformanceMonitor: Event buffer overflowed. Dropped %d events since last cycle.", droppedDelta)
	}

	for _, alert := range raised {
		logger.Warnf("PerformanceMonitor: Alert %s raised. %s", alert.Name, alert.Message)
		m.recorder.RecordAlertRaised(ctx, alert)
		for _, l := range m.alertListeners {
			l.OnAlert(ctx, "", alert)
		}
	}
}

// evaluateThresholds returns the currently violated thresholds. A zero
// threshold disables its comparison; business floors need at least one
// observed event before they can fire.
func (m *DefaultPerformanceMonitor) evaluateThresholds(snapshot model.PerformanceSnapshot) []model.Alert {
	t := m.thresholds
	now := snapshot.CollectedAt
	violations := make([]model.Alert, 0)

	if t.HeapAllocMB > 0 {
		allocMB := float64(snapshot.System.HeapAllocBytes) / (1024 * 1024)
		if allocMB > float64(t.HeapAllocMB) {
			violations = append(violations, model.Alert{
				Name:        "heap_alloc_exceeded",
				Severity:    model.AlertSeverityWarning,
				Message:     fmt.Sprintf("heap allocation %.1f MB exceeds ceiling %d MB", allocMB, t.HeapAllocMB),
				MetricValue: allocMB,
				Threshold:   float64(t.HeapAllocMB),
				RaisedAt:    now,
			})
		}
	}
	if t.GoroutineCount > 0 && snapshot.System.NumGoroutine > t.GoroutineCount {
		violations = append(violations, model.Alert{
			Name:        "goroutine_count_exceeded",
			Severity:    model.AlertSeverityWarning,
			Message:     fmt.Sprintf("%d goroutines exceed ceiling %d", snapshot.System.NumGoroutine, t.GoroutineCount),
			MetricValue: float64(snapshot.System.NumGoroutine),
			Threshold:   float64(t.GoroutineCount),
			RaisedAt:    now,
		})
	}
	if t.PoolSaturationPct > 0 && snapshot.System.PoolSaturationPct > t.PoolSaturationPct {
		violations = append(violations, model.Alert{
			Name:        "pool_saturation_exceeded",
			Severity:    model.AlertSeverityWarning,
			Message:     fmt.Sprintf("worker pool saturation %.1f%% exceeds ceiling %.1f%%", snapshot.System.PoolSaturationPct, t.PoolSaturationPct),
			MetricValue: snapshot.System.PoolSaturationPct,
			Threshold:   t.PoolSaturationPct,
			RaisedAt:    now,
		})
	}

	if snapshot.Business.ProcessedTotal == 0 {
		return violations
	}
	if t.SuccessRateFloorPct > 0 && snapshot.Business.SuccessRatePct < t.SuccessRateFloorPct {
		violations = append(violations, model.Alert{
			Name:        "success_rate_below_floor",
			Severity:    model.AlertSeverityCritical,
			Message:     fmt.Sprintf("success rate %.1f%% is below floor %.1f%%", snapshot.Business.SuccessRatePct, t.SuccessRateFloorPct),
			MetricValue: snapshot.Business.SuccessRatePct,
			Threshold:   t.SuccessRateFloorPct,
			RaisedAt:    now,
		})
	}
	if t.SLATargetMs > 0 && t.SLAComplianceFloorPct > 0 && snapshot.Business.SLACompliancePct < t.SLAComplianceFloorPct {
		violations = append(violations, model.Alert{
			Name:        "sla_compliance_below_floor",
			Severity:    model.AlertSeverityCritical,
			Message:     fmt.Sprintf("SLA compliance %.1f%% (target %d ms) is below floor %.1f%%", snapshot.Business.SLACompliancePct, t.SLATargetMs, t.SLAComplianceFloorPct),
			MetricValue: snapshot.Business.SLACompliancePct,
			Threshold:   t.SLAComplianceFloorPct,
			RaisedAt:    now,
		})
	}
	return violations
}
