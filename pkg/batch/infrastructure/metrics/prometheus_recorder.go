package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Execution Metrics
	executionDurationSeconds *prometheus.HistogramVec
	executionStatusCounter   *prometheus.CounterVec
	admitDecisionCounter     *prometheus.CounterVec

	// Partition Metrics
	partitionDurationSeconds *prometheus.HistogramVec
	partitionStatusCounter   *prometheus.CounterVec
	partitionTimeoutCounter  *prometheus.CounterVec

	// Record Metrics
	recordOutcomeCounter *prometheus.CounterVec

	// Merge Metrics
	stagingRecordCounter  prometheus.Counter
	mergeFinalizedCounter *prometheus.CounterVec
	mergeRecordCounter    *prometheus.CounterVec

	// Maintenance Metrics
	leaseExpiredCounter prometheus.Counter
	alertRaisedCounter  *prometheus.CounterVec

	// Generic operation durations recorded via RecordDuration.
	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		executionDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_execution_duration_seconds",
			Help:    "Duration of batch executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		executionStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_execution_status_total",
			Help: "Total number of batch executions by status.",
		}, []string{"job_name", "status"}),
		admitDecisionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_admit_decision_total",
			Help: "Total idempotency admission attempts by verdict.",
		}, []string{"job_name", "verdict"}),
		partitionDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_partition_duration_seconds",
			Help:    "Duration of partition runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transaction_type", "status"}),
		partitionStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_partition_status_total",
			Help: "Total number of partition runs by status.",
		}, []string{"transaction_type", "status"}),
		partitionTimeoutCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_partition_timeout_total",
			Help: "Total partition runs cut short by their deadline.",
		}, []string{"transaction_type"}),
		recordOutcomeCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_record_outcome_total",
			Help: "Total processed records by outcome class.",
		}, []string{"transaction_type", "outcome"}),
		stagingRecordCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_staging_records_total",
			Help: "Total transformed records written to staging.",
		}),
		mergeFinalizedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_merge_finalized_total",
			Help: "Total merge sessions finalized by terminal state.",
		}, []string{"state"}),
		mergeRecordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_merge_records_total",
			Help: "Total records carried by finalized merge sessions.",
		}, []string{"state"}),
		leaseExpiredCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batch_lease_expired_total",
			Help: "Total leases reclaimed by the sweeper.",
		}),
		alertRaisedCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_alert_raised_total",
			Help: "Total threshold violations raised by the monitor.",
		}, []string{"name", "severity"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of named engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.executionDurationSeconds)
	registry.MustRegister(r.executionStatusCounter)
	registry.MustRegister(r.admitDecisionCounter)
	registry.MustRegister(r.partitionDurationSeconds)
	registry.MustRegister(r.partitionStatusCounter)
	registry.MustRegister(r.partitionTimeoutCounter)
	registry.MustRegister(r.recordOutcomeCounter)
	registry.MustRegister(r.stagingRecordCounter)
	registry.MustRegister(r.mergeFinalizedCounter)
	registry.MustRegister(r.mergeRecordCounter)
	registry.MustRegister(r.leaseExpiredCounter)
	registry.MustRegister(r.alertRaisedCounter)
	registry.MustRegister(r.operationDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordExecutionStart records the start of a BatchExecution.
func (r *PrometheusRecorder) RecordExecutionStart(ctx context.Context, execution *model.BatchExecution) {
	r.executionStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Execution '%s' started.", execution.ID)
}

// RecordExecutionEnd records the end of a BatchExecution.
func (r *PrometheusRecorder) RecordExecutionEnd(ctx context.Context, execution *model.BatchExecution) {
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.executionDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Execution '%s' ended. Duration: %.3fs", execution.ID, duration)
}

// RecordAdmitDecision records the verdict of one idempotency admission attempt.
func (r *PrometheusRecorder) RecordAdmitDecision(ctx context.Context, jobName string, verdict model.AdmitVerdict) {
	r.admitDecisionCounter.WithLabelValues(jobName, string(verdict)).Inc()
	logger.Debugf("Metrics: Admission for job '%s' resolved as %s.", jobName, verdict)
}

// RecordPartitionStart records the start of one partition run.
func (r *PrometheusRecorder) RecordPartitionStart(ctx context.Context, partition *model.Partition) {
	r.partitionStatusCounter.WithLabelValues(partition.TransactionType, model.BatchStatusStarted.String()).Inc()
	logger.Debugf("Metrics: Partition '%s' started.", partition.PartitionID)
}

// RecordPartitionEnd records the end of one partition run with its aggregate counters.
func (r *PrometheusRecorder) RecordPartitionEnd(ctx context.Context, result *model.PartitionResult) {
	duration := float64(result.Metrics.DurationMs) / 1000.0

	r.partitionDurationSeconds.WithLabelValues(
		result.TransactionType,
		result.Status.String(),
	).Observe(duration)

	if result.TimedOut {
		r.partitionTimeoutCounter.WithLabelValues(result.TransactionType).Inc()
	}

	logger.Debugf("Metrics: Partition '%s' ended. Duration: %.3fs", result.PartitionID, duration)
}

// RecordRecordOutcome records the result class of one processed record.
func (r *PrometheusRecorder) RecordRecordOutcome(ctx context.Context, transactionType string, outcome model.OutcomeStatus) {
	r.recordOutcomeCounter.WithLabelValues(transactionType, outcome.String()).Inc()
}

// RecordStagingWrite records the successful staging of transformed records.
// The execution id is unbounded and therefore never used as a label.
func (r *PrometheusRecorder) RecordStagingWrite(ctx context.Context, executionID string, count int) {
	r.stagingRecordCounter.Add(float64(count))
}

// RecordMergeFinalized records a merge session reaching its terminal state.
func (r *PrometheusRecorder) RecordMergeFinalized(ctx context.Context, state model.MergeState, recordCount int) {
	r.mergeFinalizedCounter.WithLabelValues(string(state)).Inc()
	r.mergeRecordCounter.WithLabelValues(string(state)).Add(float64(recordCount))
	logger.Debugf("Metrics: Merge finalized as %s with %d records.", state, recordCount)
}

// RecordLeaseExpired records leases reclaimed by the sweeper.
func (r *PrometheusRecorder) RecordLeaseExpired(ctx context.Context, count int64) {
	r.leaseExpiredCounter.Add(float64(count))
	logger.Debugf("Metrics: %d expired leases reclaimed.", count)
}

// RecordAlertRaised records one threshold violation raised by the monitor.
// Alert names come from the fixed monitor rule set, so their cardinality is bounded.
func (r *PrometheusRecorder) RecordAlertRaised(ctx context.Context, alert model.Alert) {
	r.alertRaisedCounter.WithLabelValues(alert.Name, string(alert.Severity)).Inc()
	logger.Debugf("Metrics: Alert '%s' raised with severity %s.", alert.Name, alert.Severity)
}

// RecordDuration records the execution time of a specific operation.
// Tag sets vary per call site and Prometheus labels are fixed at registration,
// so only the duration name becomes a label.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
