package metrics

import (
	"context"
	"sync"
	"time"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type            string
	Execution       *model.BatchExecution
	Partition       *model.Partition
	PartitionResult *model.PartitionResult
	JobName         string
	Verdict         model.AdmitVerdict
	TransactionType string
	Outcome         model.OutcomeStatus
	State           model.MergeState
	Alert           model.Alert
	ExecutionID     string
	Count           int
	ExpiredCount    int64
	Name            string
	Duration        time.Duration
	Tags            map[string]string
}

// Metric event type constants
const (
	MetricEventTypeExecutionStart = "execution_start"
	MetricEventTypeExecutionEnd   = "execution_end"
	MetricEventTypeAdmitDecision  = "admit_decision"
	MetricEventTypePartitionStart = "partition_start"
	MetricEventTypePartitionEnd   = "partition_end"
	MetricEventTypeRecordOutcome  = "record_outcome"
	MetricEventTypeStagingWrite   = "staging_write"
	MetricEventTypeMergeFinalized = "merge_finalized"
	MetricEventTypeLeaseExpired   = "lease_expired"
	MetricEventTypeAlertRaised    = "alert_raised"
	MetricEventTypeRecordDuration = "record_duration"
)

// AsyncMetricRecorder asynchronously records metrics by pushing events to a
// channel and processing them in a separate goroutine. A full queue drops the
// event rather than blocking the pipeline's hot path.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize: The buffer size for the event queue. If 0 or less, a default value is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

// run is the worker goroutine that reads events from the event queue and processes them with the synchronous recorder.
func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Upon receiving a stop signal, process all remaining events in the queue before exiting.
			remainingEvents := len(r.eventQueue)
			for i := 0; i < remainingEvents; i++ {
				event := <-r.eventQueue
				r.processEvent(event)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remainingEvents)
			return
		}
	}
}

// processEvent processes the received metric event.
func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	// The event payload does not carry the producer's context, so recording
	// happens under a background context.
	ctx := context.Background()
	switch event.Type {
	case MetricEventTypeExecutionStart:
		r.syncRecorder.RecordExecutionStart(ctx, event.Execution)
	case MetricEventTypeExecutionEnd:
		r.syncRecorder.RecordExecutionEnd(ctx, event.Execution)
	case MetricEventTypeAdmitDecision:
		r.syncRecorder.RecordAdmitDecision(ctx, event.JobName, event.Verdict)
	case MetricEventTypePartitionStart:
		r.syncRecorder.RecordPartitionStart(ctx, event.Partition)
	case MetricEventTypePartitionEnd:
		r.syncRecorder.RecordPartitionEnd(ctx, event.PartitionResult)
	case MetricEventTypeRecordOutcome:
		r.syncRecorder.RecordRecordOutcome(ctx, event.TransactionType, event.Outcome)
	case MetricEventTypeStagingWrite:
		r.syncRecorder.RecordStagingWrite(ctx, event.ExecutionID, event.Count)
	case MetricEventTypeMergeFinalized:
		r.syncRecorder.RecordMergeFinalized(ctx, event.State, event.Count)
	case MetricEventTypeLeaseExpired:
		r.syncRecorder.RecordLeaseExpired(ctx, event.ExpiredCount)
	case MetricEventTypeAlertRaised:
		r.syncRecorder.RecordAlertRaised(ctx, event.Alert)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.Name, event.Duration, event.Tags)
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close gracefully stops the recorder and processes all remaining events in the queue.
func (r *AsyncMetricRecorder) Close() {
	logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
	close(r.stopCh)
	r.wg.Wait()
	logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
}

// sendEvent sends an event to the queue, logging a warning if the queue is full.
func (r *AsyncMetricRecorder) sendEvent(event MetricEvent, id string) {
	select {
	case r.eventQueue <- event:
		// Event added to queue
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, ID: %s). Event discarded.", event.Type, id)
	}
}

// RecordExecutionStart asynchronously records the start event of a BatchExecution.
func (r *AsyncMetricRecorder) RecordExecutionStart(ctx context.Context, execution *model.BatchExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeExecutionStart, Execution: execution}, execution.ID)
}

// RecordExecutionEnd asynchronously records the end event of a BatchExecution.
func (r *AsyncMetricRecorder) RecordExecutionEnd(ctx context.Context, execution *model.BatchExecution) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeExecutionEnd, Execution: execution}, execution.ID)
}

// RecordAdmitDecision asynchronously records one admission verdict.
func (r *AsyncMetricRecorder) RecordAdmitDecision(ctx context.Context, jobName string, verdict model.AdmitVerdict) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeAdmitDecision, JobName: jobName, Verdict: verdict}, jobName)
}

// RecordPartitionStart asynchronously records the start event of one partition run.
func (r *AsyncMetricRecorder) RecordPartitionStart(ctx context.Context, partition *model.Partition) {
	r.sendEvent(MetricEvent{Type: MetricEventTypePartitionStart, Partition: partition}, partition.PartitionID)
}

// RecordPartitionEnd asynchronously records the end event of one partition run.
func (r *AsyncMetricRecorder) RecordPartitionEnd(ctx context.Context, result *model.PartitionResult) {
	r.sendEvent(MetricEvent{Type: MetricEventTypePartitionEnd, PartitionResult: result}, result.PartitionID)
}

// RecordRecordOutcome asynchronously records the result class of one processed record.
func (r *AsyncMetricRecorder) RecordRecordOutcome(ctx context.Context, transactionType string, outcome model.OutcomeStatus) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordOutcome, TransactionType: transactionType, Outcome: outcome}, transactionType)
}

// RecordStagingWrite asynchronously records a batch of staged records.
func (r *AsyncMetricRecorder) RecordStagingWrite(ctx context.Context, executionID string, count int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeStagingWrite, ExecutionID: executionID, Count: count}, executionID)
}

// RecordMergeFinalized asynchronously records a merge session reaching its terminal state.
func (r *AsyncMetricRecorder) RecordMergeFinalized(ctx context.Context, state model.MergeState, recordCount int) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeMergeFinalized, State: state, Count: recordCount}, string(state))
}

// RecordLeaseExpired asynchronously records leases reclaimed by the sweeper.
func (r *AsyncMetricRecorder) RecordLeaseExpired(ctx context.Context, count int64) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeLeaseExpired, ExpiredCount: count}, "sweeper")
}

// RecordAlertRaised asynchronously records one threshold violation.
func (r *AsyncMetricRecorder) RecordAlertRaised(ctx context.Context, alert model.Alert) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeAlertRaised, Alert: alert}, alert.Name)
}

// RecordDuration asynchronously records the execution time event of a specific operation.
func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(MetricEvent{Type: MetricEventTypeRecordDuration, Name: name, Duration: duration, Tags: tags}, name)
}

// Ensures AsyncMetricRecorder implements the metrics.MetricRecorder interface at compile time.
var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is a helper function for use with fx.Decorate.
// It takes fx.Lifecycle and config.Config and calls AsyncMetricRecorder.Close() on shutdown.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	bufferSize := cfg.Swell.Batch.MetricsAsyncBufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}
	asyncRecorder := NewAsyncMetricRecorder(bufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}
