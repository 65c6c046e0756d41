package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	identity "github.com/tigerroll/swell/pkg/batch/core/identity"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	merge "github.com/tigerroll/swell/pkg/batch/engine/merge"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
	partition "github.com/tigerroll/swell/pkg/batch/engine/partition"
	processor "github.com/tigerroll/swell/pkg/batch/engine/processor"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// Submission carries one unit of work handed to the engine: the identity
// material of the submission plus its already-extracted source records.
type Submission struct {
	identity.SubmissionRequest
	Records []*model.SourceRecord
	// ThreadHint lowers the concurrently-active-partition cap for this
	// submission. Zero means the configured cap applies unchanged.
	ThreadHint int
}

// SubmissionResult pairs the admission verdict with the execution it spawned.
// Execution is only set for a PROCEED verdict; for CACHED the summary of the
// earlier run is in Decision.CachedResult.
type SubmissionResult struct {
	Decision  *model.AdmitDecision
	Execution *model.BatchExecution
}

// ExecutionSummary is the compact result of a finished execution. It is
// cached by the coordinator and served verbatim to duplicate submissions.
type ExecutionSummary struct {
	ExecutionID      string `json:"executionId"`
	JobName          string `json:"jobName"`
	ExitStatus       string `json:"exitStatus"`
	TotalRecords     int    `json:"totalRecords"`
	StagedRecords    int    `json:"stagedRecords"`
	FailedRecords    int    `json:"failedRecords"`
	SkippedRecords   int    `json:"skippedRecords"`
	PartitionCount   int    `json:"partitionCount"`
	FailedPartitions int    `json:"failedPartitions"`
	DurationMs       int64  `json:"durationMs"`
}

// BatchLauncher is the submission entry point of the engine. Submit decides
// admission synchronously; an admitted execution then runs asynchronously and
// is observable through the ExecutionExplorer.
type BatchLauncher interface {
	// Submit derives the submission's identity, passes the admission gate and,
	// on a PROCEED verdict, starts the processing pipeline in the background.
	// The error returned here indicates a failure of the submission process
	// itself, not a failure of the execution it spawned.
	Submit(ctx context.Context, submission Submission) (*SubmissionResult, error)
}

// DefaultBatchLauncher implements BatchLauncher for in-process execution.
type DefaultBatchLauncher struct {
	repo               repository.StoreRepository
	keyGen             *identity.KeyGenerator
	coordinator        IdempotencyCoordinator
	planner            partition.Planner
	processor          processor.Processor
	merger             merge.ResultMerger
	monitor            monitor.PerformanceMonitor
	recorder           metrics.MetricRecorder
	executionListeners []port.ExecutionListener
	partitionListeners []port.PartitionListener
	defaultJobName     string
	// activeCancellations holds the cancel functions for running executions.
	activeCancellations map[string]context.CancelFunc
	mu                  sync.Mutex
}

var _ BatchLauncher = (*DefaultBatchLauncher)(nil)

// NewDefaultBatchLauncher creates a new DefaultBatchLauncher.
func NewDefaultBatchLauncher(
	repo repository.StoreRepository,
	keyGen *identity.KeyGenerator,
	coordinator IdempotencyCoordinator,
	planner partition.Planner,
	proc processor.Processor,
	merger merge.ResultMerger,
	perfMonitor monitor.PerformanceMonitor,
	recorder metrics.MetricRecorder,
	executionListeners []port.ExecutionListener,
	partitionListeners []port.PartitionListener,
	cfg *config.Config,
) *DefaultBatchLauncher {
	return &DefaultBatchLauncher{
		repo:                repo,
		keyGen:              keyGen,
		coordinator:         coordinator,
		planner:             planner,
		processor:           proc,
		merger:              merger,
		monitor:             perfMonitor,
		recorder:            recorder,
		executionListeners:  executionListeners,
		partitionListeners:  partitionListeners,
		defaultJobName:      cfg.Swell.Batch.JobName,
		activeCancellations: make(map[string]context.CancelFunc),
	}
}

// RegisterCancelFunc registers the cancel function for a running execution.
func (l *DefaultBatchLauncher) RegisterCancelFunc(executionID string, cancelFunc context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeCancellations[executionID] = cancelFunc
	logger.Debugf("Registered CancelFunc for BatchExecution (ID: %s).", executionID)
}

// UnregisterCancelFunc unregisters the cancel function for an execution.
func (l *DefaultBatchLauncher) UnregisterCancelFunc(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.activeCancellations[executionID]; ok {
		delete(l.activeCancellations, executionID)
		logger.Debugf("Unregistered CancelFunc for BatchExecution (ID: %s).", executionID)
	}
}

// GetCancelFunc retrieves the cancel function for the specified execution ID.
func (l *DefaultBatchLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancelFunc, ok := l.activeCancellations[executionID]
	return cancelFunc, ok
}

// Submit admits one submission and, on PROCEED, launches its pipeline.
func (l *DefaultBatchLauncher) Submit(ctx context.Context, submission Submission) (*SubmissionResult, error) {
	jobName := submission.JobName
	if jobName == "" {
		jobName = l.defaultJobName
	}
	submission.JobName = jobName
	logger.Infof("BatchLauncher: Submit method called. Job: %s, Source: %s, Records: %d", jobName, submission.SourceSystem, len(submission.Records))

	// 1. Derive the identity material of the submission.
	key, randomFallback := l.keyGen.GenerateKey(submission.SubmissionRequest)
	correlationID := l.keyGen.GenerateCorrelationID()

	execution := model.NewBatchExecution(jobName, submission.SourceSystem, key, correlationID, submission.Parameters)
	execution.BusinessDate = submission.BusinessDate

	// 2. Pass the admission gate. Losing the claim is a verdict, not an error.
	decision, err := l.coordinator.Admit(ctx, AdmitRequest{
		Key:            key,
		CorrelationID:  correlationID,
		ExecutionID:    execution.ID,
		RandomFallback: randomFallback,
	})
	if err != nil {
		return nil, exception.NewBatchError("batch_launcher", fmt.Sprintf("Submit processing error: Admission failed (Key: %s)", key), err, false, true)
	}
	l.recorder.RecordAdmitDecision(ctx, jobName, decision.Verdict)

	switch decision.Verdict {
	case model.AdmitCached:
		logger.Infof("BatchLauncher: Submission for key '%s' was already completed. Serving the cached result.", key)
		return &SubmissionResult{Decision: decision}, nil
	case model.AdmitRejectInProgress:
		logger.Infof("BatchLauncher: Submission for key '%s' is already being processed by another worker.", key)
		return &SubmissionResult{Decision: decision}, nil
	case model.AdmitRejectMaxRetries:
		logger.Warnf("BatchLauncher: Submission for key '%s' has exhausted its retry budget.", key)
		return &SubmissionResult{Decision: decision}, nil
	}

	// 3. Initial persistence of the execution before anything runs.
	if err := l.repo.SaveBatchExecution(ctx, execution); err != nil {
		l.releaseLease(ctx, decision.Lease, err)
		return nil, exception.NewBatchError("batch_launcher", fmt.Sprintf("Submit processing error: Failed to save BatchExecution initially (ID: %s)", execution.ID), err, false, true)
	}
	logger.Debugf("BatchLauncher: Initially saved BatchExecution (ID: %s, Status: %s).", execution.ID, execution.Status)

	// 4. Detach the pipeline from the submission call and start it.
	runCtx, cancel := context.WithCancel(ctx)
	execution.CancelFunc = cancel
	l.RegisterCancelFunc(execution.ID, cancel)

	go l.runPipeline(runCtx, execution, decision.Lease, submission.Records, submission.ThreadHint)

	return &SubmissionResult{Decision: decision, Execution: execution}, nil
}

// runPipeline drives one admitted execution to a terminal state. Whatever
// happens, the held lease is sealed through exactly one of Complete or Fail.
func (l *DefaultBatchLauncher) runPipeline(ctx context.Context, execution *model.BatchExecution, lease *model.Lease, records []*model.SourceRecord, threadHint int) {
	defer l.UnregisterCancelFunc(execution.ID)

	// Terminal bookkeeping must survive the cancellation that stopped the run.
	sealCtx := context.WithoutCancel(ctx)

	execution.MarkAsStarted()
	if err := l.repo.UpdateBatchExecution(ctx, execution); err != nil {
		l.finishFailed(sealCtx, execution, lease, exception.NewBatchError("batch_launcher", fmt.Sprintf("Pipeline processing error: Failed to mark BatchExecution as started (ID: %s)", execution.ID), err, false, true))
		return
	}
	l.recorder.RecordExecutionStart(ctx, execution)
	l.notifyBeforeExecution(ctx, execution)

	summary, runErr := l.runAdmitted(ctx, execution, records, threadHint)

	switch {
	case runErr == nil:
		l.finishCompleted(sealCtx, execution, lease, summary)
	case ctx.Err() != nil:
		l.finishStopped(sealCtx, execution, lease, runErr)
	default:
		l.finishFailed(sealCtx, execution, lease, runErr)
	}
}

// runAdmitted plans, fans out and merges one execution. It returns the result
// summary on success and an error describing the first terminal defect
// otherwise.
func (l *DefaultBatchLauncher) runAdmitted(ctx context.Context, execution *model.BatchExecution, records []*model.SourceRecord, threadHint int) (*ExecutionSummary, error) {
	started := time.Now()

	plan, err := l.planner.Plan(ctx, execution, records, threadHint)
	if err != nil {
		return nil, err
	}

	summary := &ExecutionSummary{
		ExecutionID:    execution.ID,
		JobName:        execution.JobName,
		TotalRecords:   len(records),
		SkippedRecords: plan.SkippedRecords,
	}

	if plan.IsEmpty() {
		logger.Infof("BatchLauncher: Execution %s has no processable records; completing as a no-op.", execution.ID)
		summary.ExitStatus = string(model.ExitStatusNoOp)
		summary.DurationMs = time.Since(started).Milliseconds()
		return summary, nil
	}

	sessionID, err := l.merger.InitiateSession(ctx, execution.ID, len(plan.Assignments))
	if err != nil {
		return nil, err
	}

	results, err := l.runPartitions(ctx, plan, sessionID)
	if err != nil {
		return nil, err
	}

	summary.PartitionCount = len(results)
	for _, result := range results {
		summary.StagedRecords += result.Metrics.SuccessCount
		summary.FailedRecords += result.Metrics.ValidationErrorCount + result.Metrics.FailureCount
		if result.Status != model.BatchStatusCompleted {
			summary.FailedPartitions++
			execution.AddFailureException(exception.NewBatchErrorf("batch_launcher", "partition %s failed: %s", result.PartitionID, result.FailureReason))
		}
	}
	summary.DurationMs = time.Since(started).Milliseconds()

	if summary.FailedPartitions > 0 {
		return nil, exception.NewBatchErrorf("batch_launcher", "%d of %d partition(s) of execution %s failed beyond their error threshold", summary.FailedPartitions, len(results), execution.ID)
	}

	summary.ExitStatus = string(model.ExitStatusCompleted)
	return summary, nil
}

// runPartitions fans the plan's assignments out onto goroutines bounded by
// the active-partition cap and feeds every finished partition to the merge
// session. Partition results whose error threshold held are not errors here;
// only processing and merge defects surface through the returned error.
func (l *DefaultBatchLauncher) runPartitions(ctx context.Context, plan *partition.PartitionPlan, sessionID string) ([]*model.PartitionResult, error) {
	sem := make(chan struct{}, plan.ActivePartitionCap)
	resultCh := make(chan *model.PartitionResult, len(plan.Assignments))
	errCh := make(chan error, len(plan.Assignments))
	var active atomic.Int32
	var wg sync.WaitGroup

	for _, assignment := range plan.Assignments {
		assignment := assignment
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			l.monitor.ReportPoolSaturation(int(active.Add(1)), plan.ActivePartitionCap)
			defer func() {
				l.monitor.ReportPoolSaturation(int(active.Add(-1)), plan.ActivePartitionCap)
				<-sem
			}()

			result, err := l.runOnePartition(ctx, assignment, sessionID)
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- result
		}()
	}

	wg.Wait()
	close(resultCh)
	close(errCh)

	var merr *multierror.Error
	for err := range errCh {
		merr = multierror.Append(merr, err)
	}
	results := make([]*model.PartitionResult, 0, len(plan.Assignments))
	for result := range resultCh {
		results = append(results, result)
	}
	return results, merr.ErrorOrNil()
}

// runOnePartition runs a single partition through the processor and hands the
// result to the merge session.
func (l *DefaultBatchLauncher) runOnePartition(ctx context.Context, assignment *partition.PartitionAssignment, sessionID string) (*model.PartitionResult, error) {
	p := assignment.Partition
	l.notifyBeforePartition(ctx, p)
	l.recorder.RecordPartitionStart(ctx, p)

	result, err := l.processor.Process(ctx, p, assignment.Records)
	if err != nil {
		return nil, err
	}

	l.recorder.RecordPartitionEnd(ctx, result)
	l.notifyAfterPartition(ctx, result)
	l.publishProcessedEvents(result)

	if _, err := l.merger.AddPartitionResult(ctx, sessionID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// finishCompleted seals the lease with the marshalled summary, then records
// the terminal state. The lease is sealed first so a COMPLETED execution
// always has a servable cached result; if sealing fails the execution is
// failed instead and the lease released for retry.
func (l *DefaultBatchLauncher) finishCompleted(ctx context.Context, execution *model.BatchExecution, lease *model.Lease, summary *ExecutionSummary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		l.finishFailed(ctx, execution, lease, exception.NewBatchError("batch_launcher", fmt.Sprintf("Pipeline processing error: Failed to marshal result summary (Execution ID: %s)", execution.ID), err, false, false))
		return
	}
	if err := l.coordinator.Complete(ctx, lease, payload); err != nil {
		l.finishFailed(ctx, execution, lease, err)
		return
	}

	if summary.ExitStatus == string(model.ExitStatusNoOp) {
		execution.MarkAsNoOp()
	} else {
		execution.MarkAsCompleted()
	}
	l.persistExecution(ctx, execution)
	l.recorder.RecordExecutionEnd(ctx, execution)
	l.notifyAfterExecution(ctx, execution)
	logger.Infof("BatchLauncher: Execution %s finished with exit status %s (staged: %d, failed: %d, skipped: %d).",
		execution.ID, execution.ExitStatus, summary.StagedRecords, summary.FailedRecords, summary.SkippedRecords)
}

// finishFailed releases the lease, consuming one retry from the key's budget,
// and records the FAILED terminal state.
func (l *DefaultBatchLauncher) finishFailed(ctx context.Context, execution *model.BatchExecution, lease *model.Lease, cause error) {
	logger.Errorf("BatchLauncher: Execution %s failed: %v", execution.ID, cause)
	execution.MarkAsFailed(cause)
	l.releaseLease(ctx, lease, cause)
	l.persistExecution(ctx, execution)
	l.recorder.RecordExecutionEnd(ctx, execution)
	l.notifyAfterExecution(ctx, execution)
}

// finishStopped records a STOPPED terminal state after an operator stop or a
// shutdown cancellation. The lease is released like a failure so the key can
// be resubmitted.
func (l *DefaultBatchLauncher) finishStopped(ctx context.Context, execution *model.BatchExecution, lease *model.Lease, cause error) {
	logger.Infof("BatchLauncher: Execution %s was stopped: %v", execution.ID, cause)
	if execution.Status == model.BatchStatusStarted {
		// The operator advanced the stored row to STOPPING; align this copy so
		// the STOPPED transition is a legal one.
		_ = execution.TransitionTo(model.BatchStatusStopping)
	}
	execution.MarkAsStopped()
	l.releaseLease(ctx, lease, cause)
	l.persistExecution(ctx, execution)
	l.recorder.RecordExecutionEnd(ctx, execution)
	l.notifyAfterExecution(ctx, execution)
}

// releaseLease returns a claimed lease after a failure so the key does not
// stay IN_PROGRESS until the sweeper reaps it.
func (l *DefaultBatchLauncher) releaseLease(ctx context.Context, lease *model.Lease, cause error) {
	if lease == nil {
		return
	}
	if err := l.coordinator.Fail(ctx, lease, cause); err != nil {
		logger.Errorf("BatchLauncher: Failed to release lease for key '%s': %v", lease.Key, err)
	}
}

// persistExecution writes the terminal state of an execution. When the stored
// row was concurrently advanced, typically by an operator marking it STOPPING,
// the fresh version is adopted and the write retried once so the terminal
// state still wins.
func (l *DefaultBatchLauncher) persistExecution(ctx context.Context, execution *model.BatchExecution) {
	err := l.repo.UpdateBatchExecution(ctx, execution)
	if err == nil {
		return
	}
	if errors.Is(err, exception.ErrOptimisticLockingFailure) {
		if fresh, findErr := l.repo.FindBatchExecutionByID(ctx, execution.ID); findErr == nil {
			execution.Version = fresh.Version
			if err = l.repo.UpdateBatchExecution(ctx, execution); err == nil {
				return
			}
		}
	}
	logger.Errorf("BatchLauncher: Failed to persist state of BatchExecution (ID: %s): %v", execution.ID, err)
}

// publishProcessedEvents feeds every record outcome to the performance
// monitor. Publication is fire-and-forget and never blocks the pipeline.
func (l *DefaultBatchLauncher) publishProcessedEvents(result *model.PartitionResult) {
	for _, outcome := range result.Outcomes {
		l.monitor.OnTransactionProcessed(model.TransactionProcessedEvent{
			ExecutionID:      result.ExecutionID,
			TransactionType:  result.TransactionType,
			Status:           outcome.Status,
			ProcessingTimeMs: outcome.ProcessingTimeMs,
		})
	}
}

func (l *DefaultBatchLauncher) notifyBeforeExecution(ctx context.Context, execution *model.BatchExecution) {
	for _, listener := range l.executionListeners {
		listener.BeforeExecution(ctx, execution)
	}
}

func (l *DefaultBatchLauncher) notifyAfterExecution(ctx context.Context, execution *model.BatchExecution) {
	for _, listener := range l.executionListeners {
		listener.AfterExecution(ctx, execution)
	}
}

func (l *DefaultBatchLauncher) notifyBeforePartition(ctx context.Context, p *model.Partition) {
	for _, listener := range l.partitionListeners {
		listener.BeforePartition(ctx, p)
	}
}

func (l *DefaultBatchLauncher) notifyAfterPartition(ctx context.Context, result *model.PartitionResult) {
	for _, listener := range l.partitionListeners {
		listener.AfterPartition(ctx, result)
	}
}
