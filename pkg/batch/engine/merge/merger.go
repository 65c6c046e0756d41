// Package merge implements the result merger: the single convergence point
// where partition results meet, gain their global sequence numbers, and are
// staged transactionally.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
	"github.com/tigerroll/swell/pkg/batch/engine/retry"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

const moduleName = "result_merger"

// stagingRetryableFaults names the driver faults a staging transaction may hit
// under concurrent isolation and survive on a retry: Postgres serialization
// and deadlock SQLSTATEs, the MySQL deadlock message, and SQLite's busy lock.
var stagingRetryableFaults = []string{
	"SQLSTATE 40001",
	"SQLSTATE 40P01",
	"Deadlock found",
	"database is locked",
}

// ResultMerger accumulates partition results per execution and finalizes each
// session exactly once: either on completion or, partially, on timeout.
type ResultMerger interface {
	// InitiateSession opens a merge session expecting the given number of
	// partition results and returns its session ID.
	InitiateSession(ctx context.Context, executionID string, expectedPartitionCount int) (string, error)
	// AddPartitionResult records one partition result against an open session.
	// Duplicate submissions for the same partitionId are idempotent: the result
	// is not double-counted and accepted is false. Reaching the expected count
	// triggers finalize on the submitting goroutine; the finalize error, if any,
	// is returned to that caller.
	AddPartitionResult(ctx context.Context, sessionID string, result *model.PartitionResult) (accepted bool, err error)
}

// DefaultResultMerger is the in-process implementation of ResultMerger. Its
// sessions are transient: an execution that dies before finalize resubmits
// under its idempotency key rather than resuming a half-merged session.
type DefaultResultMerger struct {
	repo           repository.StoreRepository
	txManager      tx.TransactionManager
	mergeListeners []port.MergeListener
	alertListeners []port.AlertListener
	recorder       metrics.MetricRecorder
	sessionTimeout time.Duration
	watchInterval  time.Duration
	stagingRetry   retry.RetryPolicy

	mu       sync.Mutex
	sessions map[string]*model.MergeSession

	watchMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ ResultMerger = (*DefaultResultMerger)(nil)

// NewDefaultResultMerger creates a new DefaultResultMerger.
func NewDefaultResultMerger(
	repo repository.StoreRepository,
	txManager tx.TransactionManager,
	cfg *config.Config,
	mergeListeners []port.MergeListener,
	alertListeners []port.AlertListener,
	recorder metrics.MetricRecorder,
) *DefaultResultMerger {
	sessionTimeout := time.Duration(cfg.Swell.Batch.Merge.SessionTimeoutSeconds) * time.Second
	if sessionTimeout <= 0 {
		sessionTimeout = 600 * time.Second
	}
	watchInterval := time.Duration(cfg.Swell.Batch.Merge.WatchdogIntervalSeconds) * time.Second
	if watchInterval <= 0 {
		watchInterval = 15 * time.Second
	}
	stagingRetry := retry.NewPolicy(
		cfg.Swell.Batch.Merge.StagingRetryAttempts,
		time.Duration(cfg.Swell.Batch.Merge.StagingRetryBackoffMs)*time.Millisecond,
		stagingRetryableFaults,
	)
	return &DefaultResultMerger{
		repo:           repo,
		txManager:      txManager,
		mergeListeners: mergeListeners,
		alertListeners: alertListeners,
		recorder:       recorder,
		sessionTimeout: sessionTimeout,
		watchInterval:  watchInterval,
		stagingRetry:   stagingRetry,
		sessions:       make(map[string]*model.MergeSession),
	}
}

// InitiateSession opens a session for one execution's partition fan-out.
func (m *DefaultResultMerger) InitiateSession(ctx context.Context, executionID string, expectedPartitionCount int) (string, error) {
	logger.Infof("ResultMerger: InitiateSession method called. Execution ID: %s, Expected partitions: %d",
		executionID, expectedPartitionCount)

	if expectedPartitionCount <= 0 {
		return "", exception.NewBatchError(moduleName,
			fmt.Sprintf("expected partition count must be positive, got %d", expectedPartitionCount), nil, false, false)
	}

	session := model.NewMergeSession(executionID, expectedPartitionCount, m.sessionTimeout)

	m.mu.Lock()
	m.sessions[session.SessionID] = session
	m.mu.Unlock()

	logger.Debugf("ResultMerger: Session %s opened for execution %s (deadline %s).",
		session.SessionID, executionID, session.Deadline.Format(time.RFC3339))
	return session.SessionID, nil
}

// AddPartitionResult records one partition result and finalizes the session
// when it just reached its expected count.
func (m *DefaultResultMerger) AddPartitionResult(ctx context.Context, sessionID string, result *model.PartitionResult) (bool, error) {
	logger.Debugf("ResultMerger: AddPartitionResult method called. Session ID: %s, Partition: %s, Status: %s",
		sessionID, result.PartitionID, result.Status)

	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false, exception.NewBatchError(moduleName,
			fmt.Sprintf("unknown merge session '%s'", sessionID), nil, false, false)
	}

	accepted, complete := session.Accept(result)
	if !accepted {
		// A result arriving after the session closed without it can never be
		// staged. That is data loss and must fail the caller, not vanish in a
		// debug log; the execution then fails and the key's retry budget covers
		// the rerun.
		if session.Missed(result.PartitionID) {
			return false, exception.NewBatchError(moduleName,
				fmt.Sprintf("session '%s' finalized without partition %s, %d outcomes arrived too late to be staged",
					sessionID, result.PartitionID, len(result.Outcomes)),
				exception.ErrSessionTimeout, false, false)
		}
		logger.Debugf("ResultMerger: Session %s did not accept partition %s (duplicate of a recorded partition).",
			sessionID, result.PartitionID)
	}

	// A duplicate arriving after the count was reached may still win the
	// finalize race; TryBeginFinalize keeps it exactly-once either way.
	if complete && session.TryBeginFinalize() {
		return accepted, m.finalize(ctx, session, model.MergeStateComplete)
	}
	return accepted, nil
}

// Start launches the session timeout watchdog. Calling Start on a running
// merger is a no-op.
func (m *DefaultResultMerger) Start(ctx context.Context) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	logger.Infof("ResultMerger: Session watchdog started. Interval: %s, Session timeout: %s",
		m.watchInterval, m.sessionTimeout)
	go m.watch(runCtx, done)
}

// Stop halts the watchdog and waits for the in-flight scan to finish.
func (m *DefaultResultMerger) Stop() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	logger.Infof("ResultMerger: Session watchdog stopped.")
}

func (m *DefaultResultMerger) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.finalizeExpiredSessions(ctx)
		}
	}
}

// finalizeExpiredSessions finalizes every open session past its deadline as
// PARTIAL and sweeps out the tombstones of sessions closed before this pass.
func (m *DefaultResultMerger) finalizeExpiredSessions(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	expired := make([]*model.MergeSession, 0)
	for id, session := range m.sessions {
		switch session.State() {
		case model.MergeStateOpen:
			if now.After(session.Deadline) {
				expired = append(expired, session)
			}
		case model.MergeStateFinalizing:
			// A finalize is in flight; it settles the session itself.
		default:
			// Tombstone of a partially finalized session, kept for one sweep
			// interval so stragglers get a classified answer.
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, session := range expired {
		if !session.TryBeginFinalize() {
			continue
		}
		logger.Warnf("ResultMerger: Session %s for execution %s timed out with %d of %d partitions. Finalizing partially.",
			session.SessionID, session.ExecutionID, session.ReceivedCount(), session.ExpectedPartitionCount)
		if err := m.finalize(ctx, session, model.MergeStatePartial); err != nil {
			logger.Errorf("ResultMerger: Partial finalize of session %s failed: %v", session.SessionID, err)
		}
	}
}

// SweepOnce runs a single watchdog scan immediately, independent of the
// periodic loop.
func (m *DefaultResultMerger) SweepOnce(ctx context.Context) {
	m.finalizeExpiredSessions(ctx)
}

// finalize walks the session's results in ascending partitionId, verifies the
// per-partition integrity accounting, assigns global sequence numbers to the
// successful outcomes, and stages them one transaction per partition, each
// under that partition's isolation level. The caller must have won
// TryBeginFinalize.
func (m *DefaultResultMerger) finalize(ctx context.Context, session *model.MergeSession, target model.MergeState) error {
	logger.Infof("ResultMerger: Finalizing session %s for execution %s. Target state: %s, Partitions: %d/%d",
		session.SessionID, session.ExecutionID, target, session.ReceivedCount(), session.ExpectedPartitionCount)

	start := time.Now()
	finalState := target
	defer func() {
		m.recorder.RecordDuration(ctx, "merge_finalize_time", time.Since(start), map[string]string{"state": string(finalState)})
	}()
	// A COMPLETE session has every partition accounted for, so nothing can
	// arrive for it anymore and it is dropped right away. A session closed
	// short of its expected count stays behind as a tombstone until the next
	// watchdog sweep, so that stragglers are answered with what happened to
	// their data instead of an unknown-session error.
	defer func() {
		if finalState == model.MergeStateComplete {
			m.removeSession(session.SessionID)
		}
	}()

	results := session.SnapshotResults()

	for _, result := range results {
		if err := verifyPartitionAccounting(result); err != nil {
			finalState = model.MergeStatePartial
			session.MarkFinalized(finalState)
			m.notifyFinalized(ctx, session, finalState, 0)
			return err
		}
	}

	correlationID := m.lookupCorrelationID(ctx, session.ExecutionID)

	seq := int64(0)
	stagedTotal := 0
	now := time.Now()
	for _, result := range results {
		batch := make([]*model.StagingRecord, 0, result.Metrics.SuccessCount)
		for _, outcome := range result.Outcomes {
			if outcome.Status != model.OutcomeSuccess {
				continue
			}
			seq++
			batch = append(batch, &model.StagingRecord{
				ExecutionID:       session.ExecutionID,
				TransactionTypeID: result.TransactionType,
				SequenceNumber:    seq,
				RecordID:          outcome.RecordID,
				Payload:           model.PayloadMap(outcome.TransformedPayload),
				ProcessingStatus:  outcome.Status,
				CorrelationID:     correlationID,
				CreatedAt:         now,
			})
		}
		if len(batch) == 0 {
			continue
		}

		if err := m.stagePartition(ctx, result, batch); err != nil {
			finalState = model.MergeStatePartial
			session.MarkFinalized(finalState)
			m.notifyFinalized(ctx, session, finalState, stagedTotal)
			return err
		}
		stagedTotal += len(batch)
	}

	session.MarkFinalized(target)
	m.notifyFinalized(ctx, session, target, stagedTotal)

	if target == model.MergeStatePartial {
		m.raiseTimeoutAlert(ctx, session)
	}

	logger.Infof("ResultMerger: Session %s finalized as %s. Staged records: %d", session.SessionID, target, stagedTotal)
	return nil
}

// stagePartition writes one partition's staging batch in a single transaction
// under the partition's configured isolation level. Transient driver faults,
// serialization races included, are retried under the staging retry policy
// before the partition's merge counts as failed.
func (m *DefaultResultMerger) stagePartition(ctx context.Context, result *model.PartitionResult, batch []*model.StagingRecord) error {
	opName := fmt.Sprintf("staging of partition %s", result.PartitionID)
	err := retry.Execute(ctx, m.stagingRetry, opName, func() error {
		return m.stageOnce(ctx, result, batch)
	})
	if err != nil {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to stage %d records for partition %s", len(batch), result.PartitionID), err, false, false)
	}
	m.recorder.RecordStagingWrite(ctx, result.ExecutionID, len(batch))
	logger.Debugf("ResultMerger: Staged %d records for partition %s (isolation: %s).",
		len(batch), result.PartitionID, result.IsolationLevel)
	return nil
}

// stageOnce runs a single staging attempt. Errors are returned unwrapped so
// the retry policy classifies the driver fault itself.
func (m *DefaultResultMerger) stageOnce(ctx context.Context, result *model.PartitionResult, batch []*model.StagingRecord) error {
	txn, err := m.txManager.Begin(ctx, txOptionsFor(result.IsolationLevel))
	if err != nil {
		return fmt.Errorf("begin staging transaction for partition %s: %w", result.PartitionID, err)
	}
	if err := m.repo.BulkInsertStagingRecords(ctx, txn, batch); err != nil {
		if rbErr := m.txManager.Rollback(txn); rbErr != nil {
			logger.Errorf("ResultMerger: Rollback of staging transaction for partition %s failed: %v", result.PartitionID, rbErr)
		}
		return fmt.Errorf("insert staging batch for partition %s: %w", result.PartitionID, err)
	}
	if err := m.txManager.Commit(txn); err != nil {
		return fmt.Errorf("commit staging transaction for partition %s: %w", result.PartitionID, err)
	}
	return nil
}

func (m *DefaultResultMerger) removeSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *DefaultResultMerger) notifyFinalized(ctx context.Context, session *model.MergeSession, state model.MergeState, stagedCount int) {
	m.recorder.RecordMergeFinalized(ctx, state, stagedCount)
	for _, l := range m.mergeListeners {
		l.OnSessionFinalized(ctx, session.ExecutionID, session.SessionID, state, stagedCount)
	}
}

func (m *DefaultResultMerger) raiseTimeoutAlert(ctx context.Context, session *model.MergeSession) {
	alert := model.Alert{
		Name:     "merge_session_timeout",
		Severity: model.AlertSeverityCritical,
		Message: fmt.Sprintf("merge session %s for execution %s finalized partially with %d of %d partitions",
			session.SessionID, session.ExecutionID, session.ReceivedCount(), session.ExpectedPartitionCount),
		MetricValue: float64(session.ReceivedCount()),
		Threshold:   float64(session.ExpectedPartitionCount),
		RaisedAt:    time.Now(),
	}
	m.recorder.RecordAlertRaised(ctx, alert)
	for _, l := range m.alertListeners {
		l.OnAlert(ctx, session.ExecutionID, alert)
	}
}

// lookupCorrelationID loads the execution's correlation ID for stamping onto
// staged records. A lookup failure degrades to an empty correlation ID rather
// than failing the merge.
func (m *DefaultResultMerger) lookupCorrelationID(ctx context.Context, executionID string) string {
	execution, err := m.repo.FindBatchExecutionByID(ctx, executionID)
	if err != nil {
		logger.Warnf("ResultMerger: Could not load execution %s for correlation ID: %v", executionID, err)
		return ""
	}
	return execution.CorrelationID
}

// verifyPartitionAccounting checks that every record the partition reports as
// processed is present as exactly one outcome: staged successes plus contained
// faults must equal the reported processed count. A mismatch means results
// were lost or duplicated between processing and merge, which is fatal.
func verifyPartitionAccounting(result *model.PartitionResult) error {
	staged := 0
	faults := 0
	for _, outcome := range result.Outcomes {
		if outcome.Status == model.OutcomeSuccess {
			staged++
		} else {
			faults++
		}
	}
	reported := result.Metrics.SuccessCount + result.Metrics.ValidationErrorCount + result.Metrics.FailureCount
	if staged+faults != reported {
		logger.Errorf("ResultMerger: Integrity violation in partition %s: %d staged + %d faults != %d reported.",
			result.PartitionID, staged, faults, reported)
		return exception.NewMergeIntegrityViolation(moduleName,
			fmt.Sprintf("partition %s accounting mismatch: %d staged + %d faults != %d reported processed",
				result.PartitionID, staged, faults, reported))
	}
	return nil
}

// txOptionsFor maps a partition's isolation level string onto sql.TxOptions.
// Unknown or empty levels fall back to the driver default.
func txOptionsFor(isolationLevel string) *sql.TxOptions {
	var level sql.IsolationLevel
	switch isolationLevel {
	case "READ_UNCOMMITTED":
		level = sql.LevelReadUncommitted
	case "READ_COMMITTED":
		level = sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		level = sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		level = sql.LevelRepeatableRead
	case "SERIALIZABLE":
		level = sql.LevelSerializable
	default:
		level = sql.LevelDefault
	}
	return &sql.TxOptions{Isolation: level}
}
