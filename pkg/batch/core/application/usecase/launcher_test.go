package usecase_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/swell/pkg/batch/component/crypto"
	"github.com/tigerroll/swell/pkg/batch/component/rulebook"
	"github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	identity "github.com/tigerroll/swell/pkg/batch/core/identity"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
	merge "github.com/tigerroll/swell/pkg/batch/engine/merge"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
	partition "github.com/tigerroll/swell/pkg/batch/engine/partition"
	"github.com/tigerroll/swell/pkg/batch/engine/processor"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
)

const launcherRulebook = `
version: v1
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
  - transactionType: ACH
    processingOrder: 2
    active: true
fieldMappings:
  WIRE:
    - fieldName: amount
      targetField: amount
      targetPosition: 1
      validationRequired: true
  ACH:
    - fieldName: amount
      targetField: amount
      targetPosition: 1
      validationRequired: true
`

type launcherTx struct{}

func (t *launcherTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, nil
}

func (t *launcherTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, nil
}

func (t *launcherTx) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return 0, nil
}

func (t *launcherTx) IsTableNotExistError(err error) bool { return false }

type launcherTxManager struct{}

func (m *launcherTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	return &launcherTx{}, nil
}

func (m *launcherTxManager) Commit(t tx.Tx) error   { return nil }
func (m *launcherTxManager) Rollback(t tx.Tx) error { return nil }

// blockingProcessor parks every partition until its context is cancelled so
// tests can exercise the stop path deterministically.
type blockingProcessor struct {
	entered chan string
}

func (p *blockingProcessor) Process(ctx context.Context, part *model.Partition, records []*model.SourceRecord) (*model.PartitionResult, error) {
	select {
	case p.entered <- part.PartitionID:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

type launcherFixture struct {
	repo     *inmemory.InMemoryStoreRepository
	launcher *usecase.DefaultBatchLauncher
	operator *usecase.DefaultExecutionOperator
}

func newLauncherFixture(t *testing.T, rulebookYAML string, mutate func(cfg *config.Config)) *launcherFixture {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Swell.Batch.Monitor.CollectionIntervalSeconds = 3600
	if mutate != nil {
		mutate(cfg)
	}

	repo := inmemory.NewInMemoryStoreRepository()
	recorder := metrics.NewNoOpMetricRecorder()
	source := rulebook.NewYAMLRuleSource([]byte(rulebookYAML))
	cipher, err := crypto.NewAESFieldCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	coordinator := usecase.NewDefaultIdempotencyCoordinator(repo, cfg, nil)
	planner := partition.NewDefaultPlanner(source, cfg)
	proc := processor.NewPartitionProcessor(source, cipher, nil, recorder, metrics.NewNoOpTracer())
	merger := merge.NewDefaultResultMerger(repo, &launcherTxManager{}, cfg, nil, nil, recorder)
	perfMonitor := monitor.NewDefaultPerformanceMonitor(cfg, nil, recorder)
	t.Cleanup(perfMonitor.Close)

	launcher := usecase.NewDefaultBatchLauncher(repo, identity.NewKeyGenerator(), coordinator, planner, proc, merger, perfMonitor, recorder, nil, nil, cfg)
	operator := usecase.NewDefaultExecutionOperator(repo)
	operator.SetLauncher(launcher)

	return &launcherFixture{repo: repo, launcher: launcher, operator: operator}
}

func submission(clientKey string, records ...*model.SourceRecord) usecase.Submission {
	return usecase.Submission{
		SubmissionRequest: identity.SubmissionRequest{
			SourceSystem: "CORE",
			JobName:      "settlement",
			BusinessDate: "2025-08-15",
			ClientKey:    clientKey,
			Parameters:   model.NewSubmissionParameters(),
		},
		Records: records,
	}
}

func sourceRecord(id, transactionType, amount string) *model.SourceRecord {
	fields := map[string]string{}
	if amount != "" {
		fields["amount"] = amount
	}
	return &model.SourceRecord{RecordID: id, TransactionType: transactionType, Fields: fields}
}

func waitForFinished(t *testing.T, repo *inmemory.InMemoryStoreRepository, executionID string) *model.BatchExecution {
	t.Helper()
	var finished *model.BatchExecution
	require.Eventually(t, func() bool {
		execution, err := repo.FindBatchExecutionByID(context.Background(), executionID)
		if err != nil || !execution.Status.IsFinished() {
			return false
		}
		finished = execution
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return finished
}

func TestSubmit_ProcessesStagesAndCachesResult(t *testing.T) {
	f := newLauncherFixture(t, launcherRulebook, nil)
	ctx := context.Background()

	first, err := f.launcher.Submit(ctx, submission("ORDER-A",
		sourceRecord("w-1", "WIRE", "100"),
		sourceRecord("w-2", "WIRE", "250"),
		sourceRecord("a-1", "ACH", "75"),
	))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Decision.Verdict)
	require.NotNil(t, first.Execution)

	finished := waitForFinished(t, f.repo, first.Execution.ID)
	assert.Equal(t, model.BatchStatusCompleted, finished.Status)
	assert.Equal(t, model.ExitStatusCompleted, finished.ExitStatus)

	// Output is staged with contiguous sequence numbers, WIRE before ACH.
	staged, err := f.repo.FindStagingRecordsBySequenceRange(ctx, first.Execution.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, staged, 3)
	for i, rec := range staged {
		assert.Equal(t, int64(i+1), rec.SequenceNumber)
	}
	assert.Equal(t, "WIRE", staged[0].TransactionTypeID)
	assert.Equal(t, "WIRE", staged[1].TransactionTypeID)
	assert.Equal(t, "ACH", staged[2].TransactionTypeID)

	// The same key now short-circuits to the cached summary.
	second, err := f.launcher.Submit(ctx, submission("ORDER-A", sourceRecord("w-1", "WIRE", "100")))
	require.NoError(t, err)
	assert.Equal(t, model.AdmitCached, second.Decision.Verdict)
	assert.Nil(t, second.Execution)

	var summary usecase.ExecutionSummary
	require.NoError(t, json.Unmarshal(second.Decision.CachedResult, &summary))
	assert.Equal(t, first.Execution.ID, summary.ExecutionID)
	assert.Equal(t, string(model.ExitStatusCompleted), summary.ExitStatus)
	assert.Equal(t, 3, summary.StagedRecords)
	assert.Equal(t, 2, summary.PartitionCount)
	assert.Zero(t, summary.FailedRecords)
}

func TestSubmit_ThreeTypesStageContiguousPerTypeRuns(t *testing.T) {
	const threeTypeRulebook = `
version: v1
transactionTypes:
  - transactionType: WIRE
    processingOrder: 1
    active: true
  - transactionType: ACH
    processingOrder: 2
    active: true
  - transactionType: RTP
    processingOrder: 3
    active: true
fieldMappings:
  WIRE:
    - fieldName: amount
      targetField: amount
      targetPosition: 1
      validationRequired: true
  ACH:
    - fieldName: amount
      targetField: amount
      targetPosition: 1
      validationRequired: true
  RTP:
    - fieldName: amount
      targetField: amount
      targetPosition: 1
      validationRequired: true
`
	f := newLauncherFixture(t, threeTypeRulebook, nil)
	ctx := context.Background()

	records := make([]*model.SourceRecord, 0, 450)
	for i := 0; i < 100; i++ {
		records = append(records, sourceRecord(fmt.Sprintf("w-%03d", i), "WIRE", "100"))
	}
	for i := 0; i < 200; i++ {
		records = append(records, sourceRecord(fmt.Sprintf("a-%03d", i), "ACH", "200"))
	}
	for i := 0; i < 150; i++ {
		records = append(records, sourceRecord(fmt.Sprintf("r-%03d", i), "RTP", "150"))
	}

	first, err := f.launcher.Submit(ctx, submission("ORDER-VOLUME", records...))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Decision.Verdict)

	finished := waitForFinished(t, f.repo, first.Execution.ID)
	assert.Equal(t, model.BatchStatusCompleted, finished.Status)

	staged, err := f.repo.FindStagingRecordsBySequenceRange(ctx, first.Execution.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, staged, 450)

	// Sequences are gapless, and each type's records form one contiguous run
	// in processing order regardless of worker completion order.
	typeCounts := map[string]int{}
	runs := []string{}
	for i, rec := range staged {
		require.Equal(t, int64(i+1), rec.SequenceNumber)
		typeCounts[rec.TransactionTypeID]++
		if i == 0 || staged[i-1].TransactionTypeID != rec.TransactionTypeID {
			runs = append(runs, rec.TransactionTypeID)
		}
	}
	assert.Equal(t, []string{"WIRE", "ACH", "RTP"}, runs)
	assert.Equal(t, map[string]int{"WIRE": 100, "ACH": 200, "RTP": 150}, typeCounts)

	// The cached summary reflects one partition per type and the full volume.
	second, err := f.launcher.Submit(ctx, submission("ORDER-VOLUME", records...))
	require.NoError(t, err)
	require.Equal(t, model.AdmitCached, second.Decision.Verdict)

	var summary usecase.ExecutionSummary
	require.NoError(t, json.Unmarshal(second.Decision.CachedResult, &summary))
	assert.Equal(t, 3, summary.PartitionCount)
	assert.Equal(t, 450, summary.StagedRecords)
	assert.Zero(t, summary.FailedRecords)
}

func TestSubmit_ConcurrentDuplicatesAdmitOneWinner(t *testing.T) {
	f := newLauncherFixture(t, launcherRulebook, nil)
	ctx := context.Background()

	const attempts = 6
	results := make([]*usecase.SubmissionResult, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.launcher.Submit(ctx, submission("ORDER-DUP", sourceRecord("w-1", "WIRE", "100")))
		}()
	}
	wg.Wait()

	var winner *usecase.SubmissionResult
	proceeds := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		if results[i].Decision.Verdict == model.AdmitProceed {
			proceeds++
			winner = results[i]
		} else {
			assert.Contains(t, []model.AdmitVerdict{model.AdmitCached, model.AdmitRejectInProgress}, results[i].Decision.Verdict)
		}
	}
	require.Equal(t, 1, proceeds)

	finished := waitForFinished(t, f.repo, winner.Execution.ID)
	assert.Equal(t, model.BatchStatusCompleted, finished.Status)

	executions, err := f.repo.FindBatchExecutionsByJobName(ctx, "settlement", 0)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	staged, err := f.repo.FindStagingRecordsBySequenceRange(ctx, winner.Execution.ID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, staged, 1)
}

func TestSubmit_FailedPartitionFailsExecutionAndAllowsRetry(t *testing.T) {
	f := newLauncherFixture(t, launcherRulebook, nil)
	ctx := context.Background()

	// One of two WIRE records misses its required amount: a 50% error rate
	// breaches the default threshold and fails the partition.
	first, err := f.launcher.Submit(ctx, submission("ORDER-RETRY",
		sourceRecord("w-1", "WIRE", "100"),
		sourceRecord("w-2", "WIRE", ""),
	))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Decision.Verdict)

	failed := waitForFinished(t, f.repo, first.Execution.ID)
	assert.Equal(t, model.BatchStatusFailed, failed.Status)
	assert.Equal(t, model.ExitStatusFailed, failed.ExitStatus)
	assert.NotEmpty(t, failed.Failures)

	// Partial success: the record that processed cleanly is still staged.
	staged, err := f.repo.FindStagingRecordsBySequenceRange(ctx, first.Execution.ID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, staged, 1)

	// The retry budget lets a corrected resubmission win a fresh claim.
	second, err := f.launcher.Submit(ctx, submission("ORDER-RETRY",
		sourceRecord("w-1", "WIRE", "100"),
		sourceRecord("w-2", "WIRE", "200"),
	))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, second.Decision.Verdict)
	require.NotEqual(t, first.Execution.ID, second.Execution.ID)

	finished := waitForFinished(t, f.repo, second.Execution.ID)
	assert.Equal(t, model.BatchStatusCompleted, finished.Status)

	staged, err = f.repo.FindStagingRecordsBySequenceRange(ctx, second.Execution.ID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, staged, 2)
}

func TestSubmit_RejectsWhenRetryBudgetExhausted(t *testing.T) {
	f := newLauncherFixture(t, launcherRulebook, func(cfg *config.Config) {
		cfg.Swell.Batch.Idempotency.MaxRetries = 1
	})
	ctx := context.Background()

	first, err := f.launcher.Submit(ctx, submission("ORDER-BUDGET", sourceRecord("w-1", "WIRE", "")))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Decision.Verdict)
	waitForFinished(t, f.repo, first.Execution.ID)

	second, err := f.launcher.Submit(ctx, submission("ORDER-BUDGET", sourceRecord("w-1", "WIRE", "100")))
	require.NoError(t, err)
	assert.Equal(t, model.AdmitRejectMaxRetries, second.Decision.Verdict)
	assert.Nil(t, second.Execution)

	executions, err := f.repo.FindBatchExecutionsByJobName(ctx, "settlement", 0)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestSubmit_CompletesAsNoOpWhenNothingToProcess(t *testing.T) {
	const inactiveRulebook = `
version: v1
transactionTypes:
  - transactionType: CHECK
    processingOrder: 1
    active: false
fieldMappings: {}
`
	f := newLauncherFixture(t, inactiveRulebook, nil)
	ctx := context.Background()

	first, err := f.launcher.Submit(ctx, submission("ORDER-NOOP", sourceRecord("c-1", "CHECK", "10")))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Decision.Verdict)

	finished := waitForFinished(t, f.repo, first.Execution.ID)
	assert.Equal(t, model.BatchStatusCompleted, finished.Status)
	assert.Equal(t, model.ExitStatusNoOp, finished.ExitStatus)

	second, err := f.launcher.Submit(ctx, submission("ORDER-NOOP", sourceRecord("c-1", "CHECK", "10")))
	require.NoError(t, err)
	require.Equal(t, model.AdmitCached, second.Decision.Verdict)

	var summary usecase.ExecutionSummary
	require.NoError(t, json.Unmarshal(second.Decision.CachedResult, &summary))
	assert.Equal(t, string(model.ExitStatusNoOp), summary.ExitStatus)
	assert.Equal(t, 1, summary.SkippedRecords)
	assert.Zero(t, summary.StagedRecords)
}

func TestSubmit_NoDiscriminatorWaivesDeduplication(t *testing.T) {
	f := newLauncherFixture(t, launcherRulebook, nil)
	ctx := context.Background()

	sub := usecase.Submission{
		SubmissionRequest: identity.SubmissionRequest{
			SourceSystem: "CORE",
			JobName:      "settlement",
			BusinessDate: "2025-08-15",
			Parameters:   model.NewSubmissionParameters(),
		},
		Records: []*model.SourceRecord{sourceRecord("w-1", "WIRE", "100")},
	}

	first, err := f.launcher.Submit(ctx, sub)
	require.NoError(t, err)
	second, err := f.launcher.Submit(ctx, sub)
	require.NoError(t, err)

	assert.Equal(t, model.AdmitProceed, first.Decision.Verdict)
	assert.Equal(t, model.AdmitProceed, second.Decision.Verdict)
	assert.True(t, first.Decision.RandomFallback)
	assert.NotEqual(t, first.Execution.IdempotencyKey, second.Execution.IdempotencyKey)

	waitForFinished(t, f.repo, first.Execution.ID)
	waitForFinished(t, f.repo, second.Execution.ID)
}

func TestStop_CancelsRunningPipeline(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Swell.Batch.Monitor.CollectionIntervalSeconds = 3600

	repo := inmemory.NewInMemoryStoreRepository()
	recorder := metrics.NewNoOpMetricRecorder()
	source := rulebook.NewYAMLRuleSource([]byte(launcherRulebook))
	coordinator := usecase.NewDefaultIdempotencyCoordinator(repo, cfg, nil)
	planner := partition.NewDefaultPlanner(source, cfg)
	merger := merge.NewDefaultResultMerger(repo, &launcherTxManager{}, cfg, nil, nil, recorder)
	perfMonitor := monitor.NewDefaultPerformanceMonitor(cfg, nil, recorder)
	t.Cleanup(perfMonitor.Close)
	blocking := &blockingProcessor{entered: make(chan string, 4)}

	launcher := usecase.NewDefaultBatchLauncher(repo, identity.NewKeyGenerator(), coordinator, planner, blocking, merger, perfMonitor, recorder, nil, nil, cfg)
	operator := usecase.NewDefaultExecutionOperator(repo)
	operator.SetLauncher(launcher)

	ctx := context.Background()
	res, err := launcher.Submit(ctx, submission("ORDER-STOP", sourceRecord("w-1", "WIRE", "100")))
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, res.Decision.Verdict)

	// Stop only once a partition is actually parked in the processor.
	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the processor")
	}

	require.NoError(t, operator.Stop(ctx, res.Execution.ID))

	finished := waitForFinished(t, repo, res.Execution.ID)
	assert.Equal(t, model.BatchStatusStopped, finished.Status)
	assert.Equal(t, model.ExitStatusStopped, finished.ExitStatus)

	// The lease was released, so the key can be claimed again later.
	record, err := repo.FindIdempotencyRecordByKey(ctx, "ORDER-STOP")
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyStatusFailed, record.Status)

	// A finished execution can no longer be stopped.
	assert.Error(t, operator.Stop(ctx, res.Execution.ID))
}
