package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
)

type explorerFixture struct {
	repo     *inmemory.InMemoryStoreRepository
	explorer *usecase.DefaultExecutionExplorer
	older    *model.BatchExecution
	newer    *model.BatchExecution
	other    *model.BatchExecution
}

func newExplorerFixture(t *testing.T) *explorerFixture {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewInMemoryStoreRepository()

	params := model.NewSubmissionParameters()
	params.Params["region"] = "EU"

	older := model.NewBatchExecution("settlement", "CORE", "CORE:SETTLEMENT:20250815:X1", "corr-old", params)
	older.CreateTime = older.CreateTime.Add(-time.Hour)
	require.NoError(t, repo.SaveBatchExecution(ctx, older))

	newer := model.NewBatchExecution("settlement", "CORE", "CORE:SETTLEMENT:20250815:X1", "corr-new", model.NewSubmissionParameters())
	require.NoError(t, repo.SaveBatchExecution(ctx, newer))

	other := model.NewBatchExecution("reconciliation", "CORE", "CORE:RECON:20250815:Y1", "corr-other", model.NewSubmissionParameters())
	require.NoError(t, repo.SaveBatchExecution(ctx, other))

	staged := make([]*model.StagingRecord, 0, 3)
	for i := 1; i <= 3; i++ {
		staged = append(staged, &model.StagingRecord{
			ExecutionID:       newer.ID,
			TransactionTypeID: "WIRE",
			SequenceNumber:    int64(i),
			RecordID:          model.NewID(),
			Payload:           model.PayloadMap{"amount": "100"},
			ProcessingStatus:  model.OutcomeSuccess,
			CorrelationID:     "corr-new",
			CreatedAt:         time.Now(),
		})
	}
	require.NoError(t, repo.BulkInsertStagingRecords(ctx, nil, staged))

	require.NoError(t, repo.AppendAuditEvent(ctx, model.NewAuditEvent(newer.ID, "corr-new", model.AuditExecutionStarted, true)))
	require.NoError(t, repo.AppendAuditEvent(ctx, model.NewAuditEvent(newer.ID, "corr-new", model.AuditExecutionEnded, true)))

	return &explorerFixture{
		repo:     repo,
		explorer: usecase.NewDefaultExecutionExplorer(repo),
		older:    older,
		newer:    newer,
		other:    other,
	}
}

func TestGetExecution_ReturnsStoredExecution(t *testing.T) {
	f := newExplorerFixture(t)

	execution, err := f.explorer.GetExecution(context.Background(), f.newer.ID)
	require.NoError(t, err)
	assert.Equal(t, f.newer.ID, execution.ID)
	assert.Equal(t, "settlement", execution.JobName)

	_, err = f.explorer.GetExecution(context.Background(), "exec-missing")
	assert.Error(t, err)
}

func TestGetExecutionsByJobName_NewestFirstWithLimit(t *testing.T) {
	f := newExplorerFixture(t)

	all, err := f.explorer.GetExecutionsByJobName(context.Background(), "settlement", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, f.newer.ID, all[0].ID)
	assert.Equal(t, f.older.ID, all[1].ID)

	limited, err := f.explorer.GetExecutionsByJobName(context.Background(), "settlement", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, f.newer.ID, limited[0].ID)
}

func TestGetLastExecutionByKey_PicksMostRecent(t *testing.T) {
	f := newExplorerFixture(t)

	latest, err := f.explorer.GetLastExecutionByKey(context.Background(), "CORE:SETTLEMENT:20250815:X1")
	require.NoError(t, err)
	assert.Equal(t, f.newer.ID, latest.ID)
}

func TestGetJobNames_ListsDistinctJobs(t *testing.T) {
	f := newExplorerFixture(t)

	names, err := f.explorer.GetJobNames(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"settlement", "reconciliation"}, names)
}

func TestGetParameters_ReturnsSubmissionParameters(t *testing.T) {
	f := newExplorerFixture(t)

	params, err := f.explorer.GetParameters(context.Background(), f.older.ID)
	require.NoError(t, err)
	assert.Equal(t, "EU", params.Params["region"])
}

func TestGetStagingRecords_InclusiveRange(t *testing.T) {
	f := newExplorerFixture(t)

	window, err := f.explorer.GetStagingRecords(context.Background(), f.newer.ID, 2, 3)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(2), window[0].SequenceNumber)
	assert.Equal(t, int64(3), window[1].SequenceNumber)

	// A zero upper bound means everything from fromSeq onward.
	unbounded, err := f.explorer.GetStagingRecords(context.Background(), f.newer.ID, 1, 0)
	require.NoError(t, err)
	assert.Len(t, unbounded, 3)
}

func TestGetAuditTrail_InRecordingOrder(t *testing.T) {
	f := newExplorerFixture(t)

	events, err := f.explorer.GetAuditTrail(context.Background(), f.newer.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.AuditExecutionStarted, events[0].EventType)
	assert.Equal(t, model.AuditExecutionEnded, events[1].EventType)
}
