package archive_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/swell/pkg/batch/adapter/storage"
	"github.com/tigerroll/swell/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/swell/pkg/batch/component/archive"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
)

// providerResolver adapts a single storage provider into the resolver
// interface so the archiver can be exercised without the fx graph.
type providerResolver struct {
	provider storageAdapter.StorageProvider
}

func (r providerResolver) ResolveStorageConnection(ctx context.Context, name string) (storageAdapter.StorageConnection, error) {
	return r.provider.GetConnection(name)
}

func (r providerResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

func (r providerResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

type archiveStack struct {
	repo     repository.StoreRepository
	resolver storageAdapter.StorageConnectionResolver
	conn     storageAdapter.StorageConnection
}

func newArchiveStack(t *testing.T) *archiveStack {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Swell.StorageConfigs = map[string]interface{}{
		"archive": map[string]interface{}{
			"type":     "local",
			"base_dir": t.TempDir(),
		},
	}

	resolver := providerResolver{provider: local.NewLocalProvider(cfg)}
	conn, err := resolver.ResolveStorageConnection(context.Background(), "archive")
	require.NoError(t, err)

	return &archiveStack{
		repo:     inmemory.NewInMemoryStoreRepository(),
		resolver: resolver,
		conn:     conn,
	}
}

func (s *archiveStack) stage(t *testing.T, executionID string, seq int64, transactionType string) {
	t.Helper()
	record := &model.StagingRecord{
		ExecutionID:       executionID,
		TransactionTypeID: transactionType,
		SequenceNumber:    seq,
		RecordID:          "rec-" + transactionType,
		Payload:           model.PayloadMap{"amount": "100", "currency": "USD"},
		ProcessingStatus:  model.OutcomeSuccess,
		CorrelationID:     "corr-1",
		CreatedAt:         time.Now(),
	}
	require.NoError(t, s.repo.BulkInsertStagingRecords(context.Background(), nil, []*model.StagingRecord{record}))
}

func (s *archiveStack) listObjects(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, s.conn.ListObjects(context.Background(), "", "", func(objectName string) error {
		names = append(names, objectName)
		return nil
	}))
	return names
}

func newCompletedExecution(businessDate string) *model.BatchExecution {
	execution := model.NewBatchExecution("settlement", "core-banking", "key-1", "corr-1", model.NewSubmissionParameters())
	execution.BusinessDate = businessDate
	execution.MarkAsStarted()
	execution.MarkAsCompleted()
	return execution
}

func TestArchiveWritesOneObjectPerTransactionType(t *testing.T) {
	ctx := context.Background()
	stack := newArchiveStack(t)
	execution := newCompletedExecution("2025-08-20")

	stack.stage(t, execution.ID, 1, "WIRE_TRANSFER")
	stack.stage(t, execution.ID, 2, "WIRE_TRANSFER")
	stack.stage(t, execution.ID, 3, "ACH_PAYMENT")

	archiver, err := archive.NewStagingArchiver(config.ArchiveConfig{StorageRef: "archive"}, stack.repo, stack.resolver)
	require.NoError(t, err)

	result, err := archiver.Archive(ctx, execution)
	require.NoError(t, err)

	assert.Equal(t, 3, result.RecordCount)
	assert.Equal(t, []string{
		"staging-archive/dt=2025-08-20/type=ACH_PAYMENT/" + execution.ID + ".parquet",
		"staging-archive/dt=2025-08-20/type=WIRE_TRANSFER/" + execution.ID + ".parquet",
	}, result.ObjectNames)

	for _, objectName := range result.ObjectNames {
		reader, err := stack.conn.Download(ctx, "", objectName)
		require.NoError(t, err)
		content, err := io.ReadAll(reader)
		require.NoError(t, reader.Close())
		require.NoError(t, err)

		// Parquet files open and close with the PAR1 magic bytes.
		require.Greater(t, len(content), 8)
		assert.Equal(t, "PAR1", string(content[:4]))
		assert.Equal(t, "PAR1", string(content[len(content)-4:]))
	}
}

func TestArchiveWithoutStagedRecordsIsSkipped(t *testing.T) {
	stack := newArchiveStack(t)
	execution := newCompletedExecution("2025-08-20")

	archiver, err := archive.NewStagingArchiver(config.ArchiveConfig{StorageRef: "archive"}, stack.repo, stack.resolver)
	require.NoError(t, err)

	result, err := archiver.Archive(context.Background(), execution)
	require.NoError(t, err)

	assert.Zero(t, result.RecordCount)
	assert.Empty(t, result.ObjectNames)
	assert.Empty(t, stack.listObjects(t))
}

func TestArchiveOverwritesEarlierSnapshot(t *testing.T) {
	ctx := context.Background()
	stack := newArchiveStack(t)
	execution := newCompletedExecution("2025-08-20")
	stack.stage(t, execution.ID, 1, "WIRE_TRANSFER")

	archiver, err := archive.NewStagingArchiver(config.ArchiveConfig{StorageRef: "archive"}, stack.repo, stack.resolver)
	require.NoError(t, err)

	first, err := archiver.Archive(ctx, execution)
	require.NoError(t, err)
	second, err := archiver.Archive(ctx, execution)
	require.NoError(t, err)

	assert.Equal(t, first.ObjectNames, second.ObjectNames)
	assert.Len(t, stack.listObjects(t), 1)
}

func TestArchiveDateFallsBackToEndTime(t *testing.T) {
	ctx := context.Background()
	stack := newArchiveStack(t)
	execution := newCompletedExecution("")
	stack.stage(t, execution.ID, 1, "WIRE_TRANSFER")

	archiver, err := archive.NewStagingArchiver(config.ArchiveConfig{StorageRef: "archive"}, stack.repo, stack.resolver)
	require.NoError(t, err)

	result, err := archiver.Archive(ctx, execution)
	require.NoError(t, err)

	expectedDate := execution.EndTime.UTC().Format("2006-01-02")
	require.Len(t, result.ObjectNames, 1)
	assert.Equal(t, "staging-archive/dt="+expectedDate+"/type=WIRE_TRANSFER/"+execution.ID+".parquet", result.ObjectNames[0])
}

func TestArchiverConfigValidation(t *testing.T) {
	stack := newArchiveStack(t)

	_, err := archive.NewStagingArchiver(config.ArchiveConfig{}, stack.repo, stack.resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage_ref")

	_, err = archive.NewStagingArchiver(config.ArchiveConfig{StorageRef: "archive", CompressionType: "LZ4-TURBO"}, stack.repo, stack.resolver)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid compression type")
}

func TestPropertiesBindArchiverConfig(t *testing.T) {
	ctx := context.Background()
	stack := newArchiveStack(t)
	execution := newCompletedExecution("2025-08-20")
	stack.stage(t, execution.ID, 1, "WIRE_TRANSFER")

	archiver, err := archive.NewStagingArchiverFromProperties(map[string]interface{}{
		"storage_ref":      "archive",
		"output_base_dir":  "snapshots",
		"compression_type": "GZIP",
	}, stack.repo, stack.resolver)
	require.NoError(t, err)

	result, err := archiver.Archive(ctx, execution)
	require.NoError(t, err)

	require.Len(t, result.ObjectNames, 1)
	assert.Equal(t, "snapshots/dt=2025-08-20/type=WIRE_TRANSFER/"+execution.ID+".parquet", result.ObjectNames[0])
}

// archiverSpy records Archive invocations for the listener tests.
type archiverSpy struct {
	calls  int
	lastID string
}

func (s *archiverSpy) Archive(ctx context.Context, execution *model.BatchExecution) (*archive.ArchiveResult, error) {
	s.calls++
	s.lastID = execution.ID
	return &archive.ArchiveResult{ObjectNames: []string{"one"}, RecordCount: 1}, nil
}

func TestListenerArchivesOnlyCompletedExecutions(t *testing.T) {
	ctx := context.Background()
	spy := &archiverSpy{}
	listener := archive.NewArchiveExecutionListener(spy)

	failed := model.NewBatchExecution("settlement", "core-banking", "key-2", "corr-2", model.NewSubmissionParameters())
	failed.MarkAsStarted()
	failed.MarkAsFailed(assert.AnError)
	listener.AfterExecution(ctx, failed)
	assert.Zero(t, spy.calls)

	noOp := model.NewBatchExecution("settlement", "core-banking", "key-3", "corr-3", model.NewSubmissionParameters())
	noOp.MarkAsStarted()
	noOp.MarkAsNoOp()
	listener.AfterExecution(ctx, noOp)
	assert.Zero(t, spy.calls)

	completed := newCompletedExecution("2025-08-20")
	listener.AfterExecution(ctx, completed)
	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, completed.ID, spy.lastID)
}

func TestDisabledArchiverIsNoOp(t *testing.T) {
	stack := newArchiveStack(t)

	cfg := config.NewConfig()
	cfg.Swell.Archive.Enabled = false

	archiver, err := archive.NewFxArchiver(cfg, stack.repo, stack.resolver)
	require.NoError(t, err)

	result, err := archiver.Archive(context.Background(), newCompletedExecution("2025-08-20"))
	require.NoError(t, err)
	assert.Empty(t, result.ObjectNames)
}
