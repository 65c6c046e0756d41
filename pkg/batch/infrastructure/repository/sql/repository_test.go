package sql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	testify_mock "github.com/stretchr/testify/mock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/swell/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/swell/pkg/batch/adapter/database/gorm"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/swell/pkg/batch/core/tx"
	sqlRepo "github.com/tigerroll/swell/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// MockTx implements tx.Tx for testing.
type MockTx struct {
	testify_mock.Mock
}

func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	callArgs := m.Called(ctx, query, args)
	return callArgs.Get(0).(int64), callArgs.Error(1)
}

func (m *MockTx) IsTableNotExistError(err error) bool {
	args := m.Called(err)
	return args.Bool(0)
}

// MockTxManager implements tx.TransactionManager for testing.
type MockTxManager struct {
	testify_mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

// testSingleConnectionResolver always resolves to the one mocked connection.
type testSingleConnectionResolver struct {
	conn database.DBConnection
}

func (r *testSingleConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.conn, nil
}

func (r *testSingleConnectionResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

// setupStoreMock builds a SQLStoreRepository over a sqlmock-backed GORM connection.
func setupStoreMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, database.DBConnection, repository.StoreRepository) {
	sqlDB, mock, err := sqlmock.New()
	assert.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	assert.NoError(t, err)

	cfg := dbconfig.DatabaseConfig{Type: "mysql"}
	dbConn := gormadapter.NewGormDBAdapter(gormDB, cfg, "mock_db")

	txManager := &MockTxManager{}
	resolver := &testSingleConnectionResolver{conn: dbConn}
	repo := sqlRepo.NewSQLStoreRepository(resolver, txManager, "mock_db")

	return gormDB, mock, dbConn, repo
}

func closeStoreMock(t *testing.T, gormDB *gorm.DB, mock sqlmock.Sqlmock) {
	mock.ExpectClose()
	sqlDB, _ := gormDB.DB()
	sqlDB.Close()
}

func TestSQLStoreRepository_SaveIdempotencyRecord_InsertIfAbsent(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	record := model.NewIdempotencyRecord("CORE:SETTLE:20250819:TXN-1", model.NewID())

	mockTx := new(MockTx)
	mockTx.On("ExecuteUpsert", testify_mock.Anything, testify_mock.Anything, "batch_idempotency_record", []string{"idempotency_key"}, []string(nil)).
		Return(int64(1), nil)

	txCtx := context.WithValue(context.Background(), "tx", mockTx)

	err := repo.SaveIdempotencyRecord(txCtx, record)
	assert.NoError(t, err)
	mockTx.AssertExpectations(t)
}

func TestSQLStoreRepository_ClaimForProcessing(t *testing.T) {
	t.Run("wins the claim when a row transitions", func(t *testing.T) {
		gormDB, mock, _, repo := setupStoreMock(t)
		defer closeStoreMock(t, gormDB, mock)

		mock.ExpectExec("UPDATE batch_idempotency_record SET status = \\?, lease_owner = \\?, execution_id = \\?, lease_expires_at = \\?, last_updated = \\?, version = version \\+ 1 WHERE idempotency_key = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))

		claimed, err := repo.ClaimForProcessing(context.Background(), "CORE:SETTLE:20250819:TXN-1", "worker-1", "exec-1", 5*time.Minute, 3)
		assert.NoError(t, err)
		assert.True(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loses the claim when no row matches", func(t *testing.T) {
		gormDB, mock, _, repo := setupStoreMock(t)
		defer closeStoreMock(t, gormDB, mock)

		mock.ExpectExec("UPDATE batch_idempotency_record SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		claimed, err := repo.ClaimForProcessing(context.Background(), "CORE:SETTLE:20250819:TXN-1", "worker-2", "exec-2", 5*time.Minute, 3)
		assert.NoError(t, err)
		assert.False(t, claimed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLStoreRepository_UpdateIdempotencyRecord(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	record := model.NewIdempotencyRecord("CORE:SETTLE:20250819:TXN-1", model.NewID())
	record.Version = 3

	mockTx := new(MockTx)
	expectedQuery := map[string]interface{}{"idempotency_key": record.Key, "version": 3}
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "UPDATE", "batch_idempotency_record", expectedQuery).
		Return(int64(1), nil)

	txCtx := context.WithValue(context.Background(), "tx", mockTx)

	err := repo.UpdateIdempotencyRecord(txCtx, record)
	assert.NoError(t, err)
	assert.Equal(t, 4, record.Version)
	mockTx.AssertExpectations(t)
}

func TestSQLStoreRepository_UpdateIdempotencyRecord_OptimisticLocking(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	record := model.NewIdempotencyRecord("CORE:SETTLE:20250819:TXN-1", model.NewID())
	record.Version = 3

	mockTx := new(MockTx)
	expectedQuery := map[string]interface{}{"idempotency_key": record.Key, "version": 3}
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "UPDATE", "batch_idempotency_record", expectedQuery).
		Return(int64(0), nil)

	txCtx := context.WithValue(context.Background(), "tx", mockTx)

	err := repo.UpdateIdempotencyRecord(txCtx, record)
	assert.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 3, record.Version)
	mockTx.AssertExpectations(t)
}

func TestSQLStoreRepository_FindIdempotencyRecordByKey(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	key := "CORE:SETTLE:20250819:TXN-1"
	now := time.Now()
	rows := sqlmock.NewRows([]string{"idempotency_key", "correlation_id", "status", "retry_count", "cached_result", "lease_owner", "execution_id", "lease_expires_at", "create_time", "last_updated", "version"}).
		AddRow(key, "corr-1", string(model.IdempotencyStatusCompleted), 1, []byte(`{"staged":10}`), "worker-1", "exec-1", nil, now, now, 4)

	mock.ExpectQuery("SELECT (.+) FROM `batch_idempotency_record` WHERE `batch_idempotency_record`.`idempotency_key` = \\? LIMIT \\?").
		WithArgs(key, 1).
		WillReturnRows(rows)

	found, err := repo.FindIdempotencyRecordByKey(context.Background(), key)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, key, found.Key)
	assert.Equal(t, model.IdempotencyStatusCompleted, found.Status)
	assert.Equal(t, 1, found.RetryCount)
	assert.Equal(t, []byte(`{"staged":10}`), found.CachedResult)
	assert.Equal(t, 4, found.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRepository_FindIdempotencyRecordByKey_NotFound(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	rows := sqlmock.NewRows([]string{"idempotency_key", "status", "version"})

	mock.ExpectQuery("SELECT (.+) FROM `batch_idempotency_record`").
		WillReturnRows(rows)

	found, err := repo.FindIdempotencyRecordByKey(context.Background(), "CORE:MISSING:20250819:X")
	assert.ErrorIs(t, err, repository.ErrIdempotencyRecordNotFound)
	assert.Nil(t, found)
}

func TestSQLStoreRepository_ExpireStaleLeases(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	mock.ExpectExec("UPDATE batch_idempotency_record SET status = \\?, last_updated = \\?, version = version \\+ 1 WHERE status = \\? AND lease_expires_at IS NOT NULL AND lease_expires_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 3))

	expired, err := repo.ExpireStaleLeases(context.Background(), time.Now())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRepository_SaveAndUpdateBatchExecution(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	execution := model.NewBatchExecution("settlement", "CORE_BANKING", "CORE:SETTLE:20250819:TXN-1", "corr-1", model.NewSubmissionParameters())
	execution.Version = 2
	execution.MarkAsStarted()

	mockTx := new(MockTx)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "batch_execution", testify_mock.Anything).
		Return(int64(1), nil)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "UPDATE", "batch_execution", map[string]interface{}{"id": execution.ID, "version": 2}).
		Return(int64(1), nil)

	txCtx := context.WithValue(context.Background(), "tx", mockTx)

	assert.NoError(t, repo.SaveBatchExecution(txCtx, execution))
	assert.NoError(t, repo.UpdateBatchExecution(txCtx, execution))
	assert.Equal(t, 3, execution.Version)
	mockTx.AssertExpectations(t)
}

func TestSQLStoreRepository_FindLatestBatchExecutionByKey(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	key := "CORE:SETTLE:20250819:TXN-1"
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "job_name", "source_system", "idempotency_key", "correlation_id", "business_date", "parameters", "start_time", "status", "exit_status", "failures", "version", "create_time", "last_updated", "execution_context", "current_phase"}).
		AddRow("exec-2", "settlement", "CORE_BANKING", key, "corr-2", "20250819", "{}", now, string(model.BatchStatusCompleted), string(model.ExitStatusCompleted), "[]", 5, now, now, "{}", "finalize")

	mock.ExpectQuery("SELECT (.+) FROM `batch_execution` WHERE `batch_execution`.`idempotency_key` = \\? ORDER BY create_time desc LIMIT \\?").
		WithArgs(key, 1).
		WillReturnRows(rows)

	found, err := repo.FindLatestBatchExecutionByKey(context.Background(), key)
	assert.NoError(t, err)
	assert.Equal(t, "exec-2", found.ID)
	assert.Equal(t, model.BatchStatusCompleted, found.Status)
	assert.Equal(t, "finalize", found.CurrentPhase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRepository_GetJobNames_Distinct(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	rows := sqlmock.NewRows([]string{"job_name"}).
		AddRow("settlement").
		AddRow("reconciliation").
		AddRow("settlement")

	mock.ExpectQuery("SELECT `job_name` FROM `batch_execution`").
		WillReturnRows(rows)

	names, err := repo.GetJobNames(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"settlement", "reconciliation"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRepository_BulkInsertStagingRecords(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	records := []*model.StagingRecord{
		{ExecutionID: "exec-1", TransactionTypeID: "WIRE_TRANSFER", SequenceNumber: 1, RecordID: "r-1", Payload: model.PayloadMap{"amount": "100"}, ProcessingStatus: model.OutcomeSuccess, CorrelationID: "corr-1", CreatedAt: time.Now()},
		{ExecutionID: "exec-1", TransactionTypeID: "WIRE_TRANSFER", SequenceNumber: 2, RecordID: "r-2", Payload: model.PayloadMap{"amount": "250"}, ProcessingStatus: model.OutcomeSuccess, CorrelationID: "corr-1", CreatedAt: time.Now()},
	}

	mockTx := new(MockTx)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "batch_staging_record", testify_mock.Anything).
		Return(int64(2), nil)

	err := repo.BulkInsertStagingRecords(context.Background(), mockTx, records)
	assert.NoError(t, err)
	mockTx.AssertExpectations(t)
}

func TestSQLStoreRepository_BulkInsertStagingRecords_Empty(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	// No executor interaction expected for an empty batch.
	err := repo.BulkInsertStagingRecords(context.Background(), nil, nil)
	assert.NoError(t, err)
}

func TestSQLStoreRepository_FindStagingRecordsBySequenceRange(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"execution_id", "transaction_type_id", "sequence_number", "record_id", "payload", "processing_status", "correlation_id", "create_time"}).
		AddRow("exec-1", "WIRE_TRANSFER", 1, "r-1", `{"amount":"100"}`, string(model.OutcomeSuccess), "corr-1", now).
		AddRow("exec-1", "ACH_PAYMENT", 2, "r-2", `{"amount":"250"}`, string(model.OutcomeSuccess), "corr-1", now)

	mock.ExpectQuery("SELECT \\* FROM batch_staging_record WHERE execution_id = \\? AND sequence_number >= \\? AND sequence_number <= \\? ORDER BY sequence_number ASC").
		WithArgs("exec-1", int64(1), int64(10)).
		WillReturnRows(rows)

	records, err := repo.FindStagingRecordsBySequenceRange(context.Background(), "exec-1", 1, 10)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].SequenceNumber)
	assert.Equal(t, model.PayloadMap{"amount": "100"}, records[0].Payload)
	assert.Equal(t, int64(2), records[1].SequenceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRepository_AppendAndFindAuditEvents(t *testing.T) {
	gormDB, mock, _, repo := setupStoreMock(t)
	defer closeStoreMock(t, gormDB, mock)

	event := model.NewAuditEvent("exec-1", "corr-1", model.AuditAdmitDecision, true)

	mockTx := new(MockTx)
	mockTx.On("ExecuteUpdate", testify_mock.Anything, testify_mock.Anything, "CREATE", "batch_audit_event", testify_mock.Anything).
		Return(int64(1), nil)

	txCtx := context.WithValue(context.Background(), "tx", mockTx)
	assert.NoError(t, repo.AppendAuditEvent(txCtx, event))
	mockTx.AssertExpectations(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "execution_id", "correlation_id", "event_type", "success", "event_time", "detail"}).
		AddRow("evt-1", "exec-1", "corr-1", string(model.AuditExecutionStarted), true, now.Add(-time.Second), "{}").
		AddRow("evt-2", "exec-1", "corr-1", string(model.AuditAdmitDecision), true, now, `{"verdict":"PROCEED"}`)

	mock.ExpectQuery("SELECT (.+) FROM `batch_audit_event` WHERE `batch_audit_event`.`execution_id` = \\? ORDER BY event_time asc").
		WithArgs("exec-1").
		WillReturnRows(rows)

	events, err := repo.FindAuditEventsByExecutionID(context.Background(), "exec-1")
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, model.AuditExecutionStarted, events[0].EventType)
	assert.Equal(t, model.AuditAdmitDecision, events[1].EventType)
	assert.Equal(t, "PROCEED", events[1].Detail["verdict"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
