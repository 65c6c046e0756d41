package migration_test

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/swell/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/swell/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/swell/pkg/batch/component/migration"
	"github.com/tigerroll/swell/pkg/batch/component/migration/filesystem"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	sqlRepo "github.com/tigerroll/swell/pkg/batch/infrastructure/repository/sql"
)

// newSQLiteConn opens a file-backed SQLite database and wraps it in the GORM
// adapter so the migrator sees the same connection type the engine store uses.
func newSQLiteConn(t *testing.T) database.DBConnection {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	gormDB, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, dbErr := gormDB.DB(); dbErr == nil {
			sqlDB.Close()
		}
	})

	return gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "sqlite"}, "store")
}

func tableNames(t *testing.T, conn database.DBConnection) map[string]bool {
	t.Helper()

	sqlDB, err := conn.GetSQLDB()
	require.NoError(t, err)

	rows, err := sqlDB.Query("SELECT name FROM sqlite_master WHERE type = 'table'")
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func migrateUp(t *testing.T, conn database.DBConnection) {
	t.Helper()

	m := migration.NewMigrator(conn)
	defer m.Close()
	require.NoError(t, m.Up(context.Background(), filesystem.ProvideEngineMigrationsFS(), "sqlite", migration.EngineMigrationsTable))
}

func TestEngineSchemaAppliesToSQLite(t *testing.T) {
	conn := newSQLiteConn(t)
	migrateUp(t, conn)

	names := tableNames(t, conn)
	for _, table := range []string{"batch_idempotency_record", "batch_execution", "batch_staging_record", "batch_audit_event"} {
		assert.True(t, names[table], "table %s should exist after migration", table)
	}
	assert.True(t, names[migration.EngineMigrationsTable], "migration history table should exist")

	// A second run has nothing to apply and must not fail.
	migrateUp(t, conn)
}

func TestEngineSchemaDownRollsBack(t *testing.T) {
	conn := newSQLiteConn(t)
	migrateUp(t, conn)

	m := migration.NewMigrator(conn)
	defer m.Close()
	require.NoError(t, m.Down(context.Background(), filesystem.ProvideEngineMigrationsFS(), "sqlite", migration.EngineMigrationsTable))

	names := tableNames(t, conn)
	for _, table := range []string{"batch_idempotency_record", "batch_execution", "batch_staging_record", "batch_audit_event"} {
		assert.False(t, names[table], "table %s should be dropped after rollback", table)
	}
}

// TestMigratedSchemaMatchesEntityMapping guards against drift between the DDL
// and the column names GORM derives from the schema entities.
func TestMigratedSchemaMatchesEntityMapping(t *testing.T) {
	conn := newSQLiteConn(t)
	migrateUp(t, conn)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Second)
	execution := &sqlRepo.BatchExecutionEntity{
		ID:               "3f1d8a34-55f5-4a6b-9a3c-93a1c6f5d001",
		JobName:          "settlement",
		SourceSystem:     "core-banking",
		IdempotencyKey:   "CORE:SETTLE:20250819:TXN-1",
		CorrelationID:    "corr-1",
		BusinessDate:     "2025-08-19",
		Parameters:       model.SubmissionParameters{Params: map[string]interface{}{"mode": "night"}},
		StartTime:        start,
		Status:           model.BatchStatusStarted,
		ExitStatus:       model.ExitStatusUnknown,
		Failures:         model.FailureList{},
		Version:          1,
		CreateTime:       start,
		LastUpdated:      start,
		ExecutionContext: model.ExecutionContext{"phase": "PROCESSING"},
		CurrentPhase:     "PROCESSING",
	}
	_, err := conn.ExecuteUpsert(ctx, execution, "batch_execution", []string{"id"}, nil)
	require.NoError(t, err)

	var loaded sqlRepo.BatchExecutionEntity
	require.NoError(t, conn.ExecuteQueryAdvanced(ctx, &loaded, map[string]interface{}{"id": execution.ID}, "", 1))
	assert.Equal(t, execution.JobName, loaded.JobName)
	assert.Equal(t, execution.IdempotencyKey, loaded.IdempotencyKey)
	assert.Equal(t, execution.BusinessDate, loaded.BusinessDate)
	assert.Equal(t, "night", loaded.Parameters.Params["mode"])
	assert.Equal(t, model.BatchStatusStarted, loaded.Status)
	assert.WithinDuration(t, start, loaded.StartTime, 2*time.Second)

	staging := &sqlRepo.StagingRecordEntity{
		ExecutionID:       execution.ID,
		TransactionTypeID: "WIRE_TRANSFER",
		SequenceNumber:    1,
		RecordID:          "TXN-1",
		Payload:           model.PayloadMap{"amount": "100"},
		ProcessingStatus:  model.OutcomeSuccess,
		CorrelationID:     "corr-1",
		CreateTime:        start,
	}
	_, err = conn.ExecuteUpsert(ctx, staging, "batch_staging_record", []string{"execution_id", "sequence_number"}, nil)
	require.NoError(t, err)

	// The composite primary key absorbs a replay of the same sequence number.
	rows, err := conn.ExecuteUpsert(ctx, staging, "batch_staging_record", []string{"execution_id", "sequence_number"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	count, err := conn.Count(ctx, &sqlRepo.StagingRecordEntity{}, map[string]interface{}{"execution_id": execution.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMigratorRejectsUnknownDatabaseType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	gormDB, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, dbErr := gormDB.DB(); dbErr == nil {
			sqlDB.Close()
		}
	})
	conn := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "oracle"}, "store")

	m := migration.NewMigrator(conn)
	defer m.Close()
	err = m.Up(context.Background(), filesystem.ProvideEngineMigrationsFS(), "sqlite", migration.EngineMigrationsTable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type for migration: oracle")
}

func TestEmbeddedMigrationsCoverAllBackends(t *testing.T) {
	fsys := filesystem.ProvideEngineMigrationsFS()

	for _, backend := range []string{"postgres", "mysql", "sqlite"} {
		up, err := fs.ReadFile(fsys, backend+"/0001_engine_store.up.sql")
		require.NoError(t, err, "missing up script for %s", backend)
		for _, table := range []string{"batch_idempotency_record", "batch_execution", "batch_staging_record", "batch_audit_event"} {
			assert.True(t, strings.Contains(string(up), "CREATE TABLE "+table), "%s up script should create %s", backend, table)
		}

		down, err := fs.ReadFile(fsys, backend+"/0001_engine_store.down.sql")
		require.NoError(t, err, "missing down script for %s", backend)
		assert.Contains(t, string(down), "DROP TABLE IF EXISTS batch_execution")
	}
}

// failingResolver fails the test if a connection is ever requested.
type failingResolver struct {
	t   *testing.T
	err error
}

func (r failingResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

func (r failingResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func (r failingResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.t.Fatalf("unexpected connection resolution for %q", name)
	return nil, nil
}

func (r failingResolver) ResolveDBConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

// fixedResolver always hands out one prepared connection.
type fixedResolver struct {
	conn database.DBConnection
}

func (r fixedResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.conn, nil
}

func (r fixedResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func (r fixedResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.conn, nil
}

func (r fixedResolver) ResolveDBConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func TestRunnerSkipsWithoutStoreRef(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Swell.Infrastructure.StoreDBRef = ""

	runner := migration.NewEngineSchemaRunner(migration.EngineSchemaRunnerParams{
		Cfg:      cfg,
		Resolver: failingResolver{t: t},
		EngineFS: filesystem.ProvideEngineMigrationsFS(),
	})
	assert.NoError(t, runner.Run(context.Background()))
}

func TestRunnerFailsWhenResolutionFails(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Swell.Infrastructure.StoreDBRef = "metadata"

	runner := migration.NewEngineSchemaRunner(migration.EngineSchemaRunnerParams{
		Cfg:      cfg,
		Resolver: failingResolver{t: t, err: sql.ErrConnDone},
		EngineFS: filesystem.ProvideEngineMigrationsFS(),
	})
	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve store connection 'metadata'")
}

func TestRunnerAppliesEngineSchema(t *testing.T) {
	conn := newSQLiteConn(t)
	cfg := config.NewConfig()
	cfg.Swell.Infrastructure.StoreDBRef = "metadata"

	runner := migration.NewEngineSchemaRunner(migration.EngineSchemaRunnerParams{
		Cfg:      cfg,
		Resolver: fixedResolver{conn: conn},
		EngineFS: filesystem.ProvideEngineMigrationsFS(),
	})
	require.NoError(t, runner.Run(context.Background()))

	names := tableNames(t, conn)
	assert.True(t, names["batch_execution"])
	assert.True(t, names[migration.EngineMigrationsTable])
}
