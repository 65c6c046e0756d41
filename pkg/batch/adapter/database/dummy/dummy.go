// Package dummy provides no-op implementations of the database adapter
// interfaces for DB-less runs, where the in-memory store repository carries
// the engine state and no real database is configured.
package dummy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/swell/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// dummyDBConnection implements database.DBConnection without touching any
// database.
type dummyDBConnection struct{}

func (d *dummyDBConnection) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	logger.Debugf("Dummy DBConnection: ExecuteUpdate called, doing nothing. Table: %s", tableName)
	return 0, nil
}

func (d *dummyDBConnection) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	logger.Debugf("Dummy DBConnection: ExecuteUpsert called, doing nothing. Table: %s", tableName)
	return 0, nil
}

func (d *dummyDBConnection) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	logger.Debugf("Dummy DBConnection: ExecuteRaw called, doing nothing.")
	return 0, nil
}

func (d *dummyDBConnection) QueryRaw(ctx context.Context, target interface{}, query string, args ...interface{}) error {
	logger.Debugf("Dummy DBConnection: QueryRaw called, doing nothing.")
	return nil
}

func (d *dummyDBConnection) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	logger.Debugf("Dummy DBConnection: ExecuteQuery called, doing nothing. Query: %v", query)
	return nil
}

func (d *dummyDBConnection) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	logger.Debugf("Dummy DBConnection: ExecuteQueryAdvanced called, doing nothing. Query: %v", query)
	return nil
}

func (d *dummyDBConnection) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	logger.Debugf("Dummy DBConnection: Count called, doing nothing. Query: %v", query)
	return 0, nil
}

func (d *dummyDBConnection) Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error {
	logger.Debugf("Dummy DBConnection: Pluck called, doing nothing. Column: %s", column)
	return nil
}

func (d *dummyDBConnection) RefreshConnection(ctx context.Context) error { return nil }

func (d *dummyDBConnection) Type() string { return "dummy" }

func (d *dummyDBConnection) Name() string { return "dummy" }

func (d *dummyDBConnection) Close() error { return nil }

func (d *dummyDBConnection) IsTableNotExistError(err error) bool { return false }

func (d *dummyDBConnection) Config() dbconfig.DatabaseConfig { return dbconfig.DatabaseConfig{} }

// GetSQLDB returns an error because no underlying *sql.DB exists.
func (d *dummyDBConnection) GetSQLDB() (*sql.DB, error) {
	return nil, fmt.Errorf("dummy DBConnection has no underlying *sql.DB")
}

// dummyDBProvider hands out dummy connections for any name.
type dummyDBProvider struct{}

func (d *dummyDBProvider) GetConnection(name string) (database.DBConnection, error) {
	logger.Debugf("Dummy DBProvider: GetConnection called for '%s'.", name)
	return &dummyDBConnection{}, nil
}

func (d *dummyDBProvider) ForceReconnect(name string) (database.DBConnection, error) {
	return &dummyDBConnection{}, nil
}

func (d *dummyDBProvider) CloseAll() error { return nil }

func (d *dummyDBProvider) Type() string { return "dummy" }

// NewDummyDBConnection returns a new dummy DBConnection instance.
func NewDummyDBConnection() database.DBConnection {
	return &dummyDBConnection{}
}

// NewDummyDBProvider returns a new dummy DBProvider instance.
func NewDummyDBProvider() database.DBProvider {
	return &dummyDBProvider{}
}

// DummyTx implements tx.Tx without performing any operation.
type DummyTx struct{}

func (d *DummyTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, nil
}

func (d *DummyTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, nil
}

func (d *DummyTx) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return 0, nil
}

func (d *DummyTx) IsTableNotExistError(err error) bool { return false }

// dummyTxManager implements tx.TransactionManager with no-op transactions.
type dummyTxManager struct{}

func (d *dummyTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	return &DummyTx{}, nil
}

func (d *dummyTxManager) Commit(t tx.Tx) error { return nil }

func (d *dummyTxManager) Rollback(t tx.Tx) error { return nil }

// NewDummyTxManager returns a TransactionManager whose transactions do nothing.
// The in-memory repository ignores the transaction handle, so commit and
// rollback have nothing to undo.
func NewDummyTxManager() tx.TransactionManager {
	return &dummyTxManager{}
}

// DummyTxManagerFactory implements tx.TransactionManagerFactory.
type DummyTxManagerFactory struct{}

func (d *DummyTxManagerFactory) NewTransactionManager(conn database.DBConnection) tx.TransactionManager {
	return &dummyTxManager{}
}

// DummyDBConnectionResolver resolves every name to a dummy connection.
type DummyDBConnectionResolver struct{}

// NewDummyDBConnectionResolver creates a new DummyDBConnectionResolver.
func NewDummyDBConnectionResolver() *DummyDBConnectionResolver {
	logger.Warnf("Running in DB-less mode. Providing dummy DB connection resolver.")
	return &DummyDBConnectionResolver{}
}

func (r *DummyDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return &dummyDBConnection{}, nil
}

func (r *DummyDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

func (r *DummyDBConnectionResolver) ResolveConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

func (r *DummyDBConnectionResolver) ResolveDBConnectionName(ctx context.Context, execution interface{}, partition interface{}, defaultName string) (string, error) {
	return defaultName, nil
}

var _ database.DBConnection = (*dummyDBConnection)(nil)
var _ database.DBProvider = (*dummyDBProvider)(nil)
var _ tx.Tx = (*DummyTx)(nil)
var _ tx.TransactionManager = (*dummyTxManager)(nil)
var _ tx.TransactionManagerFactory = (*DummyTxManagerFactory)(nil)
var _ database.DBConnectionResolver = (*DummyDBConnectionResolver)(nil)
