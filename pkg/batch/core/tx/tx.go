// Package tx defines the transaction boundary abstractions used by repositories.
package tx

import (
	"context"
	"database/sql"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
)

// TxExecutor defines the write operations available inside a managed transaction.
type TxExecutor interface {
	// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE) within a transaction.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an UPSERT operation (INSERT OR REPLACE / ON CONFLICT DO UPDATE) within a transaction.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteRaw executes a raw SQL statement within the transaction.
	// Placeholders use '?' and are rebound per dialect.
	ExecuteRaw(ctx context.Context, query string, args ...interface{}) (rowsAffected int64, err error)

	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
}

// Tx represents an in-flight database transaction handle.
// Repository methods that must participate in a caller-managed transaction accept a Tx.
type Tx interface {
	TxExecutor
}

// TransactionManager manages the lifecycle of database transactions for a single connection.
type TransactionManager interface {
	// Begin starts a new transaction. Optional sql.TxOptions select the isolation level.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the given transaction.
	Commit(tx Tx) error
	// Rollback aborts the given transaction.
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates TransactionManager instances bound to a specific connection.
type TransactionManagerFactory interface {
	NewTransactionManager(conn database.DBConnection) TransactionManager
}
