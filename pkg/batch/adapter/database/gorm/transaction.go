package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx on top of an in-flight GORM transaction.
type GormTxAdapter struct {
	tx     *gorm.DB
	dbType string
}

// NewGormTxAdapter creates a new GormTxAdapter.
func NewGormTxAdapter(gormTx *gorm.DB, dbType string) *GormTxAdapter {
	return &GormTxAdapter{tx: gormTx, dbType: dbType}
}

// GetGormTx returns the underlying transactional *gorm.DB.
func (a *GormTxAdapter) GetGormTx() *gorm.DB {
	return a.tx
}

// IsTableNotExistError checks if the given error indicates that a table does not exist.
func (a *GormTxAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(a.dbType, err)
}

// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE) within the transaction.
func (a *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := a.tx.WithContext(ctx)
	db = applyTableName(db, model, tableName)

	var result *gorm.DB
	switch strings.ToUpper(operation) {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Where(query).Updates(model)
	case "DELETE":
		result = db.Where(query).Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert performs an UPSERT within the transaction.
func (a *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := a.tx.WithContext(ctx)
	db = applyTableName(db, model, tableName)

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		columns = append(columns, clause.Column{Name: c})
	}

	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteRaw executes a raw SQL statement within the transaction.
func (a *GormTxAdapter) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result := a.tx.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GormTransactionManager implements tx.TransactionManager for a single GORM connection.
type GormTransactionManager struct {
	conn database.DBConnection
}

// NewGormTransactionManager creates a TransactionManager bound to the given connection.
func NewGormTransactionManager(conn database.DBConnection) *GormTransactionManager {
	return &GormTransactionManager{conn: conn}
}

// Begin starts a new transaction on the bound connection.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	gormAdapter, ok := m.conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("connection '%s' is not a GORM connection (got %T)", m.conn.Name(), m.conn)
	}

	gormTx := gormAdapter.GetGormDB().WithContext(ctx).Begin(opts...)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.conn.Name(), gormTx.Error)
	}

	return NewGormTxAdapter(gormTx, m.conn.Type()), nil
}

// Commit commits the given transaction.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	adapter, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("unexpected transaction type: %T", t)
	}
	if err := adapter.tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the given transaction.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	adapter, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("unexpected transaction type: %T", t)
	}
	if err := adapter.tx.Rollback().Error; err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// GormTransactionManagerFactory implements tx.TransactionManagerFactory.
type GormTransactionManagerFactory struct{}

// NewGormTransactionManagerFactory creates a new factory instance.
func NewGormTransactionManagerFactory() tx.TransactionManagerFactory {
	return &GormTransactionManagerFactory{}
}

// NewTransactionManager creates a TransactionManager bound to the given connection.
func (f *GormTransactionManagerFactory) NewTransactionManager(conn database.DBConnection) tx.TransactionManager {
	return NewGormTransactionManager(conn)
}

// NewStoreTxManager builds the TransactionManager for the engine store
// connection named by infrastructure.store_db_ref. The connection is resolved
// once and the manager stays bound to it for the process lifetime.
func NewStoreTxManager(p struct {
	fx.In
	Cfg      *config.Config
	Resolver database.DBConnectionResolver
	Factory  tx.TransactionManagerFactory
}) (tx.TransactionManager, error) {
	name := p.Cfg.Swell.Infrastructure.StoreDBRef
	if name == "" {
		name = "metadata"
	}
	conn, err := p.Resolver.ResolveDBConnection(context.Background(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store connection '%s' for the transaction manager: %w", name, err)
	}
	return p.Factory.NewTransactionManager(conn), nil
}
