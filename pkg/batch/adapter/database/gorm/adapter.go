// Package gorm provides the GORM-backed implementation of the database adapter interfaces.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	dbconfig "github.com/tigerroll/swell/pkg/batch/adapter/database/config"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// TableNamer is implemented by models that supply their own table name.
type TableNamer interface {
	TableName() string
}

// applyTableName resolves the table GORM should operate on.
// An explicit tableName wins; otherwise the model (or its slice element type)
// is inspected for a TableName method.
func applyTableName(db *gorm.DB, model interface{}, tableName string) *gorm.DB {
	if tableName != "" {
		return db.Table(tableName)
	}
	if model == nil {
		return db
	}

	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	// For slice targets (e.g. *[]Entity), resolve the table from the element type.
	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return db
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice {
		elemType := v.Type().Elem()
		for elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		elem := reflect.New(elemType).Interface()
		if namer, ok := elem.(TableNamer); ok {
			return db.Table(namer.TableName())
		}
	}

	return db
}

// GormWriter redirects GORM's internal log output to the application logger.
type GormWriter struct{}

// Printf implements the gormlogger.Writer interface.
func (w *GormWriter) Printf(format string, args ...interface{}) {
	logger.Debugf("[GORM] "+format, args...)
}

// NewGormLogger creates a GORM logger honoring the given level string.
func NewGormLogger(logLevel string) gormlogger.Interface {
	var level gormlogger.LogLevel
	switch strings.ToLower(logLevel) {
	case "silent":
		level = gormlogger.Silent
	case "error":
		level = gormlogger.Error
	case "warn":
		level = gormlogger.Warn
	default:
		level = gormlogger.Info
	}

	return gormlogger.New(&GormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// isTableNotExistError reports whether err indicates a missing table for the given dialect.
func isTableNotExistError(dbType string, err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	switch dbType {
	case "postgres":
		return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
	case "mysql":
		return strings.Contains(msg, "Error 1146")
	case "sqlite":
		return strings.Contains(msg, "no such table:")
	default:
		return false
	}
}

// GormDBAdapter implements database.DBConnection using a GORM connection.
type GormDBAdapter struct {
	db   *gorm.DB
	cfg  dbconfig.DatabaseConfig
	name string
}

// NewGormDBAdapter creates a new GormDBAdapter.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) *GormDBAdapter {
	return &GormDBAdapter{db: db, cfg: cfg, name: name}
}

// GetGormDB returns the underlying *gorm.DB instance.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

// Close closes the underlying database connection.
func (a *GormDBAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB for close: %w", err)
	}
	return sqlDB.Close()
}

// Type returns the database type of this connection.
func (a *GormDBAdapter) Type() string {
	return a.cfg.Type
}

// Name returns the connection name.
func (a *GormDBAdapter) Name() string {
	return a.name
}

// Config returns the database configuration associated with this connection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB returns the underlying *sql.DB connection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	return a.db.DB()
}

// RefreshConnection verifies the connection is alive.
// Re-establishment of broken connections is the provider's responsibility.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB for refresh: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("connection '%s' ping failed: %w", a.name, err)
	}
	return nil
}

// IsTableNotExistError checks if the given error indicates that a table does not exist.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(a.cfg.Type, err)
}

// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE) outside a managed transaction.
// Each call runs as a single implicit transaction.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
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

// ExecuteUpsert performs an UPSERT using ON CONFLICT semantics.
// When updateColumns is empty, conflicting rows are left untouched (DO NOTHING).
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
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

// ExecuteRaw executes a raw SQL statement. Placeholders use '?' and are rebound per dialect.
func (a *GormDBAdapter) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true}).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// QueryRaw executes a raw SELECT and scans the rows into target.
func (a *GormDBAdapter) QueryRaw(ctx context.Context, target interface{}, query string, args ...interface{}) error {
	return a.db.WithContext(ctx).Raw(query, args...).Scan(target).Error
}

// ExecuteQuery executes a SELECT and scans the rows into target.
func (a *GormDBAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, target, "")
	return db.Where(query).Find(target).Error
}

// ExecuteQueryAdvanced executes a SELECT with optional ordering and limiting.
func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, target, "")
	db = db.Where(query)
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

// Count counts the number of records matching the query.
func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, model, "")
	var count int64
	if err := db.Model(model).Where(query).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Pluck retrieves the values of a single column into target.
func (a *GormDBAdapter) Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, model, "")
	return db.Model(model).Where(query).Pluck(column, target).Error
}
