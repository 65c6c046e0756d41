// Package sql implements the engine store repositories on top of the database adapter.
package sql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	"github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/swell/pkg/batch/core/tx"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// SQLStoreRepository implements the repository.StoreRepository interface.
type SQLStoreRepository struct {
	// dbResolver resolves database connections. It is expected to resolve to a database.DBConnectionResolver.
	dbResolver coreAdapter.ResourceConnectionResolver
	// TxManager is the transaction manager for the store database.
	TxManager tx.TransactionManager
	// dbName is the name of the database connection used by this repository (e.g., "metadata").
	dbName string
}

// NewSQLStoreRepository creates a new instance of SQLStoreRepository.
func NewSQLStoreRepository(
	dbResolver coreAdapter.ResourceConnectionResolver,
	txManager tx.TransactionManager,
	dbName string,
) repository.StoreRepository {
	return &SQLStoreRepository{
		dbResolver: dbResolver,
		TxManager:  txManager,
		dbName:     dbName,
	}
}

// getDBConnection resolves the DBConnection used by this repository.
// This is used for operations that do not require an active transaction.
func (r *SQLStoreRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	connAsResource, err := r.dbResolver.ResolveConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewBatchError("SQLStoreRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err, false, false)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewBatchError("SQLStoreRepository", fmt.Sprintf("Resolved connection '%s' is not a database.DBConnection", r.dbName), nil, false, false)
	}
	return conn, nil
}

// getTxExecutor returns the Tx found in the context, or the direct DBConnection
// when the caller did not open a transaction.
func (r *SQLStoreRepository) getTxExecutor(ctx context.Context) (tx.TxExecutor, error) {
	if t, ok := ctx.Value("tx").(tx.Tx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

// --- IdempotencyRepository implementation ---

func (r *SQLStoreRepository) SaveIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error {
	const op = "SQLStoreRepository.SaveIdempotencyRecord"
	entity := fromDomainIdempotencyRecord(record)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	// Insert-if-absent: an existing record for the key is left untouched so a
	// concurrent first-writer keeps its state.
	_, err = executor.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"idempotency_key"}, nil)

	if err != nil {
		if executor.IsTableNotExistError(err) { // Migrations have not been run yet.
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to save IdempotencyRecord (key: %s)", record.Key), err, true, false)
	}
	return nil
}

func (r *SQLStoreRepository) ClaimForProcessing(ctx context.Context, key string, owner string, executionID string, leaseDuration time.Duration, maxRetries int) (bool, error) {
	const op = "SQLStoreRepository.ClaimForProcessing"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now()
	expiresAt := now.Add(leaseDuration)

	// Single guarded UPDATE: the row transitions to IN_PROGRESS only when it is
	// claimable, so concurrent claimers race on rows affected, not on reads.
	claimSQL := "UPDATE " + IdempotencyRecordEntity{}.TableName() + " SET" +
		" status = ?, lease_owner = ?, execution_id = ?, lease_expires_at = ?, last_updated = ?, version = version + 1" +
		" WHERE idempotency_key = ?" +
		" AND (status = ? OR status = ?" +
		" OR (status = ? AND retry_count < ?)" +
		" OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?))"

	rowsAffected, err := executor.ExecuteRaw(ctx, claimSQL,
		model.IdempotencyStatusInProgress, owner, executionID, expiresAt, now,
		key,
		model.IdempotencyStatusNew, model.IdempotencyStatusExpired,
		model.IdempotencyStatusFailed, maxRetries,
		model.IdempotencyStatusInProgress, now,
	)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return false, repository.ErrIdempotencyRecordNotFound
		}
		return false, exception.NewBatchError(op, fmt.Sprintf("failed to claim IdempotencyRecord (key: %s)", key), err, true, false)
	}

	return rowsAffected == 1, nil
}

func (r *SQLStoreRepository) UpdateIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error {
	const op = "SQLStoreRepository.UpdateIdempotencyRecord"

	originalVersion := record.Version
	record.Version++
	record.UpdatedAt = time.Now()
	entity := fromDomainIdempotencyRecord(record)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"idempotency_key": record.Key, "version": originalVersion},
	)
	if err != nil {
		record.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to update IdempotencyRecord (key: %s)", record.Key), err, true, false)
	}
	if rowsAffected == 0 {
		record.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("IdempotencyRecord (key: %s) with version %d not found for update", record.Key, originalVersion), nil)
	}
	return nil
}

func (r *SQLStoreRepository) FindIdempotencyRecordByKey(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	const op = "SQLStoreRepository.FindIdempotencyRecordByKey"
	var entity IdempotencyRecordEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"idempotency_key": key}, "", 1)

	if err != nil {
		if conn.IsTableNotExistError(err) { // If the table does not exist, treat it as not found.
			return nil, repository.ErrIdempotencyRecordNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find IdempotencyRecord by key: %s", key), err, true, false)
	}

	if entity.IdempotencyKey == "" {
		return nil, repository.ErrIdempotencyRecordNotFound
	}

	return toDomainIdempotencyRecord(&entity), nil
}

func (r *SQLStoreRepository) ExpireStaleLeases(ctx context.Context, asOf time.Time) (int64, error) {
	const op = "SQLStoreRepository.ExpireStaleLeases"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	expireSQL := "UPDATE " + IdempotencyRecordEntity{}.TableName() + " SET" +
		" status = ?, last_updated = ?, version = version + 1" +
		" WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?"

	rowsAffected, err := conn.ExecuteRaw(ctx, expireSQL,
		model.IdempotencyStatusExpired, time.Now(),
		model.IdempotencyStatusInProgress, asOf,
	)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return 0, nil
		}
		return 0, exception.NewBatchError(op, "failed to expire stale leases", err, true, false)
	}

	return rowsAffected, nil
}

// --- ExecutionRepository implementation ---

func (r *SQLStoreRepository) SaveBatchExecution(ctx context.Context, execution *model.BatchExecution) error {
	const op = "SQLStoreRepository.SaveBatchExecution"
	entity := fromDomainBatchExecution(execution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)

	if err != nil {
		if executor.IsTableNotExistError(err) { // Migrations have not been run yet.
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to save BatchExecution (ID: %s)", execution.ID), err, true, false)
	}
	return nil
}

func (r *SQLStoreRepository) UpdateBatchExecution(ctx context.Context, execution *model.BatchExecution) error {
	const op = "SQLStoreRepository.UpdateBatchExecution"

	originalVersion := execution.Version
	execution.Version++
	execution.LastUpdated = time.Now()
	entity := fromDomainBatchExecution(execution)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"id": execution.ID, "version": originalVersion},
	)
	if err != nil {
		execution.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to update BatchExecution (ID: %s)", execution.ID), err, true, false)
	}
	if rowsAffected == 0 {
		execution.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("BatchExecution (ID: %s) with version %d not found for update", execution.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLStoreRepository) FindBatchExecutionByID(ctx context.Context, executionID string) (*model.BatchExecution, error) {
	const op = "SQLStoreRepository.FindBatchExecutionByID"
	var entity BatchExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": executionID}, "", 1)

	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrBatchExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find BatchExecution by ID: %s", executionID), err, true, false)
	}

	if entity.ID == "" {
		return nil, repository.ErrBatchExecutionNotFound
	}

	return toDomainBatchExecution(&entity), nil
}

func (r *SQLStoreRepository) FindLatestBatchExecutionByKey(ctx context.Context, idempotencyKey string) (*model.BatchExecution, error) {
	const op = "SQLStoreRepository.FindLatestBatchExecutionByKey"
	var entity BatchExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"idempotency_key": idempotencyKey}, "create_time desc", 1)

	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrBatchExecutionNotFound
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find latest BatchExecution for key: %s", idempotencyKey), err, true, false)
	}

	if entity.ID == "" {
		return nil, repository.ErrBatchExecutionNotFound
	}

	return toDomainBatchExecution(&entity), nil
}

func (r *SQLStoreRepository) FindBatchExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.BatchExecution, error) {
	const op = "SQLStoreRepository.FindBatchExecutionsByJobName"
	var entities []BatchExecutionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_name": jobName}, "create_time desc", limit)

	if err != nil {
		if conn.IsTableNotExistError(err) { // If the table does not exist, return an empty slice.
			return []*model.BatchExecution{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find BatchExecutions for job: %s", jobName), err, true, false)
	}

	executions := make([]*model.BatchExecution, len(entities))
	for i, entity := range entities {
		executions[i] = toDomainBatchExecution(&entity)
	}
	return executions, nil
}

func (r *SQLStoreRepository) GetJobNames(ctx context.Context) ([]string, error) {
	const op = "SQLStoreRepository.GetJobNames"
	var jobNames []string

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.Pluck(ctx, &BatchExecutionEntity{}, "job_name", &jobNames, nil)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []string{}, nil
		}
		return nil, exception.NewBatchError(op, "failed to pluck job names", err, true, false)
	}

	// Executions repeat job names; collapse to distinct values preserving order.
	seen := make(map[string]struct{}, len(jobNames))
	distinct := make([]string, 0, len(jobNames))
	for _, name := range jobNames {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		distinct = append(distinct, name)
	}
	return distinct, nil
}

// --- StagingRepository implementation ---

func (r *SQLStoreRepository) BulkInsertStagingRecords(ctx context.Context, t tx.Tx, records []*model.StagingRecord) error {
	const op = "SQLStoreRepository.BulkInsertStagingRecords"
	if len(records) == 0 {
		return nil
	}

	entities := make([]*StagingRecordEntity, len(records))
	for i, record := range records {
		entities[i] = fromDomainStagingRecord(record)
	}

	var executor tx.TxExecutor
	if t != nil {
		executor = t
	} else {
		conn, err := r.getDBConnection(ctx)
		if err != nil {
			return err
		}
		executor = conn
	}

	_, err := executor.ExecuteUpdate(ctx, &entities, "CREATE", StagingRecordEntity{}.TableName(), nil)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to bulk insert %d staging records (execution: %s)", len(records), records[0].ExecutionID), err, true, false)
	}
	return nil
}

func (r *SQLStoreRepository) CountStagingRecordsByExecutionID(ctx context.Context, executionID string) (int64, error) {
	const op = "SQLStoreRepository.CountStagingRecordsByExecutionID"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	count, err := conn.Count(ctx, &StagingRecordEntity{}, map[string]interface{}{"execution_id": executionID})
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return 0, nil
		}
		return 0, exception.NewBatchError(op, fmt.Sprintf("failed to count staging records (execution: %s)", executionID), err, true, false)
	}
	return count, nil
}

func (r *SQLStoreRepository) FindStagingRecordsBySequenceRange(ctx context.Context, executionID string, fromSeq int64, toSeq int64) ([]*model.StagingRecord, error) {
	const op = "SQLStoreRepository.FindStagingRecordsBySequenceRange"
	var entities []StagingRecordEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + StagingRecordEntity{}.TableName() +
		" WHERE execution_id = ? AND sequence_number >= ?"
	args := []interface{}{executionID, fromSeq}
	if toSeq > 0 {
		query += " AND sequence_number <= ?"
		args = append(args, toSeq)
	}
	query += " ORDER BY sequence_number ASC"

	err = conn.QueryRaw(ctx, &entities, query, args...)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.StagingRecord{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find staging records (execution: %s)", executionID), err, true, false)
	}

	records := make([]*model.StagingRecord, len(entities))
	for i, entity := range entities {
		records[i] = toDomainStagingRecord(&entity)
	}
	return records, nil
}

// --- AuditRepository implementation ---

func (r *SQLStoreRepository) AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error {
	const op = "SQLStoreRepository.AppendAuditEvent"
	entity := fromDomainAuditEvent(event)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewBatchError(op, fmt.Sprintf("failed to append audit event (execution: %s, type: %s)", event.ExecutionID, event.EventType), err, true, false)
	}
	return nil
}

func (r *SQLStoreRepository) FindAuditEventsByExecutionID(ctx context.Context, executionID string) ([]*model.AuditEvent, error) {
	const op = "SQLStoreRepository.FindAuditEventsByExecutionID"
	var entities []AuditEventEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"execution_id": executionID}, "event_time asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.AuditEvent{}, nil
		}
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find audit events (execution: %s)", executionID), err, true, false)
	}

	events := make([]*model.AuditEvent, len(entities))
	for i, entity := range entities {
		events[i] = toDomainAuditEvent(&entity)
	}
	return events, nil
}

// Close implements repository.StoreRepository.
func (r *SQLStoreRepository) Close() error {
	// The underlying DBConnection is managed by the DBProvider and its lifecycle,
	// so it is not closed directly by the repository.
	return nil
}

// Verify that SQLStoreRepository implements all embedded interfaces of repository.StoreRepository.
var _ repository.StoreRepository = (*SQLStoreRepository)(nil)

// StoreRepositoryParams defines the dependencies required to create a StoreRepository.
type StoreRepositoryParams struct {
	fx.In
	// DBResolver is used to resolve database connections.
	DBResolver coreAdapter.ResourceConnectionResolver
	// StoreTxManager is the transaction manager for the store database.
	StoreTxManager tx.TransactionManager `name:"store"`
	// Cfg is the application configuration.
	Cfg *config.Config
}

// NewStoreRepository creates and returns a StoreRepository instance.
// This function is intended to be used as an Fx provider.
func NewStoreRepository(p StoreRepositoryParams) repository.StoreRepository {
	// Staged output written inside a caller-managed transaction goes through
	// that transaction's connection; only direct reads use StoreDBRef here.
	dbName := p.Cfg.Swell.Infrastructure.StoreDBRef
	if dbName == "" {
		dbName = "metadata"
	}

	return NewSQLStoreRepository(p.DBResolver, p.StoreTxManager, dbName)
}
