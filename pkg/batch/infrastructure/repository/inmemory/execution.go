package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// SaveBatchExecution stores a new execution. Saving an ID that already exists
// is an error; executions are created exactly once per admission.
func (r *InMemoryStoreRepository) SaveBatchExecution(ctx context.Context, execution *model.BatchExecution) error {
	const op = "InMemoryStoreRepository.SaveBatchExecution"
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executions[execution.ID]; exists {
		return fmt.Errorf("%s: BatchExecution with ID '%s' already exists", op, execution.ID)
	}
	r.executions[execution.ID] = cloneBatchExecution(execution)
	return nil
}

// UpdateBatchExecution applies a version-guarded update, mirroring the SQL
// repository's optimistic locking behavior.
func (r *InMemoryStoreRepository) UpdateBatchExecution(ctx context.Context, execution *model.BatchExecution) error {
	const op = "InMemoryStoreRepository.UpdateBatchExecution"
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.executions[execution.ID]
	if !exists {
		return fmt.Errorf("%s: BatchExecution with ID '%s' does not exist: %w", op, execution.ID, repository.ErrBatchExecutionNotFound)
	}
	if stored.Version != execution.Version {
		return exception.NewOptimisticLockingFailureException("inmemory_repository",
			fmt.Sprintf("BatchExecution (ID: %s) was updated by another process (expected version: %d, stored version: %d)", execution.ID, execution.Version, stored.Version), nil)
	}

	execution.Version++
	execution.LastUpdated = time.Now()
	r.executions[execution.ID] = cloneBatchExecution(execution)
	return nil
}

// FindBatchExecutionByID returns a copy of the execution with the given ID.
func (r *InMemoryStoreRepository) FindBatchExecutionByID(ctx context.Context, executionID string) (*model.BatchExecution, error) {
	const op = "InMemoryStoreRepository.FindBatchExecutionByID"
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, exists := r.executions[executionID]
	if !exists {
		return nil, fmt.Errorf("%s: BatchExecution with ID '%s' not found: %w", op, executionID, repository.ErrBatchExecutionNotFound)
	}
	return cloneBatchExecution(exec), nil
}

// FindLatestBatchExecutionByKey returns the most recently created execution for
// the given idempotency key.
func (r *InMemoryStoreRepository) FindLatestBatchExecutionByKey(ctx context.Context, idempotencyKey string) (*model.BatchExecution, error) {
	const op = "InMemoryStoreRepository.FindLatestBatchExecutionByKey"
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.BatchExecution
	for _, exec := range r.executions {
		if exec.IdempotencyKey != idempotencyKey {
			continue
		}
		if latest == nil || exec.CreateTime.After(latest.CreateTime) {
			latest = exec
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%s: no BatchExecution found for idempotency key '%s': %w", op, idempotencyKey, repository.ErrBatchExecutionNotFound)
	}
	return cloneBatchExecution(latest), nil
}

// FindBatchExecutionsByJobName returns executions for the job ordered newest
// first. A limit of 0 returns all of them.
func (r *InMemoryStoreRepository) FindBatchExecutionsByJobName(ctx context.Context, jobName string, limit int) ([]*model.BatchExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*model.BatchExecution, 0)
	for _, exec := range r.executions {
		if exec.JobName == jobName {
			matched = append(matched, exec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreateTime.After(matched[j].CreateTime)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	results := make([]*model.BatchExecution, 0, len(matched))
	for _, exec := range matched {
		results = append(results, cloneBatchExecution(exec))
	}
	return results, nil
}

// GetJobNames returns the distinct job names present in the store, sorted for
// deterministic listings.
func (r *InMemoryStoreRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, exec := range r.executions {
		if _, dup := seen[exec.JobName]; dup {
			continue
		}
		seen[exec.JobName] = struct{}{}
		names = append(names, exec.JobName)
	}
	sort.Strings(names)
	return names, nil
}
