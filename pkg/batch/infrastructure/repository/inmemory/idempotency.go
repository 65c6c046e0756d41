package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// SaveIdempotencyRecord inserts the record if its key is absent. An existing key
// is left untouched so concurrent first submissions converge on one record.
func (r *InMemoryStoreRepository) SaveIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Key]; exists {
		logger.Debugf("InMemoryStoreRepository: IdempotencyRecord with key '%s' already exists, skipping insert.", record.Key)
		return nil
	}
	r.records[record.Key] = cloneIdempotencyRecord(record)
	return nil
}

// ClaimForProcessing attempts the atomic admission transition for the given key.
// The claim succeeds when the record is NEW, EXPIRED, FAILED with retry budget
// left, or IN_PROGRESS with a lapsed lease. Exactly one concurrent caller wins.
func (r *InMemoryStoreRepository) ClaimForProcessing(ctx context.Context, key, owner, executionID string, leaseDuration time.Duration, maxRetries int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[key]
	if !exists {
		return false, nil
	}

	now := time.Now()
	claimable := rec.Status == model.IdempotencyStatusNew ||
		rec.Status == model.IdempotencyStatusExpired ||
		(rec.Status == model.IdempotencyStatusFailed && rec.RetryCount < maxRetries) ||
		(rec.Status == model.IdempotencyStatusInProgress && rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.Before(now))
	if !claimable {
		return false, nil
	}

	expiresAt := now.Add(leaseDuration)
	rec.Status = model.IdempotencyStatusInProgress
	rec.LeaseOwner = owner
	rec.ExecutionID = executionID
	rec.LeaseExpiresAt = &expiresAt
	rec.UpdatedAt = now
	rec.Version++
	logger.Debugf("InMemoryStoreRepository: Claimed key '%s' for owner '%s' (execution: %s).", key, owner, executionID)
	return true, nil
}

// UpdateIdempotencyRecord applies a version-guarded update. A stale version in
// the given record loses to the stored one and surfaces as an optimistic
// locking failure, mirroring the SQL repository.
func (r *InMemoryStoreRepository) UpdateIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error {
	const op = "InMemoryStoreRepository.UpdateIdempotencyRecord"
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.records[record.Key]
	if !exists {
		return fmt.Errorf("%s: IdempotencyRecord with key '%s' does not exist: %w", op, record.Key, repository.ErrIdempotencyRecordNotFound)
	}
	if stored.Version != record.Version {
		return exception.NewOptimisticLockingFailureException("inmemory_repository",
			fmt.Sprintf("IdempotencyRecord (key: %s) was updated by another process (expected version: %d, stored version: %d)", record.Key, record.Version, stored.Version), nil)
	}

	record.Version++
	record.UpdatedAt = time.Now()
	r.records[record.Key] = cloneIdempotencyRecord(record)
	return nil
}

// FindIdempotencyRecordByKey returns a copy of the record for the given key.
func (r *InMemoryStoreRepository) FindIdempotencyRecordByKey(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	const op = "InMemoryStoreRepository.FindIdempotencyRecordByKey"
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[key]
	if !exists {
		return nil, fmt.Errorf("%s: IdempotencyRecord with key '%s' not found: %w", op, key, repository.ErrIdempotencyRecordNotFound)
	}
	return cloneIdempotencyRecord(rec), nil
}

// ExpireStaleLeases flips every IN_PROGRESS record whose lease lapsed before
// asOf into EXPIRED and returns the number of records transitioned.
func (r *InMemoryStoreRepository) ExpireStaleLeases(ctx context.Context, asOf time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired int64
	for _, rec := range r.records {
		if rec.Status == model.IdempotencyStatusInProgress && rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.Before(asOf) {
			rec.Status = model.IdempotencyStatusExpired
			rec.UpdatedAt = time.Now()
			rec.Version++
			expired++
			logger.Debugf("InMemoryStoreRepository: Expired stale lease for key '%s' (owner: %s).", rec.Key, rec.LeaseOwner)
		}
	}
	return expired, nil
}
