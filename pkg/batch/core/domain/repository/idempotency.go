package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// ErrIdempotencyRecordNotFound is the error returned when an IdempotencyRecord is not found.
var ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")

func init() {
	// Register the error type in the registry upon framework startup.
	exception.RegisterErrorType("ErrIdempotencyRecordNotFound", ErrIdempotencyRecordNotFound)
}

// IdempotencyRepository defines operations for persisting and claiming idempotency records.
type IdempotencyRepository interface {
	// SaveIdempotencyRecord inserts a new record if none exists for its key.
	// An existing record for the key is left untouched.
	SaveIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error

	// ClaimForProcessing atomically transitions the record for key into
	// IN_PROGRESS and attaches a lease, provided the record is claimable:
	// NEW, EXPIRED, FAILED below maxRetries, or IN_PROGRESS with an already
	// expired lease. It returns true when this caller won the claim.
	ClaimForProcessing(ctx context.Context, key string, owner string, executionID string, leaseDuration time.Duration, maxRetries int) (bool, error)

	// UpdateIdempotencyRecord updates an existing record guarded by its Version.
	// It returns exception.ErrOptimisticLockingFailure when the stored version
	// no longer matches.
	UpdateIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord) error

	// FindIdempotencyRecordByKey finds a record by its idempotency key.
	FindIdempotencyRecordByKey(ctx context.Context, key string) (*model.IdempotencyRecord, error)

	// ExpireStaleLeases marks non-terminal records whose lease expired before
	// asOf as EXPIRED and returns the number of records transitioned.
	ExpireStaleLeases(ctx context.Context, asOf time.Time) (int64, error)
}
