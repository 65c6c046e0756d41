package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// AdmitRequest carries everything the coordinator needs to decide whether a
// submission may proceed under its idempotency key.
type AdmitRequest struct {
	Key            string
	CorrelationID  string
	ExecutionID    string
	RandomFallback bool
}

// IdempotencyCoordinator is the admission gate of the engine. Every submission
// passes through Admit before any record is processed, and every held lease is
// sealed through exactly one of Complete or Fail.
type IdempotencyCoordinator interface {
	// Admit decides the fate of a submission under its idempotency key.
	// Exactly one of any number of concurrent callers for the same key
	// receives a PROCEED verdict with a lease.
	Admit(ctx context.Context, req AdmitRequest) (*model.AdmitDecision, error)

	// Complete seals a held lease with the execution's result summary.
	// Later submissions of the same key are served the summary from cache.
	Complete(ctx context.Context, lease *model.Lease, result []byte) error

	// Fail releases a held lease after a failed execution, consuming one
	// retry from the key's budget.
	Fail(ctx context.Context, lease *model.Lease, cause error) error
}

// DefaultIdempotencyCoordinator implements IdempotencyCoordinator on top of
// the store repository's atomic claim operation.
type DefaultIdempotencyCoordinator struct {
	repo          repository.StoreRepository
	listeners     []port.AdmitListener
	owner         string
	leaseDuration time.Duration
	maxRetries    int
}

var _ IdempotencyCoordinator = (*DefaultIdempotencyCoordinator)(nil)

// NewDefaultIdempotencyCoordinator creates a new DefaultIdempotencyCoordinator.
// The lease owner identity is derived from the hostname and a random suffix so
// that leases are attributable to one engine instance.
func NewDefaultIdempotencyCoordinator(repo repository.StoreRepository, cfg *config.Config, listeners []port.AdmitListener) *DefaultIdempotencyCoordinator {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "swell"
	}
	return &DefaultIdempotencyCoordinator{
		repo:          repo,
		listeners:     listeners,
		owner:         fmt.Sprintf("%s-%s", hostname, model.NewID()[:8]),
		leaseDuration: time.Duration(cfg.Swell.Batch.Idempotency.LeaseSeconds) * time.Second,
		maxRetries:    cfg.Swell.Batch.Idempotency.MaxRetries,
	}
}

// Owner returns the lease owner identity of this coordinator instance.
func (c *DefaultIdempotencyCoordinator) Owner() string {
	return c.owner
}

// Admit inserts the key's record if absent, then attempts the atomic claim.
// Losing the claim is not an error; the verdict tells the caller what to do
// instead of processing.
func (c *DefaultIdempotencyCoordinator) Admit(ctx context.Context, req AdmitRequest) (*model.AdmitDecision, error) {
	logger.Infof("IdempotencyCoordinator: Admit method called. Key: %s, Execution ID: %s", req.Key, req.ExecutionID)

	record := model.NewIdempotencyRecord(req.Key, req.CorrelationID)
	if err := c.repo.SaveIdempotencyRecord(ctx, record); err != nil {
		return nil, exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Admit processing error: Failed to save IdempotencyRecord (Key: %s)", req.Key), err, false, true)
	}

	claimed, err := c.repo.ClaimForProcessing(ctx, req.Key, c.owner, req.ExecutionID, c.leaseDuration, c.maxRetries)
	if err != nil {
		return nil, exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Admit processing error: Failed to claim IdempotencyRecord (Key: %s)", req.Key), err, false, true)
	}

	decision, err := c.buildDecision(ctx, req, claimed)
	if err != nil {
		return nil, err
	}

	c.notifyAdmitListeners(ctx, req, decision)
	logger.Debugf("IdempotencyCoordinator: Admit decided %s for key '%s'.", decision.Verdict, req.Key)
	return decision, nil
}

// buildDecision loads the record once after the claim attempt and classifies
// the outcome. On a won claim the stored lease expiry is authoritative.
func (c *DefaultIdempotencyCoordinator) buildDecision(ctx context.Context, req AdmitRequest, claimed bool) (*model.AdmitDecision, error) {
	current, err := c.repo.FindIdempotencyRecordByKey(ctx, req.Key)
	if err != nil {
		return nil, exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Admit processing error: Failed to load IdempotencyRecord (Key: %s)", req.Key), err, false, true)
	}

	if claimed {
		expiresAt := time.Now().Add(c.leaseDuration)
		if current.LeaseExpiresAt != nil {
			expiresAt = *current.LeaseExpiresAt
		}
		return &model.AdmitDecision{
			Verdict: model.AdmitProceed,
			Lease: &model.Lease{
				Key:         req.Key,
				Owner:       c.owner,
				ExecutionID: req.ExecutionID,
				ExpiresAt:   expiresAt,
			},
			RandomFallback: req.RandomFallback,
		}, nil
	}

	switch {
	case current.Status == model.IdempotencyStatusCompleted:
		return &model.AdmitDecision{
			Verdict:        model.AdmitCached,
			CachedResult:   current.CachedResult,
			RandomFallback: req.RandomFallback,
		}, nil
	case current.Status == model.IdempotencyStatusFailed && !current.CanRetry(c.maxRetries):
		return &model.AdmitDecision{
			Verdict:        model.AdmitRejectMaxRetries,
			RandomFallback: req.RandomFallback,
		}, nil
	default:
		// Another worker holds the key, or a racing transition is in flight.
		return &model.AdmitDecision{
			Verdict:        model.AdmitRejectInProgress,
			RandomFallback: req.RandomFallback,
		}, nil
	}
}

// Complete transitions the leased record to COMPLETED and stores the result
// summary for later CACHED verdicts. A persistence failure here is
// pipeline-stopping and is reported to the caller rather than swallowed.
func (c *DefaultIdempotencyCoordinator) Complete(ctx context.Context, lease *model.Lease, result []byte) error {
	logger.Infof("IdempotencyCoordinator: Complete method called. Key: %s, Execution ID: %s", lease.Key, lease.ExecutionID)

	record, err := c.loadHeldRecord(ctx, lease, "Complete")
	if err != nil {
		return err
	}

	if err := record.MarkCompleted(result); err != nil {
		return exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Complete processing error: Invalid transition for IdempotencyRecord (Key: %s)", lease.Key), err, false, false)
	}
	if err := c.repo.UpdateIdempotencyRecord(ctx, record); err != nil {
		return exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Complete processing error: Failed to update IdempotencyRecord (Key: %s)", lease.Key), err, false, true)
	}
	return nil
}

// Fail transitions the leased record to FAILED, consuming one retry. The next
// Admit for this key wins the claim again while the budget lasts.
func (c *DefaultIdempotencyCoordinator) Fail(ctx context.Context, lease *model.Lease, cause error) error {
	logger.Infof("IdempotencyCoordinator: Fail method called. Key: %s, Execution ID: %s, Cause: %v", lease.Key, lease.ExecutionID, cause)

	record, err := c.loadHeldRecord(ctx, lease, "Fail")
	if err != nil {
		return err
	}

	if err := record.MarkFailed(); err != nil {
		return exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Fail processing error: Invalid transition for IdempotencyRecord (Key: %s)", lease.Key), err, false, false)
	}
	if err := c.repo.UpdateIdempotencyRecord(ctx, record); err != nil {
		return exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("Fail processing error: Failed to update IdempotencyRecord (Key: %s)", lease.Key), err, false, true)
	}
	logger.Debugf("IdempotencyCoordinator: Key '%s' failed, retry count is now %d of %d.", lease.Key, record.RetryCount, c.maxRetries)
	return nil
}

// loadHeldRecord loads the record behind a lease and verifies the lease is
// still held by this coordinator. A lost lease (sweeper expiry followed by
// another worker's takeover) yields ErrConcurrentExecutionConflict.
func (c *DefaultIdempotencyCoordinator) loadHeldRecord(ctx context.Context, lease *model.Lease, op string) (*model.IdempotencyRecord, error) {
	record, err := c.repo.FindIdempotencyRecordByKey(ctx, lease.Key)
	if err != nil {
		return nil, exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("%s processing error: Failed to load IdempotencyRecord (Key: %s)", op, lease.Key), err, false, true)
	}
	if record.Status != model.IdempotencyStatusInProgress || record.LeaseOwner != lease.Owner || record.ExecutionID != lease.ExecutionID {
		logger.Warnf("IdempotencyCoordinator: Lease for key '%s' is no longer held by '%s' (status: %s, owner: %s).", lease.Key, lease.Owner, record.Status, record.LeaseOwner)
		return nil, exception.NewBatchError("idempotency_coordinator", fmt.Sprintf("%s processing error: Lease for key '%s' was lost", op, lease.Key), exception.ErrConcurrentExecutionConflict, false, false)
	}
	return record, nil
}

func (c *DefaultIdempotencyCoordinator) notifyAdmitListeners(ctx context.Context, req AdmitRequest, decision *model.AdmitDecision) {
	for _, l := range c.listeners {
		l.OnAdmitDecision(ctx, req.Key, req.CorrelationID, decision)
	}
}
