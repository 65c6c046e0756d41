package usecase

import (
	"context"
	"sync"
	"time"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// LeaseSweeper periodically expires stale leases so that keys whose worker
// died mid-flight become claimable again instead of staying IN_PROGRESS
// forever.
type LeaseSweeper struct {
	repo     repository.StoreRepository
	recorder metrics.MetricRecorder
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaseSweeper creates a new LeaseSweeper from the idempotency configuration.
func NewLeaseSweeper(repo repository.StoreRepository, recorder metrics.MetricRecorder, cfg *config.Config) *LeaseSweeper {
	interval := time.Duration(cfg.Swell.Batch.Idempotency.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &LeaseSweeper{
		repo:     repo,
		recorder: recorder,
		interval: interval,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *LeaseSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, done)
	logger.Infof("LeaseSweeper: Started with a sweep interval of %v.", s.interval)
}

// Stop terminates the sweep loop and waits for an in-flight sweep to finish.
// Calling Stop on a stopped sweeper is a no-op.
func (s *LeaseSweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Infof("LeaseSweeper: Stopped.")
}

func (s *LeaseSweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				logger.Errorf("LeaseSweeper: Sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce runs a single sweep pass and returns the number of leases expired.
// Expired leases are counted in metrics and recorded on the audit trail. The
// audit event is not tied to a single execution, so its execution ID is empty.
func (s *LeaseSweeper) SweepOnce(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireStaleLeases(ctx, time.Now())
	if err != nil {
		return 0, exception.NewBatchError("lease_sweeper", "Failed to expire stale leases", err, false, true)
	}
	if expired == 0 {
		return 0, nil
	}

	logger.Infof("LeaseSweeper: Expired %d stale lease(s).", expired)
	s.recorder.RecordLeaseExpired(ctx, expired)

	event := model.NewAuditEvent("", "", model.AuditLeaseExpired, true).WithDetail("expired_count", expired)
	if auditErr := s.repo.AppendAuditEvent(ctx, event); auditErr != nil {
		logger.Warnf("LeaseSweeper: Failed to append audit event for expired leases: %v", auditErr)
	}
	return expired, nil
}
