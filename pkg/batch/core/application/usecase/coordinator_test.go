package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

type capturingAdmitListener struct {
	mu        sync.Mutex
	keys      []string
	decisions []*model.AdmitDecision
}

func (l *capturingAdmitListener) OnAdmitDecision(_ context.Context, key, _ string, decision *model.AdmitDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.decisions = append(l.decisions, decision)
}

func newTestCoordinator(t *testing.T, leaseSeconds int, listeners ...port.AdmitListener) (*usecase.DefaultIdempotencyCoordinator, *inmemory.InMemoryStoreRepository) {
	t.Helper()
	repo := inmemory.NewInMemoryStoreRepository()
	cfg := config.NewConfig()
	cfg.Swell.Batch.Idempotency.LeaseSeconds = leaseSeconds
	return usecase.NewDefaultIdempotencyCoordinator(repo, cfg, listeners), repo
}

func TestAdmit_FirstSubmissionProceeds(t *testing.T) {
	coord, repo := newTestCoordinator(t, 300)
	ctx := context.Background()

	decision, err := coord.Admit(ctx, usecase.AdmitRequest{
		Key:           "CORE:SETTLEMENT:20250815:A1",
		CorrelationID: "corr-1",
		ExecutionID:   "exec-1",
	})
	require.NoError(t, err)

	assert.Equal(t, model.AdmitProceed, decision.Verdict)
	require.NotNil(t, decision.Lease)
	assert.Equal(t, "CORE:SETTLEMENT:20250815:A1", decision.Lease.Key)
	assert.Equal(t, coord.Owner(), decision.Lease.Owner)
	assert.Equal(t, "exec-1", decision.Lease.ExecutionID)
	assert.True(t, decision.Lease.ExpiresAt.After(time.Now()))

	record, err := repo.FindIdempotencyRecordByKey(ctx, "CORE:SETTLEMENT:20250815:A1")
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyStatusInProgress, record.Status)
	assert.Equal(t, "exec-1", record.ExecutionID)
}

func TestAdmit_CompletedKeyServesCachedResult(t *testing.T) {
	coord, _ := newTestCoordinator(t, 300)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:B2"

	first, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, CorrelationID: "corr-1", ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Verdict)

	summary := []byte(`{"executionId":"exec-1","exitStatus":"COMPLETED"}`)
	require.NoError(t, coord.Complete(ctx, first.Lease, summary))

	second, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, CorrelationID: "corr-2", ExecutionID: "exec-2"})
	require.NoError(t, err)
	assert.Equal(t, model.AdmitCached, second.Verdict)
	assert.Equal(t, summary, second.CachedResult)
	assert.Nil(t, second.Lease)
}

func TestAdmit_LiveLeaseRejectsDuplicate(t *testing.T) {
	coord, _ := newTestCoordinator(t, 300)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:C3"

	first, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, first.Verdict)

	second, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-2"})
	require.NoError(t, err)
	assert.Equal(t, model.AdmitRejectInProgress, second.Verdict)
	assert.Nil(t, second.Lease)
}

func TestAdmit_FailedKeyRetriesUntilBudgetExhausted(t *testing.T) {
	coord, _ := newTestCoordinator(t, 300)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:D4"

	// The default budget allows three failed attempts.
	for attempt := 1; attempt <= 3; attempt++ {
		decision, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: model.NewID()})
		require.NoError(t, err)
		require.Equal(t, model.AdmitProceed, decision.Verdict, "attempt %d should win the claim", attempt)
		require.NoError(t, coord.Fail(ctx, decision.Lease, assert.AnError))
	}

	decision, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: model.NewID()})
	require.NoError(t, err)
	assert.Equal(t, model.AdmitRejectMaxRetries, decision.Verdict)
}

func TestAdmit_ExactlyOneWinnerUnderContention(t *testing.T) {
	coord, _ := newTestCoordinator(t, 300)
	key := "CORE:SETTLEMENT:20250815:E5"

	const submitters = 32
	var wg sync.WaitGroup
	decisions := make([]*model.AdmitDecision, submitters)
	errs := make([]error, submitters)

	wg.Add(submitters)
	for i := 0; i < submitters; i++ {
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = coord.Admit(context.Background(), usecase.AdmitRequest{
				Key:         key,
				ExecutionID: model.NewID(),
			})
		}(i)
	}
	wg.Wait()

	var winners, rejected int
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		switch decisions[i].Verdict {
		case model.AdmitProceed:
			winners++
			require.NotNil(t, decisions[i].Lease)
		case model.AdmitRejectInProgress:
			rejected++
		default:
			t.Fatalf("unexpected verdict %s", decisions[i].Verdict)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, submitters-1, rejected)
}

func TestComplete_LostLeaseIsConflict(t *testing.T) {
	// A zero-second lease is stale immediately, letting the sweeper reclaim it.
	coord, repo := newTestCoordinator(t, 0)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:F6"

	decision, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.Equal(t, model.AdmitProceed, decision.Verdict)

	expired, err := repo.ExpireStaleLeases(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, expired)

	err = coord.Complete(ctx, decision.Lease, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, exception.IsConcurrentExecutionConflict(err))
}

func TestFail_ReleasesLeaseForNextAttempt(t *testing.T) {
	coord, repo := newTestCoordinator(t, 300)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:G7"

	first, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.NoError(t, coord.Fail(ctx, first.Lease, assert.AnError))

	record, err := repo.FindIdempotencyRecordByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.Empty(t, record.LeaseOwner)

	second, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-2"})
	require.NoError(t, err)
	assert.Equal(t, model.AdmitProceed, second.Verdict)
}

func TestAdmit_NotifiesListeners(t *testing.T) {
	listener := &capturingAdmitListener{}
	coord, _ := newTestCoordinator(t, 300, listener)
	ctx := context.Background()
	key := "CORE:SETTLEMENT:20250815:H8"

	_, err := coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-1", RandomFallback: true})
	require.NoError(t, err)
	_, err = coord.Admit(ctx, usecase.AdmitRequest{Key: key, ExecutionID: "exec-2"})
	require.NoError(t, err)

	require.Len(t, listener.decisions, 2)
	assert.Equal(t, []string{key, key}, listener.keys)
	assert.Equal(t, model.AdmitProceed, listener.decisions[0].Verdict)
	assert.True(t, listener.decisions[0].RandomFallback)
	assert.Equal(t, model.AdmitRejectInProgress, listener.decisions[1].Verdict)
	assert.False(t, listener.decisions[1].RandomFallback)
}
