package inmemory

import (
	"sync"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/domain/repository"
)

// InMemoryStoreRepository keeps the full store state in process memory.
// It backs DB-less runs and tests; all methods are safe for concurrent use.
type InMemoryStoreRepository struct {
	records    map[string]*model.IdempotencyRecord // keyed by idempotency key
	executions map[string]*model.BatchExecution    // keyed by execution ID
	staging    map[string][]*model.StagingRecord   // keyed by execution ID
	audits     map[string][]*model.AuditEvent      // keyed by execution ID
	mu         sync.RWMutex
}

func NewInMemoryStoreRepository() *InMemoryStoreRepository {
	return &InMemoryStoreRepository{
		records:    make(map[string]*model.IdempotencyRecord),
		executions: make(map[string]*model.BatchExecution),
		staging:    make(map[string][]*model.StagingRecord),
		audits:     make(map[string][]*model.AuditEvent),
	}
}

// Close releases nothing; the in-memory store has no external resources.
func (r *InMemoryStoreRepository) Close() error {
	return nil
}

// cloneIdempotencyRecord copies a record so callers can never mutate stored state.
func cloneIdempotencyRecord(rec *model.IdempotencyRecord) *model.IdempotencyRecord {
	if rec == nil {
		return nil
	}
	clone := *rec
	if rec.LeaseExpiresAt != nil {
		t := *rec.LeaseExpiresAt
		clone.LeaseExpiresAt = &t
	}
	if rec.CachedResult != nil {
		clone.CachedResult = append([]byte(nil), rec.CachedResult...)
	}
	return &clone
}

// cloneBatchExecution copies an execution. CancelFunc is runtime-only state and
// never survives a round trip through the store.
func cloneBatchExecution(exec *model.BatchExecution) *model.BatchExecution {
	if exec == nil {
		return nil
	}
	clone := *exec
	if exec.EndTime != nil {
		t := *exec.EndTime
		clone.EndTime = &t
	}
	if exec.Parameters.Params != nil {
		params := make(map[string]interface{}, len(exec.Parameters.Params))
		for k, v := range exec.Parameters.Params {
			params[k] = v
		}
		clone.Parameters = model.SubmissionParameters{Params: params}
	}
	if exec.Failures != nil {
		clone.Failures = append(model.FailureList(nil), exec.Failures...)
	}
	if exec.ExecutionContext != nil {
		clone.ExecutionContext = exec.ExecutionContext.Copy()
	}
	clone.CancelFunc = nil
	return &clone
}

func cloneStagingRecord(rec *model.StagingRecord) *model.StagingRecord {
	if rec == nil {
		return nil
	}
	clone := *rec
	if rec.Payload != nil {
		payload := make(model.PayloadMap, len(rec.Payload))
		for k, v := range rec.Payload {
			payload[k] = v
		}
		clone.Payload = payload
	}
	return &clone
}

func cloneAuditEvent(event *model.AuditEvent) *model.AuditEvent {
	if event == nil {
		return nil
	}
	clone := *event
	if event.Detail != nil {
		clone.Detail = event.Detail.Copy()
	}
	return &clone
}

var _ repository.StoreRepository = (*InMemoryStoreRepository)(nil)
