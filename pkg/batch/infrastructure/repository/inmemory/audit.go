package inmemory

import (
	"context"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// AppendAuditEvent records one audit event in arrival order.
func (r *InMemoryStoreRepository) AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audits[event.ExecutionID] = append(r.audits[event.ExecutionID], cloneAuditEvent(event))
	return nil
}

// FindAuditEventsByExecutionID returns the execution's audit trail in the order
// the events were appended.
func (r *InMemoryStoreRepository) FindAuditEventsByExecutionID(ctx context.Context, executionID string) ([]*model.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.audits[executionID]
	results := make([]*model.AuditEvent, 0, len(events))
	for _, event := range events {
		results = append(results, cloneAuditEvent(event))
	}
	return results, nil
}
