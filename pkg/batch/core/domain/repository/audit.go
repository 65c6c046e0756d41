package repository

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// AuditRepository defines operations for the append-only audit trail.
type AuditRepository interface {
	// AppendAuditEvent persists a single audit event.
	AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error

	// FindAuditEventsByExecutionID returns the audit events of an execution
	// in the order they were recorded.
	FindAuditEventsByExecutionID(ctx context.Context, executionID string) ([]*model.AuditEvent, error)
}
