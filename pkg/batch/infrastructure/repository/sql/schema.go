package sql

import (
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// IdempotencyRecordEntity is a schema model used for persistence.
type IdempotencyRecordEntity struct {
	IdempotencyKey string
	CorrelationID  string
	Status         model.IdempotencyStatus
	RetryCount     int
	CachedResult   []byte
	LeaseOwner     string
	ExecutionID    string
	LeaseExpiresAt *time.Time
	CreateTime     time.Time
	LastUpdated    time.Time
	Version        int
}

func (IdempotencyRecordEntity) TableName() string {
	return "batch_idempotency_record"
}

// BatchExecutionEntity is a schema model used for persistence.
type BatchExecutionEntity struct {
	ID               string
	JobName          string
	SourceSystem     string
	IdempotencyKey   string
	CorrelationID    string
	BusinessDate     string
	Parameters       model.SubmissionParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           model.ExecutionStatus
	ExitStatus       model.ExitStatus
	Failures         model.FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	ExecutionContext model.ExecutionContext
	CurrentPhase     string
}

func (BatchExecutionEntity) TableName() string {
	return "batch_execution"
}

// StagingRecordEntity is a schema model used for persistence.
type StagingRecordEntity struct {
	ExecutionID       string
	TransactionTypeID string
	SequenceNumber    int64
	RecordID          string
	Payload           model.PayloadMap
	ProcessingStatus  model.OutcomeStatus
	CorrelationID     string
	CreateTime        time.Time
}

func (StagingRecordEntity) TableName() string {
	return "batch_staging_record"
}

// AuditEventEntity is a schema model used for persistence.
type AuditEventEntity struct {
	ID            string
	ExecutionID   string
	CorrelationID string
	EventType     model.AuditEventType
	Success       bool
	EventTime     time.Time
	Detail        model.ExecutionContext
}

func (AuditEventEntity) TableName() string {
	return "batch_audit_event"
}
