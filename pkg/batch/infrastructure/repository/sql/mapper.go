package sql

import (
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// --- Mapper functions ---

func fromDomainIdempotencyRecord(r *model.IdempotencyRecord) *IdempotencyRecordEntity {
	if r == nil {
		return nil
	}
	return &IdempotencyRecordEntity{
		IdempotencyKey: r.Key,
		CorrelationID:  r.CorrelationID,
		Status:         r.Status,
		RetryCount:     r.RetryCount,
		CachedResult:   r.CachedResult,
		LeaseOwner:     r.LeaseOwner,
		ExecutionID:    r.ExecutionID,
		LeaseExpiresAt: r.LeaseExpiresAt,
		CreateTime:     r.CreatedAt,
		LastUpdated:    r.UpdatedAt,
		Version:        r.Version,
	}
}

func toDomainIdempotencyRecord(entity *IdempotencyRecordEntity) *model.IdempotencyRecord {
	if entity == nil {
		return nil
	}
	return &model.IdempotencyRecord{
		Key:            entity.IdempotencyKey,
		CorrelationID:  entity.CorrelationID,
		Status:         entity.Status,
		RetryCount:     entity.RetryCount,
		CachedResult:   entity.CachedResult,
		LeaseOwner:     entity.LeaseOwner,
		ExecutionID:    entity.ExecutionID,
		LeaseExpiresAt: entity.LeaseExpiresAt,
		CreatedAt:      entity.CreateTime,
		UpdatedAt:      entity.LastUpdated,
		Version:        entity.Version,
	}
}

func fromDomainBatchExecution(e *model.BatchExecution) *BatchExecutionEntity {
	if e == nil {
		return nil
	}
	return &BatchExecutionEntity{
		ID:               e.ID,
		JobName:          e.JobName,
		SourceSystem:     e.SourceSystem,
		IdempotencyKey:   e.IdempotencyKey,
		CorrelationID:    e.CorrelationID,
		BusinessDate:     e.BusinessDate,
		Parameters:       e.Parameters,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		Status:           e.Status,
		ExitStatus:       e.ExitStatus,
		Failures:         e.Failures,
		Version:          e.Version,
		CreateTime:       e.CreateTime,
		LastUpdated:      e.LastUpdated,
		ExecutionContext: e.ExecutionContext,
		CurrentPhase:     e.CurrentPhase,
	}
}

func toDomainBatchExecution(entity *BatchExecutionEntity) *model.BatchExecution {
	if entity == nil {
		return nil
	}
	return &model.BatchExecution{
		ID:               entity.ID,
		JobName:          entity.JobName,
		SourceSystem:     entity.SourceSystem,
		IdempotencyKey:   entity.IdempotencyKey,
		CorrelationID:    entity.CorrelationID,
		BusinessDate:     entity.BusinessDate,
		Parameters:       entity.Parameters,
		StartTime:        entity.StartTime,
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         entity.Failures,
		Version:          entity.Version,
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		ExecutionContext: entity.ExecutionContext,
		CurrentPhase:     entity.CurrentPhase,
		// CancelFunc is runtime-only and not persisted.
	}
}

func fromDomainStagingRecord(r *model.StagingRecord) *StagingRecordEntity {
	if r == nil {
		return nil
	}
	return &StagingRecordEntity{
		ExecutionID:       r.ExecutionID,
		TransactionTypeID: r.TransactionTypeID,
		SequenceNumber:    r.SequenceNumber,
		RecordID:          r.RecordID,
		Payload:           r.Payload,
		ProcessingStatus:  r.ProcessingStatus,
		CorrelationID:     r.CorrelationID,
		CreateTime:        r.CreatedAt,
	}
}

func toDomainStagingRecord(entity *StagingRecordEntity) *model.StagingRecord {
	if entity == nil {
		return nil
	}
	return &model.StagingRecord{
		ExecutionID:       entity.ExecutionID,
		TransactionTypeID: entity.TransactionTypeID,
		SequenceNumber:    entity.SequenceNumber,
		RecordID:          entity.RecordID,
		Payload:           entity.Payload,
		ProcessingStatus:  entity.ProcessingStatus,
		CorrelationID:     entity.CorrelationID,
		CreatedAt:         entity.CreateTime,
	}
}

func fromDomainAuditEvent(e *model.AuditEvent) *AuditEventEntity {
	if e == nil {
		return nil
	}
	return &AuditEventEntity{
		ID:            e.ID,
		ExecutionID:   e.ExecutionID,
		CorrelationID: e.CorrelationID,
		EventType:     e.EventType,
		Success:       e.Success,
		EventTime:     e.Timestamp,
		Detail:        e.Detail,
	}
}

func toDomainAuditEvent(entity *AuditEventEntity) *model.AuditEvent {
	if entity == nil {
		return nil
	}
	return &model.AuditEvent{
		ID:            entity.ID,
		ExecutionID:   entity.ExecutionID,
		CorrelationID: entity.CorrelationID,
		EventType:     entity.EventType,
		Success:       entity.Success,
		Timestamp:     entity.EventTime,
		Detail:        entity.Detail,
	}
}
