package repository

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
)

// StagingRepository defines operations for the staged output of finalized executions.
type StagingRepository interface {
	// BulkInsertStagingRecords inserts staged records within the caller-managed
	// transaction. Records carry their final sequence numbers.
	BulkInsertStagingRecords(ctx context.Context, t tx.Tx, records []*model.StagingRecord) error

	// CountStagingRecordsByExecutionID counts the staged records of an execution.
	CountStagingRecordsByExecutionID(ctx context.Context, executionID string) (int64, error)

	// FindStagingRecordsBySequenceRange returns the staged records of an
	// execution whose sequence numbers fall in [fromSeq, toSeq], ordered by
	// sequence number. A toSeq of 0 means no upper bound.
	FindStagingRecordsBySequenceRange(ctx context.Context, executionID string, fromSeq int64, toSeq int64) ([]*model.StagingRecord, error)
}
