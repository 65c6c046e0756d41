package inmemory

import (
	"context"
	"sort"

	"github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
)

// BulkInsertStagingRecords appends the given records to the execution's staging
// set. The transaction parameter is accepted for interface parity and ignored;
// the in-memory store commits under its own lock.
func (r *InMemoryStoreRepository) BulkInsertStagingRecords(ctx context.Context, t tx.Tx, records []*model.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.staging[rec.ExecutionID] = append(r.staging[rec.ExecutionID], cloneStagingRecord(rec))
	}
	return nil
}

// CountStagingRecordsByExecutionID returns the number of staged records for the execution.
func (r *InMemoryStoreRepository) CountStagingRecordsByExecutionID(ctx context.Context, executionID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.staging[executionID])), nil
}

// FindStagingRecordsBySequenceRange returns the execution's staged records with
// sequence numbers in [fromSeq, toSeq], ordered by ascending sequence number.
// A toSeq of 0 means no upper bound.
func (r *InMemoryStoreRepository) FindStagingRecordsBySequenceRange(ctx context.Context, executionID string, fromSeq, toSeq int64) ([]*model.StagingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*model.StagingRecord, 0)
	for _, rec := range r.staging[executionID] {
		if rec.SequenceNumber < fromSeq {
			continue
		}
		if toSeq > 0 && rec.SequenceNumber > toSeq {
			continue
		}
		results = append(results, cloneStagingRecord(rec))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].SequenceNumber < results[j].SequenceNumber
	})
	return results, nil
}
