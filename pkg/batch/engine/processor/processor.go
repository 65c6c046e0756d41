package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// Processor transforms one partition's records into contained outcomes.
type Processor interface {
	// Process consumes the partition's records in chunkSize batches across a
	// worker pool of threadCount goroutines and returns one outcome per
	// processed record. A record's fault never aborts the partition; the
	// partition fails as a whole only on timeout, cancellation, or when the
	// error rate crosses the partition's threshold, and even then the
	// successful outcomes are returned.
	Process(ctx context.Context, partition *model.Partition, records []*model.SourceRecord) (*model.PartitionResult, error)
}

// PartitionProcessor implements Processor using the rulebook's compiled rules
// and the field cipher.
type PartitionProcessor struct {
	ruleSource       port.RuleSource
	cipher           port.FieldCipher
	failureListeners []port.RecordFailureListener
	recorder         metrics.MetricRecorder
	tracer           metrics.Tracer
}

var _ Processor = (*PartitionProcessor)(nil)

// NewPartitionProcessor creates a new PartitionProcessor.
func NewPartitionProcessor(
	ruleSource port.RuleSource,
	cipher port.FieldCipher,
	failureListeners []port.RecordFailureListener,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *PartitionProcessor {
	return &PartitionProcessor{
		ruleSource:       ruleSource,
		cipher:           cipher,
		failureListeners: failureListeners,
		recorder:         recorder,
		tracer:           tracer,
	}
}

// Process runs the chunked fan-out for one partition.
func (p *PartitionProcessor) Process(ctx context.Context, partition *model.Partition, records []*model.SourceRecord) (*model.PartitionResult, error) {
	logger.Infof("PartitionProcessor: Process method called. Partition: %s, Records: %d, Threads: %d, Chunk size: %d",
		partition.PartitionID, len(records), partition.ThreadCount, partition.ChunkSize)

	ruleSet, err := p.ruleSource.Load(ctx)
	if err != nil {
		return nil, exception.NewBatchError("partition_processor", fmt.Sprintf("Process error: Failed to load rulebook (Partition: %s)", partition.PartitionID), err, false, true)
	}
	rules, ok := ruleSet.RulesFor(partition.TransactionType)
	if !ok || len(rules) == 0 {
		return nil, exception.NewBatchError("partition_processor", fmt.Sprintf("Process error: No field mapping rules for transaction type '%s' (Partition: %s)", partition.TransactionType, partition.PartitionID), exception.ErrPartitionConfigurationMissing, false, false)
	}

	ctx, endSpan := p.tracer.StartPartitionSpan(ctx, partition)
	defer endSpan()

	pctx, cancel := context.WithTimeout(ctx, time.Duration(partition.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()

	// One slot per record; slots are written by worker goroutines at distinct
	// indices and compacted after the pool drains. The dispatch index is the
	// submission index, assigned before any work runs.
	slots := make([]model.RecordOutcome, len(records))
	done := make([]bool, len(records))

	pool := NewWorkerPool(partition.ThreadCount, partition.ChunkSize)
	chunkSize := partition.ChunkSize
	if chunkSize < 1 {
		chunkSize = 1
	}

dispatch:
	for chunkStart := 0; chunkStart < len(records); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(records) {
			chunkEnd = len(records)
		}

		var chunkWG sync.WaitGroup
		for i := chunkStart; i < chunkEnd; i++ {
			i := i
			chunkWG.Add(1)
			pool.Submit(func() {
				defer chunkWG.Done()
				if pctx.Err() != nil {
					return
				}
				slots[i] = p.transformRecord(partition, rules, records[i], i)
				done[i] = true
			})
		}
		chunkWG.Wait()

		if pctx.Err() != nil {
			break dispatch
		}
	}
	pool.Shutdown()

	result := p.collect(ctx, partition, slots, done, len(records), time.Since(start), pctx.Err())
	logger.Infof("PartitionProcessor: Partition %s finished with status %s (%d/%d processed, %d errors).",
		partition.PartitionID, result.Status, len(result.Outcomes), len(records), result.Metrics.ErrorCount())
	return result, nil
}

// collect compacts the outcome slots, computes metrics and decides the
// partition status. Failure listeners are notified here, after the pool has
// drained, so notification order follows dispatch order.
func (p *PartitionProcessor) collect(ctx context.Context, partition *model.Partition, slots []model.RecordOutcome, done []bool, total int, elapsed time.Duration, ctxErr error) *model.PartitionResult {
	result := &model.PartitionResult{
		PartitionID:     partition.PartitionID,
		ExecutionID:     partition.ExecutionID,
		TransactionType: partition.TransactionType,
		IsolationLevel:  partition.IsolationLevel,
	}

	for i, outcome := range slots {
		if !done[i] {
			continue
		}
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Status {
		case model.OutcomeSuccess:
			result.Metrics.SuccessCount++
		case model.OutcomeValidationError:
			result.Metrics.ValidationErrorCount++
		case model.OutcomeFailure:
			result.Metrics.FailureCount++
		}
		p.recorder.RecordRecordOutcome(ctx, partition.TransactionType, outcome.Status)
		if outcome.Status != model.OutcomeSuccess {
			for _, l := range p.failureListeners {
				l.OnRecordFailure(ctx, partition, outcome)
			}
		}
	}

	result.Metrics.TotalCount = total
	result.Metrics.DurationMs = elapsed.Milliseconds()
	if seconds := elapsed.Seconds(); seconds > 0 {
		result.Metrics.ThroughputPerSec = float64(len(result.Outcomes)) / seconds
	}

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		result.TimedOut = true
		result.Status = model.BatchStatusFailed
		result.FailureReason = fmt.Sprintf("partition timed out after %ds with %d of %d records processed", partition.TimeoutSeconds, len(result.Outcomes), total)
		p.tracer.RecordError(ctx, "partition_processor", fmt.Errorf("%s", result.FailureReason))
	case ctxErr != nil:
		result.Status = model.BatchStatusFailed
		result.FailureReason = fmt.Sprintf("partition processing canceled with %d of %d records processed", len(result.Outcomes), total)
	case result.Metrics.ErrorRatePct() > partition.ErrorThresholdPct:
		result.Status = model.BatchStatusFailed
		result.FailureReason = fmt.Sprintf("error rate %.2f%% exceeded threshold %.2f%%", result.Metrics.ErrorRatePct(), partition.ErrorThresholdPct)
		p.tracer.RecordError(ctx, "partition_processor", exception.ErrPartitionErrorThresholdExceeded)
	default:
		result.Status = model.BatchStatusCompleted
	}
	return result
}

// transformRecord applies the compiled rules of the partition's transaction
// type to one record. Faults are contained in the outcome: a required field
// that is missing or empty yields VALIDATION_ERROR, a transformation or
// encryption fault yields FAILURE. Failed outcomes never carry a payload, and
// the error detail of an encrypted field never echoes the field value.
func (p *PartitionProcessor) transformRecord(partition *model.Partition, rules []port.CompiledRule, record *model.SourceRecord, dispatchIndex int) model.RecordOutcome {
	start := time.Now()
	outcome := model.RecordOutcome{
		RecordID:      record.RecordID,
		DispatchIndex: dispatchIndex,
	}

	payload := make(map[string]string, len(rules))
	for _, rule := range rules {
		value, present := record.Fields[rule.SourceField()]
		if rule.ValidationRequired() && (!present || value == "") {
			outcome.Status = model.OutcomeValidationError
			outcome.ErrorDetail = fmt.Sprintf("required field '%s' is missing or empty", rule.SourceField())
			outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
			return outcome
		}

		transformed, err := rule.Apply(value)
		if err != nil {
			outcome.Status = model.OutcomeFailure
			outcome.ErrorDetail = ruleFaultDetail(rule, "transformation", err)
			outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
			return outcome
		}

		if level := rule.EncryptionLevel(); level != model.EncryptionNone {
			ciphertext, err := p.cipher.EncryptField(transformed, level, partition.ExecutionID)
			if err != nil {
				outcome.Status = model.OutcomeFailure
				outcome.ErrorDetail = ruleFaultDetail(rule, "encryption", err)
				outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
				return outcome
			}
			transformed = ciphertext
		}

		payload[rule.TargetField()] = transformed
	}

	outcome.Status = model.OutcomeSuccess
	outcome.TransformedPayload = payload
	outcome.ProcessingTimeMs = time.Since(start).Milliseconds()
	return outcome
}

// ruleFaultDetail builds the error detail for a rule fault. For fields with an
// encryption level the underlying error is withheld because parser errors can
// echo the plaintext value.
func ruleFaultDetail(rule port.CompiledRule, stage string, err error) string {
	if rule.EncryptionLevel() != model.EncryptionNone {
		return fmt.Sprintf("%s of field '%s' failed", stage, rule.SourceField())
	}
	return fmt.Sprintf("%s of field '%s' failed: %v", stage, rule.SourceField(), err)
}
