package partition

import (
	"context"
	"fmt"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// PartitionAssignment pairs one planned partition with the records assigned to it.
// Record order within an assignment preserves submission order.
type PartitionAssignment struct {
	Partition *model.Partition
	Records   []*model.SourceRecord
}

// PartitionPlan is the complete fan-out decision for one execution: which
// partitions run, which records each one owns, and how many may be active at
// once. Assignments are ordered by processing order, which equals ascending
// partition id.
type PartitionPlan struct {
	ExecutionID        string
	Assignments        []*PartitionAssignment
	SkippedRecords     int
	ActivePartitionCap int
}

// IsEmpty reports whether the plan contains no partitions at all, which
// short-circuits the pipeline into a no-op completion.
func (p *PartitionPlan) IsEmpty() bool {
	return len(p.Assignments) == 0
}

// TotalAssigned returns the number of records assigned across all partitions.
func (p *PartitionPlan) TotalAssigned() int {
	total := 0
	for _, a := range p.Assignments {
		total += len(a.Records)
	}
	return total
}

// Planner plans the partition fan-out of one admitted execution.
type Planner interface {
	// Plan derives one partition per active transaction-type definition and
	// assigns every record of a known active type to its partition. A positive
	// threadHint lowers the concurrently-active-partition cap; it never raises
	// it and never splits a type.
	Plan(ctx context.Context, execution *model.BatchExecution, records []*model.SourceRecord, threadHint int) (*PartitionPlan, error)
}

// DefaultPlanner implements Planner against the rulebook's transaction-type
// definitions.
type DefaultPlanner struct {
	ruleSource   port.RuleSource
	partitionCfg config.PartitionConfig
}

var _ Planner = (*DefaultPlanner)(nil)

// NewDefaultPlanner creates a new DefaultPlanner.
func NewDefaultPlanner(ruleSource port.RuleSource, cfg *config.Config) *DefaultPlanner {
	return &DefaultPlanner{
		ruleSource:   ruleSource,
		partitionCfg: cfg.Swell.Batch.Partition,
	}
}

// Plan builds the partition plan for one execution.
func (p *DefaultPlanner) Plan(ctx context.Context, execution *model.BatchExecution, records []*model.SourceRecord, threadHint int) (*PartitionPlan, error) {
	logger.Infof("PartitionPlanner: Plan method called. Execution ID: %s, Records: %d, Thread hint: %d", execution.ID, len(records), threadHint)

	ruleSet, err := p.ruleSource.Load(ctx)
	if err != nil {
		return nil, exception.NewBatchError("partition_planner", fmt.Sprintf("Plan processing error: Failed to load rulebook (Execution ID: %s)", execution.ID), err, false, true)
	}

	plan := &PartitionPlan{
		ExecutionID:        execution.ID,
		ActivePartitionCap: p.activePartitionCap(threadHint),
	}

	activeDefs := ruleSet.ActiveDefinitions()
	if len(activeDefs) == 0 {
		logger.Warnf("PartitionPlanner: Rulebook version '%s' has no active transaction types. Execution %s becomes a no-op.", ruleSet.Version(), execution.ID)
		return plan, nil
	}

	byType := make(map[string][]*model.SourceRecord, len(activeDefs))
	skippedByType := make(map[string]int)
	for _, record := range records {
		def, ok := ruleSet.Definition(record.TransactionType)
		if !ok || !def.Active {
			skippedByType[record.TransactionType]++
			plan.SkippedRecords++
			continue
		}
		byType[record.TransactionType] = append(byType[record.TransactionType], record)
	}
	for transactionType, count := range skippedByType {
		logger.Warnf("PartitionPlanner: Skipped %d record(s) of unknown or inactive transaction type '%s' (Execution ID: %s).", count, transactionType, execution.ID)
	}

	for _, def := range activeDefs {
		partition := model.NewPartition(execution.ID, def)
		p.applyDefaults(partition)
		plan.Assignments = append(plan.Assignments, &PartitionAssignment{
			Partition: partition,
			Records:   byType[def.TransactionType],
		})
	}

	logger.Debugf("PartitionPlanner: Planned %d partition(s) for execution %s (%d assigned, %d skipped, cap %d).",
		len(plan.Assignments), execution.ID, plan.TotalAssigned(), plan.SkippedRecords, plan.ActivePartitionCap)
	return plan, nil
}

// activePartitionCap resolves the outer concurrency cap. The configured
// maximum is the ceiling; a positive hint below it wins.
func (p *DefaultPlanner) activePartitionCap(threadHint int) int {
	limit := p.partitionCfg.MaxActivePartitions
	if limit <= 0 {
		limit = 1
	}
	if threadHint > 0 && threadHint < limit {
		limit = threadHint
	}
	return limit
}

// applyDefaults fills engine defaults for tuning knobs a definition left unset.
func (p *DefaultPlanner) applyDefaults(partition *model.Partition) {
	if partition.ThreadCount <= 0 {
		partition.ThreadCount = p.partitionCfg.DefaultThreadCount
	}
	if partition.ChunkSize <= 0 {
		partition.ChunkSize = p.partitionCfg.DefaultChunkSize
	}
	if partition.TimeoutSeconds <= 0 {
		partition.TimeoutSeconds = p.partitionCfg.DefaultTimeoutSeconds
	}
	if partition.ErrorThresholdPct <= 0 {
		partition.ErrorThresholdPct = p.partitionCfg.DefaultErrorThresholdPct
	}
}
