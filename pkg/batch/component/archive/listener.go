package archive

import (
	"context"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// ArchiveExecutionListener exports the staged output of every execution that
// finishes with a COMPLETED exit status. Export failures are logged and never
// fed back into the pipeline result.
type ArchiveExecutionListener struct {
	archiver Archiver
}

// NewArchiveExecutionListener creates the listener around an Archiver.
func NewArchiveExecutionListener(archiver Archiver) *ArchiveExecutionListener {
	return &ArchiveExecutionListener{archiver: archiver}
}

// BeforeExecution does nothing; archiving only happens after finalization.
func (l *ArchiveExecutionListener) BeforeExecution(ctx context.Context, execution *model.BatchExecution) {
}

// AfterExecution archives completed executions. NOOP runs stage nothing and
// failed or stopped runs were never finalized, so both are skipped.
func (l *ArchiveExecutionListener) AfterExecution(ctx context.Context, execution *model.BatchExecution) {
	if execution.ExitStatus != model.ExitStatusCompleted {
		return
	}

	result, err := l.archiver.Archive(ctx, execution)
	if err != nil {
		logger.Errorf("Archive: failed to export staging records of execution %s: %v", execution.ID, err)
		return
	}
	if len(result.ObjectNames) > 0 {
		logger.Infof("Archive: execution %s exported %d staged record(s) as %d object(s).", execution.ID, result.RecordCount, len(result.ObjectNames))
	}
}

var _ port.ExecutionListener = (*ArchiveExecutionListener)(nil)
