package archive

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/swell/pkg/batch/adapter/storage"
	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// NewFxArchiver builds the configured archiver. With the export disabled the
// listener still registers but runs against the no-op archiver.
func NewFxArchiver(
	cfg *config.Config,
	repo repository.StoreRepository,
	resolver storageAdapter.StorageConnectionResolver,
) (Archiver, error) {
	if !cfg.Swell.Archive.Enabled {
		logger.Debugf("Archive: staging export is disabled.")
		return NoOpArchiver{}, nil
	}
	return NewStagingArchiver(cfg.Swell.Archive, repo, resolver)
}

// Module provides the staging archiver and registers its execution listener.
var Module = fx.Options(
	fx.Provide(NewFxArchiver),
	fx.Provide(NewArchiveExecutionListener),
	fx.Provide(fx.Annotate(
		func(l *ArchiveExecutionListener) port.ExecutionListener { return l },
		fx.ResultTags(`group:"execution_listeners"`),
	)),
)
