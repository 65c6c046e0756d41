package merge

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
)

// ResultMergerParams defines the dependencies for DefaultResultMerger.
type ResultMergerParams struct {
	fx.In
	Lifecycle      fx.Lifecycle
	Repo           repository.StoreRepository
	StoreTxManager tx.TransactionManager `name:"store"`
	Cfg            *config.Config
	MergeListeners []port.MergeListener `group:"merge_listeners"`
	AlertListeners []port.AlertListener `group:"alert_listeners"`
	Recorder       metrics.MetricRecorder
}

// NewFxResultMerger builds the merger and ties its session timeout watchdog
// to the application lifecycle.
func NewFxResultMerger(p ResultMergerParams) *DefaultResultMerger {
	merger := NewDefaultResultMerger(p.Repo, p.StoreTxManager, p.Cfg, p.MergeListeners, p.AlertListeners, p.Recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			merger.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			merger.Stop()
			return nil
		},
	})
	return merger
}

// Module defines the Fx options for the result merger.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewFxResultMerger,
		fx.As(new(ResultMerger)),
	)),
)
