package usecase

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	repository "github.com/tigerroll/swell/pkg/batch/core/domain/repository"
	identity "github.com/tigerroll/swell/pkg/batch/core/identity"
	metrics "github.com/tigerroll/swell/pkg/batch/core/metrics"
	merge "github.com/tigerroll/swell/pkg/batch/engine/merge"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
	partition "github.com/tigerroll/swell/pkg/batch/engine/partition"
	processor "github.com/tigerroll/swell/pkg/batch/engine/processor"
)

// IdempotencyCoordinatorParams aggregates the dependencies of the coordinator,
// collecting every admission listener registered in the group.
type IdempotencyCoordinatorParams struct {
	fx.In
	Repo      repository.StoreRepository
	Cfg       *config.Config
	Listeners []port.AdmitListener `group:"admit_listeners"`
}

// NewFxIdempotencyCoordinator adapts NewDefaultIdempotencyCoordinator to Fx.
func NewFxIdempotencyCoordinator(p IdempotencyCoordinatorParams) *DefaultIdempotencyCoordinator {
	return NewDefaultIdempotencyCoordinator(p.Repo, p.Cfg, p.Listeners)
}

// LeaseSweeperParams aggregates the dependencies of the lease sweeper.
type LeaseSweeperParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Repo      repository.StoreRepository
	Recorder  metrics.MetricRecorder
	Cfg       *config.Config
}

// NewFxLeaseSweeper creates the lease sweeper and ties its background loop to
// the application lifecycle.
func NewFxLeaseSweeper(p LeaseSweeperParams) *LeaseSweeper {
	sweeper := NewLeaseSweeper(p.Repo, p.Recorder, p.Cfg)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
	return sweeper
}

// BatchLauncherParams aggregates the dependencies of the launcher, collecting
// every execution and partition listener registered in the groups.
type BatchLauncherParams struct {
	fx.In
	Repo               repository.StoreRepository
	KeyGen             *identity.KeyGenerator
	Coordinator        IdempotencyCoordinator
	Planner            partition.Planner
	Processor          processor.Processor
	Merger             merge.ResultMerger
	Monitor            monitor.PerformanceMonitor
	Recorder           metrics.MetricRecorder
	ExecutionListeners []port.ExecutionListener `group:"execution_listeners"`
	PartitionListeners []port.PartitionListener `group:"partition_listeners"`
	Cfg                *config.Config
}

// NewFxBatchLauncher adapts NewDefaultBatchLauncher to Fx.
func NewFxBatchLauncher(p BatchLauncherParams) *DefaultBatchLauncher {
	return NewDefaultBatchLauncher(p.Repo, p.KeyGen, p.Coordinator, p.Planner, p.Processor, p.Merger, p.Monitor, p.Recorder, p.ExecutionListeners, p.PartitionListeners, p.Cfg)
}

// Module is the Fx module for the engine's application services: the
// idempotency coordinator with its lease sweeper, the launcher, the operator
// and the explorer.
var Module = fx.Options(
	fx.Provide(identity.NewKeyGenerator),

	// Provide IdempotencyCoordinator and its lease sweeper
	fx.Provide(fx.Annotate(
		NewFxIdempotencyCoordinator,
		fx.As(new(IdempotencyCoordinator)),
	)),
	fx.Provide(NewFxLeaseSweeper),
	// The sweeper has no downstream consumers; instantiate it eagerly so its
	// lifecycle hook is registered.
	fx.Invoke(func(_ *LeaseSweeper) {}),

	// Provide ExecutionExplorer
	fx.Provide(fx.Annotate(
		NewDefaultExecutionExplorer,
		fx.As(new(ExecutionExplorer)),
	)),
	// Provide ExecutionOperator
	fx.Provide(fx.Annotate(
		NewDefaultExecutionOperator,
		fx.As(new(ExecutionOperator)),
	)),

	// Provide BatchLauncher (uses constructor defined in launcher.go)
	fx.Provide(NewFxBatchLauncher),
	fx.Provide(fx.Annotate(
		func(launcher *DefaultBatchLauncher) BatchLauncher { return launcher },
		fx.As(new(BatchLauncher)),
	)),

	// Invoke hook to set the launcher in DefaultExecutionOperator
	fx.Invoke(func(operator ExecutionOperator, launcher *DefaultBatchLauncher) {
		// Downcast to the concrete type and hand it the launcher reference
		if defaultOperator, ok := operator.(*DefaultExecutionOperator); ok {
			defaultOperator.SetLauncher(launcher)
		}
	}),
)
