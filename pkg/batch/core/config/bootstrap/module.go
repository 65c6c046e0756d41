// Package bootstrap assembles the engine core into one Fx module and registers
// the hooks that prepare a process for accepting submissions: logging level,
// engine store schema and rulebook compilation.
package bootstrap

import (
	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/component/crypto"
	"github.com/tigerroll/swell/pkg/batch/component/migration"
	"github.com/tigerroll/swell/pkg/batch/component/rulebook"
	usecase "github.com/tigerroll/swell/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	merge "github.com/tigerroll/swell/pkg/batch/engine/merge"
	monitor "github.com/tigerroll/swell/pkg/batch/engine/monitor"
	partition "github.com/tigerroll/swell/pkg/batch/engine/partition"
	processor "github.com/tigerroll/swell/pkg/batch/engine/processor"
)

// Module provides the engine core to Fx. Applications mount this plus their
// infrastructure choices: a store repository (SQL or in-memory), database and
// storage providers, a metric recorder and the listener set.
var Module = fx.Options(
	fx.Invoke(ApplyLoggingConfigHook),

	config.Module,

	// Rule evaluation dependencies of the partition processor.
	rulebook.Module,
	crypto.Module,

	// The processing pipeline and the application services above it.
	partition.Module,
	processor.Module,
	merge.Module,
	monitor.Module,
	usecase.Module,

	// Engine store schema, applied at startup.
	migration.Module,
	fx.Invoke(RunStoreMigrationsHook),

	fx.Invoke(WarmRulebookHook),
)
