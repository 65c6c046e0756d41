package migration

import (
	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/component/migration/filesystem"
)

// Module provides the engine schema runner together with the embedded
// migration scripts it applies. The startup hook that invokes the runner is
// registered by the bootstrap module.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(NewEngineSchemaRunner),
)
