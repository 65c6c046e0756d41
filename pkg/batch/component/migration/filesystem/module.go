package filesystem

import (
	"go.uber.org/fx"
)

// EngineMigrationsFSTag is the Fx tag for the embedded engine migrations filesystem.
const EngineMigrationsFSTag = `name:"engineMigrationsFS"`

// Module provides the embedded engine migrations FS under its Fx tag.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		ProvideEngineMigrationsFS,
		fx.ResultTags(EngineMigrationsFSTag),
	)),
)
