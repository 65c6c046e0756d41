package gorm

import (
	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
)

// Module exports the components of the gorm adapter package for dependency injection.
// Concrete DBProviders are exported by the driver subpackages.
var Module = fx.Options(
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
		fx.As(new(coreAdapter.ResourceConnectionResolver)),
	)),
	// Tagged as "store" for injection into the repository and the merger.
	fx.Provide(fx.Annotate(
		NewStoreTxManager,
		fx.ResultTags(`name:"store"`),
	)),
)
