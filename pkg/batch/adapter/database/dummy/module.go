package dummy

import (
	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/swell/pkg/batch/core/adapter"
	"github.com/tigerroll/swell/pkg/batch/core/tx"
)

// Module provides the dummy database stack for DB-less runs. It is mutually
// exclusive with the gorm module: both bind the connection resolver and the
// store transaction manager.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewDummyDBProvider,
		fx.ResultTags(`group:"db_providers"`),
	)),
	fx.Provide(func() tx.TransactionManagerFactory { return &DummyTxManagerFactory{} }),
	fx.Provide(fx.Annotate(
		NewDummyTxManager,
		fx.ResultTags(`name:"store"`),
	)),
	fx.Provide(fx.Annotate(
		NewDummyDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
		fx.As(new(coreAdapter.ResourceConnectionResolver)),
	)),
)
