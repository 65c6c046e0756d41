package inmemory

import (
	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/core/domain/repository"
)

// Module provides the in-memory store repository for DB-less runs and tests.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryStoreRepository,
			fx.As(new(repository.StoreRepository)),
		),
	),
)
