package storage

import (
	"go.uber.org/fx"
)

// Module exports the shared storage resolver for dependency injection.
// Concrete StorageProviders are exported by the backend subpackages.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewStorageConnectionResolver,
		fx.As(new(StorageConnectionResolver)),
	)),
)
