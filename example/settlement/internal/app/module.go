// Package app assembles the settlement example application. It selects the
// database adapters, binds the engine store repository and registers the
// application-side lifecycle glue around the batch engine.
package app

import (
	"context"
	"sync"

	"go.uber.org/fx"

	database "github.com/tigerroll/swell/pkg/batch/adapter/database"
	"github.com/tigerroll/swell/pkg/batch/adapter/database/dummy"
	gormadapter "github.com/tigerroll/swell/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/swell/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/swell/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/swell/pkg/batch/adapter/database/gorm/sqlite"
	storage "github.com/tigerroll/swell/pkg/batch/adapter/storage"
	"github.com/tigerroll/swell/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/swell/pkg/batch/adapter/storage/local"
	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/infrastructure/repository/inmemory"
	sql "github.com/tigerroll/swell/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/swell/pkg/batch/listener"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// DBProviderMap is used by main.go to dynamically select database providers.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"redshift": postgres.NewProvider, // Redshift speaks the Postgres protocol.
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}

// ConnectionCleanupParams collects every pooled provider that must be closed
// on shutdown.
type ConnectionCleanupParams struct {
	fx.In
	Lifecycle        fx.Lifecycle
	DBProviders      []database.DBProvider     `group:"db_providers"`
	StorageProviders []storage.StorageProvider `group:"storage_providers"`
}

// RegisterConnectionCleanup appends a shutdown hook that closes the connection
// pools of every registered database and storage provider.
func RegisterConnectionCleanup(p ConnectionCleanupParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Closing all database and storage connections...")
			var wg sync.WaitGroup
			var mu sync.Mutex
			var lastErr error

			record := func(err error) {
				mu.Lock()
				lastErr = err
				mu.Unlock()
			}

			for _, provider := range p.DBProviders {
				wg.Add(1)
				go func(dp database.DBProvider) {
					defer wg.Done()
					if err := dp.CloseAll(); err != nil {
						logger.Errorf("Failed to close connections for DB provider '%s': %v", dp.Type(), err)
						record(err)
					}
				}(provider)
			}
			for _, provider := range p.StorageProviders {
				wg.Add(1)
				go func(sp storage.StorageProvider) {
					defer wg.Done()
					if err := sp.CloseAll(); err != nil {
						logger.Errorf("Failed to close connections for storage provider '%s': %v", sp.Type(), err)
						record(err)
					}
				}(provider)
			}
			wg.Wait()
			return lastErr
		},
	})
}

// DatabaseStoreModule runs the engine store on the configured database.
var DatabaseStoreModule = fx.Options(
	// gormadapter.Module provides the transaction manager factory, the
	// connection resolver and the store-bound transaction manager.
	gormadapter.Module,
	fx.Provide(sql.NewStoreRepository),
)

// MemoryStoreModule runs the engine DB-less: the dummy adapter stack satisfies
// the resolver and transaction bindings while the in-memory repository carries
// the engine state. Idempotent replay then only deduplicates within the
// lifetime of the process.
var MemoryStoreModule = fx.Options(
	dummy.Module,
	inmemory.Module,
)

// Module defines the application's Fx module. It wires the storage backends
// for archive export and the completion signaler that lets main wait for the
// submitted execution to finish. The store stack is selected by main and
// passed separately.
var Module = fx.Options(
	storage.Module,
	local.Module,
	gcs.Module,

	fx.Provide(fx.Annotate(
		batchlistener.NewExecutionCompletionSignaler,
		fx.As(new(port.ExecutionListener)),
		fx.ResultTags(`group:"execution_listeners"`),
	)),

	fx.Invoke(RegisterConnectionCleanup),
)
