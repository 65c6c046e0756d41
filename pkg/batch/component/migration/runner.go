package migration

import (
	"context"
	"fmt"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/swell/pkg/batch/adapter/database"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// EngineSchemaRunner applies the embedded engine store schema to the database
// referenced by infrastructure.store_db_ref. It runs once at startup, before
// the store repository takes its first connection.
type EngineSchemaRunner struct {
	cfg      *config.Config
	resolver database.DBConnectionResolver
	engineFS fs.FS
}

// EngineSchemaRunnerParams defines the dependencies required to create an
// EngineSchemaRunner.
type EngineSchemaRunnerParams struct {
	fx.In
	// Cfg is the application configuration.
	Cfg *config.Config
	// Resolver resolves the store database connection by name.
	Resolver database.DBConnectionResolver
	// EngineFS holds the embedded engine migration scripts, one directory per
	// database type.
	EngineFS fs.FS `name:"engineMigrationsFS"`
}

// NewEngineSchemaRunner creates a new EngineSchemaRunner.
func NewEngineSchemaRunner(p EngineSchemaRunnerParams) *EngineSchemaRunner {
	return &EngineSchemaRunner{
		cfg:      p.Cfg,
		resolver: p.Resolver,
		engineFS: p.EngineFS,
	}
}

// Run resolves the store connection and applies all pending engine migrations.
// A run without a configured store_db_ref is a DB-less run and is skipped.
func (r *EngineSchemaRunner) Run(ctx context.Context) error {
	storeRef := r.cfg.Swell.Infrastructure.StoreDBRef
	if storeRef == "" {
		logger.Warnf("store_db_ref is not configured. Engine store migrations will be skipped.")
		return nil
	}

	logger.Infof("Running engine store migrations for database: %s", storeRef)

	conn, err := r.resolver.ResolveDBConnection(ctx, storeRef)
	if err != nil {
		return fmt.Errorf("failed to resolve store connection '%s' for engine migrations: %w", storeRef, err)
	}

	// A dummy connection backs DB-less runs and has no schema to migrate.
	if conn.Type() == "dummy" {
		logger.Infof("Store connection '%s' is a dummy connection. Skipping engine store migrations.", storeRef)
		return nil
	}

	migrator := NewMigrator(conn)
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warnf("Failed to close migrator for '%s': %v", storeRef, closeErr)
		}
	}()

	// The migration directory inside the embedded FS matches the database type.
	migrationDir := conn.Type()
	if err := migrator.Up(ctx, r.engineFS, migrationDir, EngineMigrationsTable); err != nil {
		return fmt.Errorf("failed to execute engine store migrations for %s: %w", conn.Name(), err)
	}

	logger.Infof("Engine store migrations for %s completed successfully.", conn.Name())
	return nil
}
