// Package migration applies versioned schema migrations to the databases the
// engine depends on. The engine store schema ships embedded in the binary and
// is applied at startup; applications can reuse the same Migrator for their
// own migration sets.
package migration

import (
	"context"
	"io/fs"
)

// Fixed table names for migration history tracking.
const (
	// EngineMigrationsTable tracks the engine-owned store schema.
	EngineMigrationsTable = "batch_engine_migrations"
	// AppMigrationsTable tracks application-owned schemas that ride on the
	// same migration machinery.
	AppMigrationsTable = "batch_app_migrations"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	// tableName is the history table used to track applied versions.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Close releases resources used by the migrator.
	Close() error
}
