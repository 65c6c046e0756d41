// Package filesystem embeds the engine store migration scripts and exposes
// them as an fs.FS, one directory per supported database type.
package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

//go:embed resource
var rawEngineMigrationFS embed.FS

// ProvideEngineMigrationsFS exposes the contents of the 'resource' directory
// directly, so callers reference 'postgres', 'mysql' or 'sqlite' without a
// prefix.
func ProvideEngineMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawEngineMigrationFS, "resource")
	if err != nil {
		// This should not happen if 'resource' exists.
		logger.Fatalf("Failed to create subdirectory for engine migration FS: %v", err)
	}
	return subFS
}
