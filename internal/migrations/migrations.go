// Package migrations embeds the SQLite schema for the indexer store and
// wires it through to the sql-migrate runner in internal/db.
package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/logger"
)

//go:embed 001_schema.sql
var mig001 string

// All returns the ordered list of migrations for the indexer schema.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_schema.sql", SQL: mig001},
	}
}

// RunMigrations applies all pending migrations against the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, All())
}

// RunMigrationsDB applies all pending migrations against an already-open
// database handle.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, All())
}
