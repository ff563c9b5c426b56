// Package sqlite implements pkg/store.Ports (C5) against a SQLite database,
// reusing the teacher's meddler-based row mapping and errgroup-bounded
// transaction style from internal/fetcher/store.
package sqlite

import (
	"database/sql"

	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/pkg/config"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

const maxConcurrency = 10

var _ store.Ports = (*Store)(nil)

// Store is the SQLite-backed implementation of store.Ports.
type Store struct {
	db                    *sql.DB
	log                   *logger.Logger
	retentionMaxAgeBlocks uint64
}

// New wraps an already-open, already-migrated database handle.
func New(db *sql.DB, log *logger.Logger, dbCfg config.DatabaseConfig) *Store {
	return &Store{
		db:                    db,
		log:                   log.WithComponent("store"),
		retentionMaxAgeBlocks: dbCfg.RetentionMaxAgeBlocks,
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
