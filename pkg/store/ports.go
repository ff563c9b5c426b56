// Package store defines the Persistence Ports (C5): typed operations
// against the transfer store, indexer-state store, and reorg-log store. All
// address and hash inputs are expected to be lowercased by the caller;
// implementations MAY lowercase defensively but MUST NOT reject
// mixed-case input.
package store

import (
	"context"
	"time"

	"github.com/chainindexor/erc20indexer/pkg/model"
)

// Ports is the full persistence surface the engine depends on. A single
// concrete implementation (internal/store/sqlite) satisfies it for the
// whole process; every operation either succeeds or fails with an
// errkind-classified error (Transient, Permanent, Conflict, NotFound).
type Ports interface {
	TransferStore
	IndexerStateStore
	ReorgStore
	ContractStore

	Close() error
}

// TransferStore persists Transfer rows.
type TransferStore interface {
	// UpsertTransfersBatch writes transfers under a single transaction,
	// keyed by (tx_hash, log_index, chain_id). On conflict it updates
	// amount, timestamp, block_hash, status, confirmations, is_confirmed.
	UpsertTransfersBatch(ctx context.Context, transfers []*model.Transfer) error

	// CountTransfersInRange returns the number of transfers for chainID
	// with block_number in (from, to].
	CountTransfersInRange(ctx context.Context, chainID uint64, from, to uint64) (uint64, error)

	// DeleteTransfersInRange deletes transfers for chainID with
	// block_number in (from, to], returning the deleted row count.
	DeleteTransfersInRange(ctx context.Context, chainID uint64, from, to uint64) (uint64, error)

	// GetStoredBlockHash returns the hash last recorded for chainID at
	// block, or ("", false) if no transfer at that block is stored.
	GetStoredBlockHash(ctx context.Context, chainID uint64, block uint64) (hash string, ok bool, err error)
}

// IndexerStateStore persists IndexerState rows, one per (chain, contract).
type IndexerStateStore interface {
	// GetOrCreateState atomically fetches or creates the state row for
	// (chainID, contractAddress), defaulting last_processed_block to
	// defaultStart on creation.
	GetOrCreateState(ctx context.Context, chainID uint64, contractAddress string, defaultStart uint64) (*model.IndexerState, error)

	UpdateStatus(ctx context.Context, chainID uint64, contractAddress string, status model.IndexerStatus) error

	UpdateCurrentBlock(ctx context.Context, chainID uint64, contractAddress string, head uint64) error

	// UpdateLastProcessedBlock advances last_processed_block to to,
	// increments transfers_indexed by addedTransfers (may be negative on
	// rollback), recomputes highest_processed_block and
	// blocks_per_second, and stamps last_indexed_at.
	UpdateLastProcessedBlock(ctx context.Context, chainID uint64, contractAddress string, to uint64, addedTransfers int64) error

	// ResetState clears is_catching_up and error_count and sets
	// last_processed_block = newStart.
	ResetState(ctx context.Context, chainID uint64, contractAddress string, newStart uint64) (*model.IndexerState, error)

	RecordError(ctx context.Context, chainID uint64, contractAddress string, msg string) error

	SetCatchingUp(ctx context.Context, chainID uint64, contractAddress string, catchingUp bool) error

	// GetAllRunningStates returns every IndexerState with status=running,
	// for startup resume, StopIndexer's queue-pause check, emergency
	// shutdown and the health cron.
	GetAllRunningStates(ctx context.Context) ([]*model.IndexerState, error)

	GetState(ctx context.Context, chainID uint64, contractAddress string) (*model.IndexerState, error)

	ListStates(ctx context.Context, chainID *uint64) ([]*model.IndexerState, error)
}

// ReorgStore persists Reorg rows.
type ReorgStore interface {
	CreateReorg(ctx context.Context, r *model.Reorg) error

	MarkReorgResolved(ctx context.Context, id int64, affected int64) error

	// GetReorgAtBlock supports the 24h dedup check in the reorg protocol.
	GetReorgAtBlock(ctx context.Context, chainID uint64, block uint64, within time.Duration) (*model.Reorg, error)

	ListReorgs(ctx context.Context, chainID *uint64, limit int) ([]*model.Reorg, error)
}

// ContractStore persists Contract rows.
type ContractStore interface {
	GetAllActiveContracts(ctx context.Context) ([]*model.Contract, error)

	GetContractByAddressAndChain(ctx context.Context, address string, chainID uint64) (*model.Contract, error)

	UpsertContract(ctx context.Context, c *model.Contract) error
}
