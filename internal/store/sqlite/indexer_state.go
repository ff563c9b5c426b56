package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/russross/meddler"

	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/pkg/model"
)

// GetOrCreateState atomically fetches or creates the state row for
// (chainID, contractAddress), defaulting last_processed_block to
// defaultStart on creation.
func (s *Store) GetOrCreateState(ctx context.Context, chainID uint64, contractAddress string, defaultStart uint64) (*model.IndexerState, error) {
	state, err := s.GetState(ctx, chainID, contractAddress)
	if err == nil {
		return state, nil
	}
	if !errkind.Is(err, errkind.NotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indexer_state (
			chain_id, contract_address, last_processed_block, highest_processed_block,
			current_block, start_block, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, contract_address) DO NOTHING`,
		chainID, contractAddress, defaultStart, defaultStart, defaultStart, defaultStart, string(model.StatusStopped),
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "create indexer state", err)
	}

	return s.GetState(ctx, chainID, contractAddress)
}

// GetState fetches the state row for (chainID, contractAddress).
func (s *Store) GetState(ctx context.Context, chainID uint64, contractAddress string) (*model.IndexerState, error) {
	var row indexerStateRow
	err := meddler.QueryRow(s.db, &row,
		`SELECT * FROM indexer_state WHERE chain_id = ? AND contract_address = ?`,
		chainID, contractAddress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.New(errkind.NotFound, "indexer state not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "get indexer state", err)
	}
	return rowToIndexerState(&row), nil
}

// UpdateStatus sets the lifecycle status of the (chain, contract) state row.
func (s *Store) UpdateStatus(ctx context.Context, chainID uint64, contractAddress string, status model.IndexerStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE indexer_state SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		string(status), chainID, contractAddress,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "update indexer status", err)
	}
	return nil
}

// UpdateCurrentBlock records the most recently observed chain head.
func (s *Store) UpdateCurrentBlock(ctx context.Context, chainID uint64, contractAddress string, head uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE indexer_state SET current_block = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		head, chainID, contractAddress,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "update current block", err)
	}
	return nil
}

// UpdateLastProcessedBlock advances last_processed_block to to, increments
// transfers_indexed by addedTransfers (may be negative on rollback),
// recomputes highest_processed_block and blocks_per_second, and stamps
// last_indexed_at.
func (s *Store) UpdateLastProcessedBlock(ctx context.Context, chainID uint64, contractAddress string, to uint64, addedTransfers int64) error {
	state, err := s.GetState(ctx, chainID, contractAddress)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	highest := state.HighestProcessedBlock
	if to > highest {
		highest = to
	}

	blocksPerSecond := state.BlocksPerSecond
	if state.LastIndexedAt != nil && to > state.LastProcessedBlock {
		elapsed := now.Sub(*state.LastIndexedAt).Seconds()
		if elapsed > 0 {
			blocksPerSecond = float64(to-state.LastProcessedBlock) / elapsed
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE indexer_state SET
			last_processed_block = ?,
			highest_processed_block = ?,
			transfers_indexed = transfers_indexed + ?,
			blocks_per_second = ?,
			last_indexed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		to, highest, addedTransfers, blocksPerSecond, now, chainID, contractAddress,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "update last processed block", err)
	}
	return nil
}

// ResetState clears is_catching_up and error_count and sets
// last_processed_block = newStart.
func (s *Store) ResetState(ctx context.Context, chainID uint64, contractAddress string, newStart uint64) (*model.IndexerState, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE indexer_state SET
			last_processed_block = ?,
			is_catching_up = 0,
			error_count = 0,
			last_error = '',
			last_error_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		newStart, chainID, contractAddress,
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "reset indexer state", err)
	}
	return s.GetState(ctx, chainID, contractAddress)
}

// RecordError increments error_count and stamps last_error/last_error_at.
func (s *Store) RecordError(ctx context.Context, chainID uint64, contractAddress string, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE indexer_state SET
			error_count = error_count + 1,
			last_error = ?,
			last_error_at = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		msg, time.Now().UTC(), chainID, contractAddress,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "record indexer error", err)
	}
	return nil
}

// SetCatchingUp toggles the catch-up flag on the state row.
func (s *Store) SetCatchingUp(ctx context.Context, chainID uint64, contractAddress string, catchingUp bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE indexer_state SET is_catching_up = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE chain_id = ? AND contract_address = ?`,
		catchingUp, chainID, contractAddress,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "set catching up", err)
	}
	return nil
}

// GetAllRunningStates returns every IndexerState with status=running, for
// startup resume, StopIndexer's queue-pause check, emergency shutdown and
// the health cron.
func (s *Store) GetAllRunningStates(ctx context.Context) ([]*model.IndexerState, error) {
	var rows []*indexerStateRow
	err := meddler.QueryAll(s.db, &rows,
		`SELECT * FROM indexer_state WHERE status = ? ORDER BY chain_id, contract_address`,
		string(model.StatusRunning),
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "list running indexer states", err)
	}
	states := make([]*model.IndexerState, len(rows))
	for i, r := range rows {
		states[i] = rowToIndexerState(r)
	}
	return states, nil
}

// ListStates returns every indexer state, optionally filtered by chainID.
func (s *Store) ListStates(ctx context.Context, chainID *uint64) ([]*model.IndexerState, error) {
	var rows []*indexerStateRow
	var err error
	if chainID != nil {
		err = meddler.QueryAll(s.db, &rows,
			`SELECT * FROM indexer_state WHERE chain_id = ? ORDER BY contract_address`, *chainID)
	} else {
		err = meddler.QueryAll(s.db, &rows, `SELECT * FROM indexer_state ORDER BY chain_id, contract_address`)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "list indexer states", err)
	}
	states := make([]*model.IndexerState, len(rows))
	for i, r := range rows {
		states[i] = rowToIndexerState(r)
	}
	return states, nil
}
