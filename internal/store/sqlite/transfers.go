package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/pkg/model"
)

const upsertTransferSQL = `
INSERT INTO transfers (
	chain_id, tx_hash, log_index, block_number, block_hash, timestamp,
	from_address, to_address, amount, contract_id, contract_address,
	confirmations, is_confirmed, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tx_hash, log_index, chain_id) DO UPDATE SET
	amount = excluded.amount,
	timestamp = excluded.timestamp,
	block_hash = excluded.block_hash,
	status = excluded.status,
	confirmations = excluded.confirmations,
	is_confirmed = excluded.is_confirmed,
	updated_at = CURRENT_TIMESTAMP
`

// UpsertTransfersBatch writes transfers under a single transaction, keyed by
// (tx_hash, log_index, chain_id), fanning the inserts out across a bounded
// worker pool the way internal/fetcher/store.storeLogsInternal does.
func (s *Store) UpsertTransfersBatch(ctx context.Context, transfers []*model.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "begin transaction", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transfers batch: %v", rerr)
		}
	}()

	g, errCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for _, t := range transfers {
		t := t
		g.Go(func() error {
			row := transferToRow(t)
			_, err := tx.ExecContext(errCtx, upsertTransferSQL,
				row.ChainID, row.TxHash, row.LogIndex, row.BlockNumber, row.BlockHash,
				row.Timestamp, row.FromAddress, row.ToAddress, row.Amount.String(),
				row.ContractID, row.ContractAddress, row.Confirmations, row.IsConfirmed, row.Status,
			)
			if err != nil {
				return errkind.Wrap(errkind.Permanent, "upsert transfer", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.Transient, "commit transfers batch", err)
	}

	return nil
}

// CountTransfersInRange returns the number of transfers for chainID with
// block_number in (from, to].
func (s *Store) CountTransfersInRange(ctx context.Context, chainID uint64, from, to uint64) (uint64, error) {
	var count uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE chain_id = ? AND block_number > ? AND block_number <= ?`,
		chainID, from, to,
	).Scan(&count)
	if err != nil {
		return 0, errkind.Wrap(errkind.Transient, "count transfers in range", err)
	}
	return count, nil
}

// DeleteTransfersInRange deletes transfers for chainID with block_number in
// (from, to], returning the deleted row count. Used by the reorg protocol's
// rollback step.
func (s *Store) DeleteTransfersInRange(ctx context.Context, chainID uint64, from, to uint64) (uint64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM transfers WHERE chain_id = ? AND block_number > ? AND block_number <= ?`,
		chainID, from, to,
	)
	if err != nil {
		return 0, errkind.Wrap(errkind.Transient, "delete transfers in range", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errkind.Wrap(errkind.Transient, "read rows affected", err)
	}
	return uint64(affected), nil
}

// GetStoredBlockHash returns the hash last recorded for chainID at block, or
// ("", false) if no transfer at that block is stored. Feeds the reorg
// detector's hash-compare step.
func (s *Store) GetStoredBlockHash(ctx context.Context, chainID uint64, block uint64) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT block_hash FROM transfers WHERE chain_id = ? AND block_number = ? LIMIT 1`,
		chainID, block,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errkind.Wrap(errkind.Transient, "get stored block hash", err)
	}
	return hash, true, nil
}
