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

// CreateReorg inserts a new Reorg audit record, populating r.ID on success.
func (s *Store) CreateReorg(ctx context.Context, r *model.Reorg) error {
	row := reorgToRow(r)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reorgs (
			chain_id, detected_at_block, reorg_depth, old_block_hash, new_block_hash,
			status, transfers_affected, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ChainID, row.DetectedAtBlock, row.ReorgDepth, row.OldBlockHash, row.NewBlockHash,
		row.Status, row.TransfersAffected, row.DetectedAt,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "create reorg record", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "read reorg id", err)
	}
	r.ID = id
	return nil
}

// MarkReorgResolved transitions a Reorg record from detected/processing to
// resolved, stamping resolved_at and the final transfers_affected count.
func (s *Store) MarkReorgResolved(ctx context.Context, id int64, affected int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reorgs SET status = ?, transfers_affected = ?, resolved_at = ? WHERE id = ?`,
		string(model.ReorgResolved), affected, time.Now().UTC(), id,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "mark reorg resolved", err)
	}
	return nil
}

// GetReorgAtBlock supports the 24h dedup check in the reorg protocol: it
// returns the most recent reorg detected at the given block within the
// window, or nil if none exists.
func (s *Store) GetReorgAtBlock(ctx context.Context, chainID uint64, block uint64, within time.Duration) (*model.Reorg, error) {
	cutoff := time.Now().UTC().Add(-within)

	var row reorgRow
	err := meddler.QueryRow(s.db, &row,
		`SELECT * FROM reorgs WHERE chain_id = ? AND detected_at_block = ? AND detected_at >= ?
		 ORDER BY detected_at DESC LIMIT 1`,
		chainID, block, cutoff,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "get reorg at block", err)
	}
	return rowToReorg(&row), nil
}

// ListReorgs returns reorg records, optionally filtered by chain, newest
// first, bounded by limit.
func (s *Store) ListReorgs(ctx context.Context, chainID *uint64, limit int) ([]*model.Reorg, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []*reorgRow
	var err error
	if chainID != nil {
		err = meddler.QueryAll(s.db, &rows,
			`SELECT * FROM reorgs WHERE chain_id = ? ORDER BY detected_at DESC LIMIT ?`, *chainID, limit)
	} else {
		err = meddler.QueryAll(s.db, &rows,
			`SELECT * FROM reorgs ORDER BY detected_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "list reorgs", err)
	}

	reorgs := make([]*model.Reorg, len(rows))
	for i, r := range rows {
		reorgs[i] = rowToReorg(r)
	}
	return reorgs, nil
}
