package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/russross/meddler"

	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/pkg/model"
)

func encodeChainIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeChainIDs(s string) []uint64 {
	var ids []uint64
	if s == "" {
		return ids
	}
	_ = json.Unmarshal([]byte(s), &ids)
	return ids
}

// GetAllActiveContracts returns every tracked contract with active = true.
func (s *Store) GetAllActiveContracts(ctx context.Context) ([]*model.Contract, error) {
	var rows []*contractRow
	err := meddler.QueryAll(s.db, &rows, `SELECT * FROM contracts WHERE active = 1 ORDER BY address`)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "list active contracts", err)
	}
	contracts := make([]*model.Contract, len(rows))
	for i, r := range rows {
		contracts[i] = rowToContract(r)
	}
	return contracts, nil
}

// GetContractByAddressAndChain returns the tracked contract at address that
// is active on chainID, or a NotFound error if none exists or it is not
// configured for that chain.
func (s *Store) GetContractByAddressAndChain(ctx context.Context, address string, chainID uint64) (*model.Contract, error) {
	var row contractRow
	err := meddler.QueryRow(s.db, &row, `SELECT * FROM contracts WHERE address = ?`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errkind.New(errkind.NotFound, "contract not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "get contract", err)
	}

	contract := rowToContract(&row)
	for _, id := range contract.ChainIDs {
		if id == chainID {
			return contract, nil
		}
	}
	return nil, errkind.New(errkind.NotFound, "contract not configured for chain")
}

// UpsertContract inserts or updates a tracked contract's metadata.
func (s *Store) UpsertContract(ctx context.Context, c *model.Contract) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (address, name, symbol, decimals, chain_ids, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			decimals = excluded.decimals,
			chain_ids = excluded.chain_ids,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP`,
		c.Address, c.Name, c.Symbol, c.Decimals, encodeChainIDs(c.ChainIDs), c.Active,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "upsert contract", err)
	}
	return nil
}
