package sqlite

import (
	"strings"
	"time"

	"github.com/chainindexor/erc20indexer/pkg/model"
)

// transferRow is the meddler-mapped row shape for the transfers table.
type transferRow struct {
	ID              int64         `meddler:"id,pk"`
	ChainID         uint64        `meddler:"chain_id"`
	TxHash          string        `meddler:"tx_hash"`
	LogIndex        uint          `meddler:"log_index"`
	BlockNumber     uint64        `meddler:"block_number"`
	BlockHash       string        `meddler:"block_hash"`
	Timestamp       time.Time     `meddler:"timestamp"`
	FromAddress     string        `meddler:"from_address"`
	ToAddress       string        `meddler:"to_address"`
	Amount          *model.BigInt `meddler:"amount,bigint"`
	ContractID      int64         `meddler:"contract_id"`
	ContractAddress string        `meddler:"contract_address"`
	Confirmations   int           `meddler:"confirmations"`
	IsConfirmed     bool          `meddler:"is_confirmed"`
	Status          int           `meddler:"status"`
}

// transferToRow maps a Transfer into its row shape. Per §3/§4.5, this is
// the port boundary that lowercases every address/hash field before it
// reaches storage -- callers (decodeTransferLog, the reorg path) are not
// required to lowercase themselves.
func transferToRow(t *model.Transfer) *transferRow {
	return &transferRow{
		ID:              t.ID,
		ChainID:         t.ChainID,
		TxHash:          strings.ToLower(t.TxHash),
		LogIndex:        t.LogIndex,
		BlockNumber:     t.BlockNumber,
		BlockHash:       strings.ToLower(t.BlockHash),
		Timestamp:       t.Timestamp,
		FromAddress:     strings.ToLower(t.From),
		ToAddress:       strings.ToLower(t.To),
		Amount:          t.Amount,
		ContractID:      t.ContractID,
		ContractAddress: strings.ToLower(t.ContractAddress),
		Confirmations:   t.Confirmations,
		IsConfirmed:     t.IsConfirmed,
		Status:          t.Status,
	}
}

func rowToTransfer(r *transferRow) *model.Transfer {
	return &model.Transfer{
		ID:              r.ID,
		ChainID:         r.ChainID,
		TxHash:          r.TxHash,
		LogIndex:        r.LogIndex,
		BlockNumber:     r.BlockNumber,
		BlockHash:       r.BlockHash,
		Timestamp:       r.Timestamp,
		From:            r.FromAddress,
		To:              r.ToAddress,
		Amount:          r.Amount,
		ContractID:      r.ContractID,
		ContractAddress: r.ContractAddress,
		Confirmations:   r.Confirmations,
		IsConfirmed:     r.IsConfirmed,
		Status:          r.Status,
	}
}

// indexerStateRow is the meddler-mapped row shape for indexer_state.
type indexerStateRow struct {
	ID                    int64      `meddler:"id,pk"`
	ChainID               uint64     `meddler:"chain_id"`
	ContractAddress       string     `meddler:"contract_address"`
	LastProcessedBlock    uint64     `meddler:"last_processed_block"`
	HighestProcessedBlock uint64     `meddler:"highest_processed_block"`
	CurrentBlock          uint64     `meddler:"current_block"`
	StartBlock            uint64     `meddler:"start_block"`
	Status                string     `meddler:"status"`
	IsCatchingUp          bool       `meddler:"is_catching_up"`
	ErrorCount            int        `meddler:"error_count"`
	LastError             string     `meddler:"last_error"`
	LastErrorAt           *time.Time `meddler:"last_error_at"`
	BlocksPerSecond       float64    `meddler:"blocks_per_second"`
	TransfersIndexed      int64      `meddler:"transfers_indexed"`
	LastIndexedAt         *time.Time `meddler:"last_indexed_at"`
}

func rowToIndexerState(r *indexerStateRow) *model.IndexerState {
	return &model.IndexerState{
		ID:                    r.ID,
		ChainID:               r.ChainID,
		ContractAddress:       r.ContractAddress,
		LastProcessedBlock:    r.LastProcessedBlock,
		HighestProcessedBlock: r.HighestProcessedBlock,
		CurrentBlock:          r.CurrentBlock,
		StartBlock:            r.StartBlock,
		Status:                model.IndexerStatus(r.Status),
		IsCatchingUp:          r.IsCatchingUp,
		ErrorCount:            r.ErrorCount,
		LastError:             r.LastError,
		LastErrorAt:           r.LastErrorAt,
		BlocksPerSecond:       r.BlocksPerSecond,
		TransfersIndexed:      r.TransfersIndexed,
		LastIndexedAt:         r.LastIndexedAt,
	}
}

// reorgRow is the meddler-mapped row shape for reorgs.
type reorgRow struct {
	ID                int64      `meddler:"id,pk"`
	ChainID           uint64     `meddler:"chain_id"`
	DetectedAtBlock   uint64     `meddler:"detected_at_block"`
	ReorgDepth        uint64     `meddler:"reorg_depth"`
	OldBlockHash      string     `meddler:"old_block_hash"`
	NewBlockHash      string     `meddler:"new_block_hash"`
	Status            string     `meddler:"status"`
	TransfersAffected int64      `meddler:"transfers_affected"`
	DetectedAt        time.Time  `meddler:"detected_at"`
	ResolvedAt        *time.Time `meddler:"resolved_at"`
}

func reorgToRow(r *model.Reorg) *reorgRow {
	return &reorgRow{
		ID:                r.ID,
		ChainID:           r.ChainID,
		DetectedAtBlock:   r.DetectedAtBlock,
		ReorgDepth:        r.ReorgDepth,
		OldBlockHash:      r.OldBlockHash,
		NewBlockHash:      r.NewBlockHash,
		Status:            string(r.Status),
		TransfersAffected: r.TransfersAffected,
		DetectedAt:        r.DetectedAt,
		ResolvedAt:        r.ResolvedAt,
	}
}

func rowToReorg(r *reorgRow) *model.Reorg {
	return &model.Reorg{
		ID:                r.ID,
		ChainID:           r.ChainID,
		DetectedAtBlock:   r.DetectedAtBlock,
		ReorgDepth:        r.ReorgDepth,
		OldBlockHash:      r.OldBlockHash,
		NewBlockHash:      r.NewBlockHash,
		Status:            model.ReorgStatus(r.Status),
		TransfersAffected: r.TransfersAffected,
		DetectedAt:        r.DetectedAt,
		ResolvedAt:        r.ResolvedAt,
	}
}

// contractRow is the meddler-mapped row shape for contracts. ChainIDs is
// stored as a JSON array string (chain_ids column, TEXT).
type contractRow struct {
	ID       int64  `meddler:"id,pk"`
	Address  string `meddler:"address"`
	Name     string `meddler:"name"`
	Symbol   string `meddler:"symbol"`
	Decimals int    `meddler:"decimals"`
	ChainIDs string `meddler:"chain_ids"`
	Active   bool   `meddler:"active"`
}

func rowToContract(r *contractRow) *model.Contract {
	return &model.Contract{
		ID:       r.ID,
		Address:  r.Address,
		Name:     r.Name,
		Symbol:   r.Symbol,
		Decimals: r.Decimals,
		ChainIDs: decodeChainIDs(r.ChainIDs),
		Active:   r.Active,
	}
}
