package api

import (
	"strconv"
	"time"

	"github.com/chainindexor/erc20indexer/pkg/model"
)

// ErrorResponse is the JSON body returned for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StartRequest is the body of POST /indexer/start.
type StartRequest struct {
	ChainID         uint64  `json:"chainId"`
	ContractAddress string  `json:"contractAddress"`
	StartBlock      *uint64 `json:"startBlock,omitempty"`
}

// StopRequest is the body of POST /indexer/stop.
type StopRequest struct {
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
}

// ResetRequest is the body of POST /indexer/reset.
type ResetRequest struct {
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	BlockNumber     uint64 `json:"blockNumber"`
}

// CatchUpRequest is the body of POST /indexer/catch-up.
type CatchUpRequest struct {
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	FromBlock       uint64 `json:"fromBlock"`
	ToBlock         uint64 `json:"toBlock"`
}

// IndexerStateView is the §6.1 wire shape of an IndexerState: every bigint
// field as a decimal string, dates as ISO-8601 UTC.
type IndexerStateView struct {
	ChainID               uint64  `json:"chainId"`
	ContractAddress       string  `json:"contractAddress"`
	LastProcessedBlock    string  `json:"lastProcessedBlock"`
	HighestProcessedBlock string  `json:"highestProcessedBlock"`
	CurrentBlock          string  `json:"currentBlock"`
	StartBlock            string  `json:"startBlock"`
	Status                string  `json:"status"`
	IsCatchingUp          bool    `json:"isCatchingUp"`
	ErrorCount            int     `json:"errorCount"`
	LastError             string  `json:"lastError,omitempty"`
	LastErrorAt           *string `json:"lastErrorAt,omitempty"`
	BlocksPerSecond       float64 `json:"blocksPerSecond"`
	TransfersIndexed      string  `json:"transfersIndexed"`
	LastIndexedAt         *string `json:"lastIndexedAt,omitempty"`
}

func newIndexerStateView(s *model.IndexerState) IndexerStateView {
	v := IndexerStateView{
		ChainID:               s.ChainID,
		ContractAddress:       s.ContractAddress,
		LastProcessedBlock:    strconv.FormatUint(s.LastProcessedBlock, 10),
		HighestProcessedBlock: strconv.FormatUint(s.HighestProcessedBlock, 10),
		CurrentBlock:          strconv.FormatUint(s.CurrentBlock, 10),
		StartBlock:            strconv.FormatUint(s.StartBlock, 10),
		Status:                string(s.Status),
		IsCatchingUp:          s.IsCatchingUp,
		ErrorCount:            s.ErrorCount,
		LastError:             s.LastError,
		BlocksPerSecond:       s.BlocksPerSecond,
		TransfersIndexed:      strconv.FormatInt(s.TransfersIndexed, 10),
	}
	if s.LastErrorAt != nil {
		ts := s.LastErrorAt.UTC().Format(time.RFC3339)
		v.LastErrorAt = &ts
	}
	if s.LastIndexedAt != nil {
		ts := s.LastIndexedAt.UTC().Format(time.RFC3339)
		v.LastIndexedAt = &ts
	}
	return v
}

// ReorgView is the §6.1 wire shape of a Reorg row.
type ReorgView struct {
	ID                int64   `json:"id"`
	ChainID           uint64  `json:"chainId"`
	DetectedAtBlock   string  `json:"detectedAtBlock"`
	ReorgDepth        string  `json:"reorgDepth"`
	OldBlockHash      string  `json:"oldBlockHash"`
	NewBlockHash      string  `json:"newBlockHash"`
	Status            string  `json:"status"`
	TransfersAffected string  `json:"transfersAffected"`
	DetectedAt        string  `json:"detectedAt"`
	ResolvedAt        *string `json:"resolvedAt,omitempty"`
}

func newReorgView(r *model.Reorg) ReorgView {
	v := ReorgView{
		ID:                r.ID,
		ChainID:           r.ChainID,
		DetectedAtBlock:   strconv.FormatUint(r.DetectedAtBlock, 10),
		ReorgDepth:        strconv.FormatUint(r.ReorgDepth, 10),
		OldBlockHash:      r.OldBlockHash,
		NewBlockHash:      r.NewBlockHash,
		Status:            string(r.Status),
		TransfersAffected: strconv.FormatInt(r.TransfersAffected, 10),
		DetectedAt:        r.DetectedAt.UTC().Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		ts := r.ResolvedAt.UTC().Format(time.RFC3339)
		v.ResolvedAt = &ts
	}
	return v
}

// QueueMetricsView is the §6.1 shape of GET /indexer/queue-metrics.
type QueueMetricsView struct {
	BlockRanges QueueMetricsEntry `json:"blockRanges"`
	Catchup     QueueMetricsEntry `json:"catchup"`
	Reorg       QueueMetricsEntry `json:"reorg"`
}

// QueueMetricsEntry mirrors pkg/queue.Metrics with an added total.
type QueueMetricsEntry struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}
