// Package model defines the plain data records the engine persists: no
// base class, no hydrate/toDatabase reflection, just typed fields and a
// thin persistence port (pkg/store) built on top of them.
package model

import (
	"time"
)

// IndexerStatus is the lifecycle state of an IndexerState row.
type IndexerStatus string

const (
	StatusRunning IndexerStatus = "running"
	StatusStopped IndexerStatus = "stopped"
	StatusPaused  IndexerStatus = "paused"
	StatusError   IndexerStatus = "error"
)

// ReorgStatus is the lifecycle state of a Reorg row.
type ReorgStatus string

const (
	ReorgDetected   ReorgStatus = "detected"
	ReorgProcessing ReorgStatus = "processing"
	ReorgResolved   ReorgStatus = "resolved"
)

// Transfer is one ERC-20 Transfer log. Identity is (TxHash, LogIndex,
// ChainID); a redelivered upsert updates Amount, Timestamp, BlockHash,
// Status, Confirmations and IsConfirmed, and keeps From, To, BlockNumber
// and the contract fields as first written.
type Transfer struct {
	ID              int64
	ChainID         uint64
	TxHash          string
	LogIndex        uint
	BlockNumber     uint64
	BlockHash       string
	Timestamp       time.Time
	From            string
	To              string
	Amount          *BigInt
	ContractID      int64
	ContractAddress string
	Confirmations   int
	IsConfirmed     bool
	Status          int
}

// IndexerState is the per (chain, contract) progress record. Invariant:
// StartBlock <= LastProcessedBlock <= HighestProcessedBlock.
type IndexerState struct {
	ID                    int64
	ChainID               uint64
	ContractAddress       string
	LastProcessedBlock    uint64
	HighestProcessedBlock uint64
	CurrentBlock          uint64
	StartBlock            uint64
	Status                IndexerStatus
	IsCatchingUp          bool
	ErrorCount            int
	LastError             string
	LastErrorAt           *time.Time
	BlocksPerSecond       float64
	TransfersIndexed      int64
	LastIndexedAt         *time.Time
}

// Contract is a tracked ERC-20 token contract.
type Contract struct {
	ID       int64
	Address  string
	Name     string
	Symbol   string
	Decimals int
	ChainIDs []uint64
	Active   bool
}

// Reorg is one detected-and-(possibly)-resolved chain reorganization.
type Reorg struct {
	ID                int64
	ChainID           uint64
	DetectedAtBlock   uint64
	ReorgDepth        uint64
	OldBlockHash      string
	NewBlockHash      string
	Status            ReorgStatus
	TransfersAffected int64
	DetectedAt        time.Time
	ResolvedAt        *time.Time
}
