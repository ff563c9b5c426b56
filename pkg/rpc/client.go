// Package rpc defines the chain-switchable, multi-provider read port (C1)
// the rest of the engine depends on, the way the teacher's pkg/rpc.EthClient
// defines the port its internal/rpc.Client implements.
package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Log is the subset of an EVM log the engine cares about, decoupled from
// go-ethereum's core/types.Log so the port can be satisfied by a hand-written
// fake in tests without dragging in an RPC dependency.
type Log struct {
	Address     common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
	Topics      []common.Hash
	Data        []byte
}

// BlockHeader is the subset of a block header the client returns: its
// number, its own hash, its parent's hash and its timestamp.
type BlockHeader struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// FilterQuery describes a getLogs call against a single contract address
// over an inclusive block range, optionally constrained to a signature's
// topic0.
type FilterQuery struct {
	Address        common.Address
	FromBlock      uint64
	ToBlock        uint64
	EventSignature string
	Topics         [][]common.Hash
}

// EthClient is the chain-switchable, multi-provider read port (C1). A
// single instance serves every chain under management; SwitchChain selects
// which chain's provider list subsequent calls are routed through.
type EthClient interface {
	// SwitchChain atomically selects the provider list for chainId,
	// resetting the provider cursor to index 0.
	SwitchChain(chainID uint64) error

	// SwitchToNextProvider advances the cursor cyclically within the
	// active chain's provider list. Fails with errkind.NotFound when only
	// one provider exists for the active chain.
	SwitchToNextProvider() error

	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*BlockHeader, error)
	GetBlockByHash(ctx context.Context, hash common.Hash) (*BlockHeader, error)
	GetLogs(ctx context.Context, query FilterQuery) ([]Log, error)

	Close()
}
