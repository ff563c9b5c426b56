// Package rpc implements the chain-switchable, multi-provider read client
// (C1) defined by pkg/rpc.EthClient: transparent failover across a
// statically configured provider list per chain, retry with classification,
// and the Keccak topic hash for the ERC-20 Transfer event.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/logger"
	pkgconfig "github.com/chainindexor/erc20indexer/pkg/config"
	pkgrpc "github.com/chainindexor/erc20indexer/pkg/rpc"
)

// TransferEventSignature is the canonical ERC-20 Transfer event signature.
const TransferEventSignature = "Transfer(address,address,uint256)"

// TransferTopic is the Keccak256 hash of TransferEventSignature, i.e.
// topics[0] of every ERC-20 Transfer log.
var TransferTopic = crypto.Keccak256Hash([]byte(TransferEventSignature))

var _ pkgrpc.EthClient = (*Client)(nil)

// providerConn is one dialed connection in a chain's provider list.
type providerConn struct {
	name    string
	url     string
	eth     *ethclient.Client
	rpc     *gethrpc.Client
	timeout time.Duration
	retries int
}

// chainProviders holds the provider list and cursor for one chain.
type chainProviders struct {
	chainID   uint64
	providers []*providerConn
	cursor    int
	limiter   *rate.Limiter
}

// Client is the multi-provider, chain-switchable RPC client. A single
// Client instance is shared across every (chain, contract) pair; the
// Coordinator calls SwitchChain before touching a given chain's data so that
// concurrent callers on different chains do not interleave provider cursors
// (callers MUST NOT hold the cursor across SwitchChain, per spec §5).
type Client struct {
	mu       sync.Mutex
	byChain  map[uint64]*chainProviders
	active   *chainProviders
	log      *logger.Logger
}

// NewClient dials every configured provider for every chain up front so that
// failover never pays a dial cost mid-incident.
func NewClient(ctx context.Context, chains []pkgconfig.ChainConfig, log *logger.Logger) (*Client, error) {
	c := &Client{
		byChain: make(map[uint64]*chainProviders),
		log:     log,
	}

	for _, chain := range chains {
		cp := &chainProviders{chainID: chain.ChainID}
		for _, p := range chain.Providers {
			rpcClient, err := gethrpc.DialContext(ctx, p.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to dial provider %s for chain %d: %w", p.Name, chain.ChainID, err)
			}
			cp.providers = append(cp.providers, &providerConn{
				name:    p.Name,
				url:     p.URL,
				eth:     ethclient.NewClient(rpcClient),
				rpc:     rpcClient,
				timeout: p.Timeout,
				retries: p.RetryAttempts,
			})
		}
		if len(cp.providers) == 0 {
			return nil, fmt.Errorf("chain %d has no configured providers", chain.ChainID)
		}
		if chain.RPCDelayMS > 0 {
			cp.limiter = rate.NewLimiter(rate.Every(time.Duration(chain.RPCDelayMS)*time.Millisecond), 1)
		}
		c.byChain[chain.ChainID] = cp
	}

	return c, nil
}

// Close tears down every dialed provider connection across every chain.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cp := range c.byChain {
		for _, p := range cp.providers {
			p.eth.Close()
		}
	}
}

// SwitchChain selects chainID's provider list and resets the cursor to 0.
func (c *Client) SwitchChain(chainID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.byChain[chainID]
	if !ok {
		return errkind.New(errkind.Validation, fmt.Sprintf("unsupported chain id %d", chainID))
	}
	cp.cursor = 0
	c.active = cp
	return nil
}

// SwitchToNextProvider advances the active chain's cursor cyclically.
func (c *Client) SwitchToNextProvider() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return errkind.New(errkind.Validation, "no active chain: call SwitchChain first")
	}
	if len(c.active.providers) <= 1 {
		return errkind.New(errkind.NotFound, "no alternative provider configured for this chain")
	}

	c.active.cursor = (c.active.cursor + 1) % len(c.active.providers)
	ProviderSwitchInc(fmt.Sprintf("%d", c.active.chainID))
	c.log.Infof("switched to provider %s for chain %d", c.current().name, c.active.chainID)
	return nil
}

// current returns the provider the active chain's cursor currently points
// at. Caller must hold c.mu or accept the race (reads are used only inside
// already-locked executeWithRetry or immediately after SwitchChain).
func (c *Client) current() *providerConn {
	return c.active.providers[c.active.cursor]
}

// executeWithRetry implements the §4.1 executeWithRetry(op, maxRetries)
// wrapper: up to maxRetries attempts; on each failure, if retryable and
// shouldSwitchProvider → switch provider before sleeping retryDelay; else if
// retryable → sleep and retry; else abort immediately.
func (c *Client) executeWithRetry(ctx context.Context, method string, op func(p *providerConn) error) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return errkind.New(errkind.Validation, "no active chain: call SwitchChain first")
	}
	maxRetries := c.current().retries
	limiter := c.active.limiter
	c.mu.Unlock()
	if maxRetries <= 0 {
		maxRetries = 3
	}

	// paces calls to this chain's configured RPC_DELAY_MS, independent of
	// per-attempt retryDelay below, so a slow free-tier provider isn't
	// hammered even on the happy path.
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	RPCMethodInc(method)
	defer func() { RPCMethodDuration(method, time.Since(start)) }()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		p := c.current()
		c.mu.Unlock()

		err := op(p)
		if err == nil {
			return nil
		}
		lastErr = err

		if ok, _ := IsTooManyResultsError(err); ok {
			RPCMethodError(method, errkind.MaxResultsExceeded.String())
			return errkind.Wrap(errkind.MaxResultsExceeded, "query exceeded provider result limit", err)
		}

		if !isRetryable(err) {
			RPCMethodError(method, errkind.Permanent.String())
			return errkind.Wrap(errkind.Permanent, fmt.Sprintf("non-retryable error on attempt %d/%d", attempt, maxRetries), err)
		}

		RPCMethodError(method, errkind.Transient.String())
		RPCRetryInc(method)

		if shouldSwitchProvider(err) {
			if switchErr := c.SwitchToNextProvider(); switchErr != nil {
				c.log.Warnf("could not switch provider after %v: %v", err, switchErr)
			}
		}

		if attempt >= maxRetries {
			break
		}

		delay := retryDelay(err, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errkind.Wrap(errkind.Transient, fmt.Sprintf("all %d attempts failed", maxRetries), lastErr)
}

// GetBlockNumber returns the active chain's current head block number.
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	var result uint64
	err := c.executeWithRetry(ctx, "eth_blockNumber", func(p *providerConn) error {
		n, err := p.eth.BlockNumber(ctx)
		result = n
		return err
	})
	return result, err
}

// GetBlockByNumber retrieves the header for a specific block number.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*pkgrpc.BlockHeader, error) {
	var header *types.Header
	err := c.executeWithRetry(ctx, "eth_getBlockByNumber", func(p *providerConn) error {
		h, err := p.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		header = h
		return err
	})
	if err != nil {
		return nil, err
	}
	return headerToBlockHeader(header), nil
}

// GetBlockByHash retrieves the header for a specific block hash.
func (c *Client) GetBlockByHash(ctx context.Context, hash common.Hash) (*pkgrpc.BlockHeader, error) {
	var header *types.Header
	err := c.executeWithRetry(ctx, "eth_getBlockByHash", func(p *providerConn) error {
		h, err := p.eth.HeaderByHash(ctx, hash)
		header = h
		return err
	})
	if err != nil {
		return nil, err
	}
	return headerToBlockHeader(header), nil
}

// GetLogs retrieves Transfer logs for a contract over an inclusive block
// range, restricted to topics[0] == TransferTopic when EventSignature is
// the canonical Transfer signature (the only event this engine indexes).
func (c *Client) GetLogs(ctx context.Context, query pkgrpc.FilterQuery) ([]pkgrpc.Log, error) {
	filter := geth.FilterQuery{
		Addresses: []common.Address{query.Address},
		FromBlock: new(big.Int).SetUint64(query.FromBlock),
		ToBlock:   new(big.Int).SetUint64(query.ToBlock),
	}
	if len(query.Topics) > 0 {
		filter.Topics = query.Topics
	} else if query.EventSignature != "" {
		filter.Topics = [][]common.Hash{{crypto.Keccak256Hash([]byte(query.EventSignature))}}
	}

	var logs []types.Log
	err := c.executeWithRetry(ctx, "eth_getLogs", func(p *providerConn) error {
		l, err := p.eth.FilterLogs(ctx, filter)
		logs = l
		return err
	})
	if err != nil {
		return nil, err
	}

	result := make([]pkgrpc.Log, len(logs))
	for i, l := range logs {
		result[i] = pkgrpc.Log{
			Address:     l.Address,
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash,
			TxHash:      l.TxHash,
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
			Topics:      l.Topics,
			Data:        l.Data,
		}
	}
	return result, nil
}

func headerToBlockHeader(h *types.Header) *pkgrpc.BlockHeader {
	if h == nil {
		return nil
	}
	return &pkgrpc.BlockHeader{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
	}
}
