// Package worker implements the Block-Range Worker (C7): a pool of
// goroutines draining the block-ranges queue, each fetching, decoding and
// persisting one block range's Transfer logs. Grounded in the teacher's
// internal/fetcher's queue-drain-and-persist shape and in
// examples/indexers/erc20/erc20_token_indexer.go's Transfer log decoding.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindexor/erc20indexer/internal/chunkgov"
	internalcommon "github.com/chainindexor/erc20indexer/internal/common"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/errorgov"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/internal/rpc"
	"github.com/chainindexor/erc20indexer/pkg/model"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	pkgrpc "github.com/chainindexor/erc20indexer/pkg/rpc"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

// splitMinChunk is the floor chunk size used when splitting a range after
// MaxResultsExceeded (spec: max(50, (to-from+1)/4)).
const splitMinChunk = 50

// largeRangeThreshold triggers a Chunk Governor Increase signal once a job
// processes more than this many blocks successfully.
const largeRangeThreshold = 100

// expectedTopicsCount is the Transfer event's topic count: signature,
// indexed from, indexed to.
const expectedTopicsCount = 3

// Worker consumes block-ranges jobs, fetches Transfer logs over RPC, and
// persists them. One Worker's handler is registered with N goroutines via
// the queue Ports' Consume.
type Worker struct {
	rpc      pkgrpc.EthClient
	store    store.Ports
	queue    pkgqueue.Ports
	chunkGov *chunkgov.Governor
	errorGov *errorgov.Governor
	log      *logger.Logger
}

// New constructs a Block-Range Worker.
func New(rpcClient pkgrpc.EthClient, storePorts store.Ports, queuePorts pkgqueue.Ports,
	chunkGov *chunkgov.Governor, errorGov *errorgov.Governor, log *logger.Logger) *Worker {
	return &Worker{
		rpc:      rpcClient,
		store:    storePorts,
		queue:    queuePorts,
		chunkGov: chunkGov,
		errorGov: errorGov,
		log:      log.WithComponent(internalcommon.ComponentBlockRangeWorker),
	}
}

// Run registers the worker's Handle as the block-ranges consumer with
// concurrency workerCount, blocking until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, workerCount int) error {
	metrics.ComponentHealthSet(internalcommon.ComponentBlockRangeWorker, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentBlockRangeWorker, false)
	return w.queue.Consume(ctx, pkgqueue.BlockRanges, workerCount, w.Handle)
}

// Handle implements the §4.7 block-range protocol for a single dequeued
// job.
func (w *Worker) Handle(ctx context.Context, job pkgqueue.Job) error {
	var payload pkgqueue.BlockRangeJob
	if err := job.Unmarshal(&payload); err != nil {
		return errkind.Wrap(errkind.Permanent, "decode block-range job payload", err)
	}

	start := time.Now()
	chainLabel := fmt.Sprintf("%d", payload.ChainID)

	// Step 1: resolve contract.
	contract, err := w.store.GetContractByAddressAndChain(ctx, payload.ContractAddress, payload.ChainID)
	if err != nil {
		if errkind.Is(err, errkind.NotFound) {
			_ = w.store.RecordError(ctx, payload.ChainID, payload.ContractAddress,
				"contract not found for chain, failing job permanently")
			return errkind.Wrap(errkind.Permanent, "contract not found", err)
		}
		return err
	}

	// Step 2: fetch logs.
	logs, err := w.rpc.GetLogs(ctx, pkgrpc.FilterQuery{
		Address:        common.HexToAddress(contract.Address),
		FromBlock:      payload.FromBlock,
		ToBlock:        payload.ToBlock,
		EventSignature: rpc.TransferEventSignature,
	})
	if err != nil {
		if errkind.Is(err, errkind.MaxResultsExceeded) {
			return w.handleMaxResultsExceeded(ctx, payload)
		}
		w.errorGov.OnError(time.Now())
		if errkind.KindOf(err) == errkind.Permanent {
			_ = w.store.RecordError(ctx, payload.ChainID, payload.ContractAddress, err.Error())
		}
		// Other retryable RPC errors propagate so the queue retries.
		return err
	}
	w.errorGov.OnSuccess()

	// Step 3: group by block to fetch timestamps, tolerating missing blocks.
	timestamps, err := w.blockTimestamps(ctx, logs, payload.FromBlock, payload.ToBlock)
	if err != nil {
		return err
	}

	// Step 4: decode each log into a Transfer.
	transfers := make([]*model.Transfer, 0, len(logs))
	for _, l := range logs {
		t := decodeTransferLog(payload.ChainID, l, contract, timestamps[l.BlockNumber])
		if t != nil {
			transfers = append(transfers, t)
		}
	}

	// Step 5: persist.
	if err := w.store.UpsertTransfersBatch(ctx, transfers); err != nil {
		return err
	}

	// Step 6: advance progress.
	if err := w.store.UpdateLastProcessedBlock(ctx, payload.ChainID, payload.ContractAddress,
		payload.ToBlock, int64(len(transfers))); err != nil {
		return err
	}
	if err := w.store.UpdateCurrentBlock(ctx, payload.ChainID, payload.ContractAddress, payload.ToBlock); err != nil {
		return err
	}

	// Step 7: heuristic feedback to the chunk governor.
	rangeSize := payload.ToBlock - payload.FromBlock + 1
	if rangeSize > largeRangeThreshold {
		w.chunkGov.Increase(payload.ChainID)
	}

	metrics.TransfersIndexed.WithLabelValues(chainLabel, payload.ContractAddress).Add(float64(len(transfers)))
	metrics.BlockProcessingTime.WithLabelValues(chainLabel).Observe(time.Since(start).Seconds())

	w.log.Infof("processed block range chain=%d contract=%s range=[%d,%d] transfers=%d",
		payload.ChainID, payload.ContractAddress, payload.FromBlock, payload.ToBlock, len(transfers))

	return nil
}

// handleMaxResultsExceeded implements the split-and-requeue failure path:
// reduce the chain's chunk ceiling, best-effort rotate providers, split the
// range into >= 4 chunks, enqueue them, and complete the current job as a
// no-op split rather than a failure.
func (w *Worker) handleMaxResultsExceeded(ctx context.Context, payload pkgqueue.BlockRangeJob) error {
	w.chunkGov.Reduce(payload.ChainID)
	if err := w.rpc.SwitchToNextProvider(); err != nil {
		w.log.Debugf("switchToNextProvider after max-results-exceeded: %v", err)
	}

	rangeSize := payload.ToBlock - payload.FromBlock + 1
	chunkSize := rangeSize / 4
	if chunkSize < splitMinChunk {
		chunkSize = splitMinChunk
	}

	from := payload.FromBlock
	for from <= payload.ToBlock {
		to := from + chunkSize - 1
		if to > payload.ToBlock {
			to = payload.ToBlock
		}
		chunk := pkgqueue.BlockRangeJob{
			ChainID:         payload.ChainID,
			ContractAddress: payload.ContractAddress,
			FromBlock:       from,
			ToBlock:         to,
			Priority:        payload.Priority,
		}
		if err := w.queue.Add(ctx, pkgqueue.BlockRanges, chunk, pkgqueue.AddOptions{Priority: payload.Priority}); err != nil {
			return errkind.Wrap(errkind.Transient, "enqueue split chunk after max-results-exceeded", err)
		}
		if to == payload.ToBlock {
			break
		}
		from = to + 1
	}

	metrics.MaxResultsExceededTotal.WithLabelValues(fmt.Sprintf("%d", payload.ChainID)).Inc()
	w.log.Infof("split range chain=%d range=[%d,%d] into chunks of %d after max-results-exceeded",
		payload.ChainID, payload.FromBlock, payload.ToBlock, chunkSize)

	return nil
}

// blockTimestamps fetches the header for every distinct block number
// present in logs, tolerating missing blocks (logged at debug, not fatal).
func (w *Worker) blockTimestamps(ctx context.Context, logs []pkgrpc.Log, from, to uint64) (map[uint64]time.Time, error) {
	seen := make(map[uint64]bool)
	var blocks []uint64
	for _, l := range logs {
		if !seen[l.BlockNumber] {
			seen[l.BlockNumber] = true
			blocks = append(blocks, l.BlockNumber)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	result := make(map[uint64]time.Time, len(blocks))
	for _, b := range blocks {
		header, err := w.rpc.GetBlockByNumber(ctx, b)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) || errkind.KindOf(err) == errkind.Permanent {
				w.log.Debugf("block %d not found while fetching timestamps for range [%d,%d]: %v", b, from, to, err)
				continue
			}
			return nil, err
		}
		if header == nil {
			continue
		}
		result[b] = time.Unix(int64(header.Timestamp), 0).UTC()
	}
	return result, nil
}

// decodeTransferLog implements §4.7 step 4: decode a single Transfer log
// into a model.Transfer, or return nil to skip a malformed log. Grounded in
// examples/indexers/erc20/erc20_token_indexer.go's parseTransfer.
func decodeTransferLog(chainID uint64, l pkgrpc.Log, contract *model.Contract, blockTime time.Time) *model.Transfer {
	if len(l.Topics) < expectedTopicsCount || len(l.Data) == 0 {
		return nil
	}

	from := common.BytesToAddress(l.Topics[1].Bytes()).Hex()
	to := common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	amount := new(big.Int).SetBytes(l.Data)

	return &model.Transfer{
		ChainID:         chainID,
		TxHash:          l.TxHash.Hex(),
		LogIndex:        l.LogIndex,
		BlockNumber:     l.BlockNumber,
		BlockHash:       l.BlockHash.Hex(),
		Timestamp:       blockTime,
		From:            from,
		To:              to,
		Amount:          model.NewBigInt(amount),
		ContractID:      contract.ID,
		ContractAddress: contract.Address,
		Confirmations:   0,
		IsConfirmed:     false,
		Status:          1,
	}
}
