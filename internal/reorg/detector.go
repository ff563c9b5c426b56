// Package reorg implements the Reorg Detector (C4): before the coordinator
// emits work for a given fromBlock, it asks CheckForReorg(chainId,
// fromBlock-1), which compares the stored and live block hash and, on
// mismatch, walks backward to the last common ancestor and issues a
// rollback. Structurally grounded in the teacher's
// internal/reorg/reorg_detector.go (struct shape, maintenance-lock
// acquisition, component health wiring); the detection protocol itself is
// this engine's own hash-compare/walkback/rollback contract, not the
// teacher's finalized-block pruning scheme.
package reorg

import (
	"context"
	"fmt"
	"strings"
	"time"

	internalcommon "github.com/chainindexor/erc20indexer/internal/common"
	"github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/pkg/model"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	"github.com/chainindexor/erc20indexer/pkg/rpc"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

const (
	// ReorgCheckDepth bounds how far behind head a reorg check is even
	// attempted; beyond this, a deep-catchup job is assumed safe.
	ReorgCheckDepth = 10
	// MaxWalkback is the farthest the detector will walk backward looking
	// for the last common ancestor before giving up.
	MaxWalkback = 100
	// dedupWindow suppresses a repeat rollback for the same (chain, block)
	// within this interval.
	dedupWindow = 24 * time.Hour
	// rollbackTailBlocks extends the deleted range past the reorg point,
	// covering transfers from blocks that were provisionally indexed ahead
	// of last_processed_block.
	rollbackTailBlocks = 10
)

// Detector is the reorg detection and rollback component.
type Detector struct {
	rpc         rpc.EthClient
	store       store.Ports
	maintenance db.Maintenance
	queue       pkgqueue.Ports
	log         *logger.Logger
}

// New constructs a Detector over the given RPC port, persistence port and
// maintenance coordinator. queue may be nil, in which case a resolved
// rollback is not fanned out onto the reorg queue (tests exercising
// CheckForReorg in isolation commonly pass nil here).
func New(rpcClient rpc.EthClient, storePorts store.Ports, maintenance db.Maintenance, queue pkgqueue.Ports, log *logger.Logger) *Detector {
	d := &Detector{
		rpc:         rpcClient,
		store:       storePorts,
		maintenance: maintenance,
		queue:       queue,
		log:         log.WithComponent(internalcommon.ComponentReorgDetector),
	}
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)
	return d
}

// Result describes the outcome of a CheckForReorg call.
type Result struct {
	// RolledBack is true iff a rollback was performed.
	RolledBack bool
	// RollbackBlock is the new last_processed_block after rollback.
	RollbackBlock uint64
	// Depth is the number of blocks walked back before finding a match.
	Depth uint64
	// TransfersDeleted is the number of transfer rows removed.
	TransfersDeleted uint64
}

// CheckForReorg implements the §4.4 protocol for one (chainID, contract)
// pair at the given blockNumber (the coordinator always calls this with
// fromBlock-1). blockNumber must be the block immediately preceding the
// range about to be emitted.
func (d *Detector) CheckForReorg(ctx context.Context, chainID uint64, contractAddress string, blockNumber uint64, head uint64) (*Result, error) {
	unlock := d.maintenance.AcquireOperationLock()
	defer unlock()

	// Step 1: bounds check.
	if blockNumber < 1 {
		return &Result{}, nil
	}
	if head >= blockNumber && head-blockNumber > ReorgCheckDepth {
		return &Result{}, nil
	}

	// Step 2: compare live vs. stored hash at blockNumber.
	liveHeader, err := d.rpc.GetBlockByNumber(ctx, blockNumber)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "fetch live block header for reorg check", err)
	}
	if liveHeader == nil {
		return &Result{}, nil
	}
	liveHash := strings.ToLower(liveHeader.Hash.Hex())

	storedHash, ok, err := d.store.GetStoredBlockHash(ctx, chainID, blockNumber)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "read stored block hash", err)
	}
	if !ok {
		return &Result{}, nil
	}
	storedHash = strings.ToLower(storedHash)

	if liveHash == storedHash {
		return &Result{}, nil
	}

	d.log.Warnf("reorg detected: chain=%d block=%d stored_hash=%s live_hash=%s",
		chainID, blockNumber, storedHash, liveHash)

	// Step 5: dedup within the last 24h, checked before doing any walkback
	// work or writes.
	if existing, err := d.store.GetReorgAtBlock(ctx, chainID, blockNumber, dedupWindow); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "check reorg dedup window", err)
	} else if existing != nil {
		d.log.Infof("reorg at chain=%d block=%d already recorded within dedup window, skipping", chainID, blockNumber)
		return &Result{}, nil
	}

	// Step 3: walk backward to the last common ancestor.
	depth, err := d.walkback(ctx, chainID, blockNumber)
	if err != nil {
		return nil, err
	}

	rollback := blockNumber - depth
	metrics.ReorgsDetected.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
	metrics.ReorgDepth.WithLabelValues(fmt.Sprintf("%d", chainID)).Observe(float64(depth))

	// Step 4: record, delete, reset, resolve. transfers_affected is the
	// count of rows actually deleted by DeleteTransfersInRange below.
	tailEnd := blockNumber + rollbackTailBlocks

	reorgRecord := &model.Reorg{
		ChainID:         chainID,
		DetectedAtBlock: blockNumber,
		ReorgDepth:      depth,
		OldBlockHash:    storedHash,
		NewBlockHash:    liveHash,
		Status:          model.ReorgDetected,
		DetectedAt:      time.Now().UTC(),
	}
	if err := d.store.CreateReorg(ctx, reorgRecord); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "record reorg", err)
	}

	deleted, err := d.store.DeleteTransfersInRange(ctx, chainID, rollback, tailEnd)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "delete rolled-back transfers", err)
	}

	if err := d.store.UpdateLastProcessedBlock(ctx, chainID, contractAddress, rollback, -int64(deleted)); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "reset last processed block after rollback", err)
	}

	if err := d.store.MarkReorgResolved(ctx, reorgRecord.ID, int64(deleted)); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "mark reorg resolved", err)
	}

	if d.queue != nil {
		job := pkgqueue.ReorgJob{
			ChainID:           chainID,
			ReorgID:           reorgRecord.ID,
			AffectedFromBlock: rollback,
			AffectedToBlock:   tailEnd,
		}
		if err := d.queue.Add(ctx, pkgqueue.Reorg, job, pkgqueue.AddOptions{Priority: 1}); err != nil {
			d.log.Warnf("failed to enqueue reorg job for chain=%d reorg_id=%d: %v", chainID, reorgRecord.ID, err)
		}
	}

	d.log.Infof("reorg resolved: chain=%d depth=%d rollback_block=%d transfers_deleted=%d",
		chainID, depth, rollback, deleted)

	return &Result{
		RolledBack:       true,
		RollbackBlock:    rollback,
		Depth:            depth,
		TransfersDeleted: deleted,
	}, nil
}

// walkback compares live vs. stored hashes for blockNumber-1, -2, ... up to
// MaxWalkback blocks back, returning the first k where they match.
func (d *Detector) walkback(ctx context.Context, chainID uint64, blockNumber uint64) (uint64, error) {
	for k := uint64(1); k <= MaxWalkback; k++ {
		if blockNumber < k {
			return k, nil
		}
		b := blockNumber - k

		liveHeader, err := d.rpc.GetBlockByNumber(ctx, b)
		if err != nil {
			return 0, errkind.Wrap(errkind.Transient, "fetch live header during walkback", err)
		}
		if liveHeader == nil {
			continue
		}

		storedHash, ok, err := d.store.GetStoredBlockHash(ctx, chainID, b)
		if err != nil {
			return 0, errkind.Wrap(errkind.Transient, "read stored hash during walkback", err)
		}
		if !ok {
			continue
		}

		if strings.EqualFold(liveHeader.Hash.Hex(), storedHash) {
			return k, nil
		}
	}
	return MaxWalkback, nil
}

// Close releases the detector's resources.
func (d *Detector) Close() error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, false)
	return nil
}
