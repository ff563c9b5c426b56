// Package coordinator implements the Coordinator (C8): one polling loop
// per (chain, contract) pair, deciding between real-time, catch-up and
// batch modes each tick and emitting block-ranges/catchup jobs
// accordingly. Grounded in the teacher's internal/indexer
// IndexerCoordinator for its mutex-guarded registry-of-loops shape, each
// loop a goroutine tracked by a WaitGroup; the per-tick decision tree itself is
// this engine's own contract, not the teacher's event-routing logic.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	internalcommon "github.com/chainindexor/erc20indexer/internal/common"
	"github.com/chainindexor/erc20indexer/internal/chunkgov"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/errorgov"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/internal/reorg"
	"github.com/chainindexor/erc20indexer/pkg/config"
	"github.com/chainindexor/erc20indexer/pkg/model"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	pkgrpc "github.com/chainindexor/erc20indexer/pkg/rpc"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

// pairKey identifies one (chain, contract) polling loop.
type pairKey struct {
	ChainID uint64
	Address string
}

// Coordinator owns one polling loop per (chain, contract) pair under
// management and the operator-facing start/stop/reset/catch-up commands.
type Coordinator struct {
	rpc      pkgrpc.EthClient
	store    store.Ports
	queue    pkgqueue.Ports
	chunkGov *chunkgov.Governor
	errorGov *errorgov.Governor
	detector *reorg.Detector
	engCfg   config.EngineConfig
	queueCfg config.QueueConfig
	log      *logger.Logger

	mu    sync.Mutex
	loops map[pairKey]context.CancelFunc
	wg    sync.WaitGroup

	healthCancel context.CancelFunc
}

// New constructs a Coordinator.
func New(
	rpcClient pkgrpc.EthClient,
	storePorts store.Ports,
	queuePorts pkgqueue.Ports,
	chunkGov *chunkgov.Governor,
	errorGov *errorgov.Governor,
	detector *reorg.Detector,
	engCfg config.EngineConfig,
	queueCfg config.QueueConfig,
	log *logger.Logger,
) *Coordinator {
	return &Coordinator{
		rpc:      rpcClient,
		store:    storePorts,
		queue:    queuePorts,
		chunkGov: chunkGov,
		errorGov: errorGov,
		detector: detector,
		engCfg:   engCfg,
		queueCfg: queueCfg,
		log:      log.WithComponent(internalcommon.ComponentCoordinator),
		loops:    make(map[pairKey]context.CancelFunc),
	}
}

// StartHealthCron launches the §4.8 health cron: every HealthCronInterval,
// logs every running state whose last_indexed_at is older than
// StuckThreshold. Runs until ctx is cancelled.
func (c *Coordinator) StartHealthCron(ctx context.Context) {
	cronCtx, cancel := context.WithCancel(ctx)
	c.healthCancel = cancel

	ticker := time.NewTicker(c.engCfg.HealthCronInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-cronCtx.Done():
				return
			case <-ticker.C:
				c.runHealthCheck(cronCtx)
			}
		}
	}()
}

func (c *Coordinator) runHealthCheck(ctx context.Context) {
	states, err := c.store.GetAllRunningStates(ctx)
	if err != nil {
		c.log.Warnf("health cron: failed to list running states: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, s := range states {
		if s.LastIndexedAt == nil {
			continue
		}
		if now.Sub(*s.LastIndexedAt) > c.engCfg.StuckThreshold {
			c.log.Warnf("indexer stuck: chain=%d contract=%s last_indexed_at=%s",
				s.ChainID, s.ContractAddress, s.LastIndexedAt.Format(time.RFC3339))
		}
	}
}

// StartIndexer implements startIndexer(chainId, contract, start?): creates
// or reuses the state row, resumes the durable queues, and installs the
// polling loop for the pair.
func (c *Coordinator) StartIndexer(ctx context.Context, chainID uint64, contractAddress string, start *uint64) (*model.IndexerState, error) {
	var state *model.IndexerState
	var err error
	if start != nil {
		state, err = c.store.ResetState(ctx, chainID, contractAddress, *start)
	} else {
		state, err = c.store.GetOrCreateState(ctx, chainID, contractAddress, 0)
	}
	if err != nil {
		return nil, err
	}

	if err := c.store.UpdateStatus(ctx, chainID, contractAddress, model.StatusRunning); err != nil {
		return nil, err
	}
	state.Status = model.StatusRunning

	for _, q := range []pkgqueue.Name{pkgqueue.BlockRanges, pkgqueue.Catchup, pkgqueue.Reorg} {
		if err := c.queue.Resume(ctx, q); err != nil {
			return nil, errkind.Wrap(errkind.Transient, fmt.Sprintf("resume queue %s", q), err)
		}
	}

	c.installLoop(ctx, chainID, contractAddress)
	return state, nil
}

// StopIndexer implements stopIndexer(chainId, contract): cancels the
// pair's loop and sets status stopped. The shared queues are paused only
// when no other pair remains running, since they are process-wide.
func (c *Coordinator) StopIndexer(ctx context.Context, chainID uint64, contractAddress string) error {
	c.removeLoop(chainID, contractAddress)

	if err := c.store.UpdateStatus(ctx, chainID, contractAddress, model.StatusStopped); err != nil {
		return err
	}

	running, err := c.store.GetAllRunningStates(ctx)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		for _, q := range []pkgqueue.Name{pkgqueue.BlockRanges, pkgqueue.Catchup, pkgqueue.Reorg} {
			if err := c.queue.Pause(ctx, q); err != nil {
				return errkind.Wrap(errkind.Transient, fmt.Sprintf("pause queue %s", q), err)
			}
		}
	}
	return nil
}

// ResetIndexer implements resetIndexer(chainId, contract, block): stop
// then resetState.
func (c *Coordinator) ResetIndexer(ctx context.Context, chainID uint64, contractAddress string, block uint64) (*model.IndexerState, error) {
	if err := c.StopIndexer(ctx, chainID, contractAddress); err != nil {
		return nil, err
	}
	return c.store.ResetState(ctx, chainID, contractAddress, block)
}

// TriggerCatchUp implements triggerCatchUp(chainId, contract, from, to):
// validates 0 <= from <= to <= head and to-from <= 2000, then enqueues a
// single catchup job.
func (c *Coordinator) TriggerCatchUp(ctx context.Context, chainID uint64, contractAddress string, from, to uint64) error {
	if err := c.rpc.SwitchChain(chainID); err != nil {
		return errkind.Wrap(errkind.Transient, "switch chain for catch-up validation", err)
	}
	head, err := c.rpc.GetBlockNumber(ctx)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "read head block for catch-up validation", err)
	}

	if from > to {
		return errkind.New(errkind.Validation, "fromBlock must be <= toBlock")
	}
	if to-from > 2000 {
		return errkind.New(errkind.Validation, "catch-up range must not exceed 2000 blocks")
	}
	if to > head {
		return errkind.New(errkind.Validation, "toBlock must not exceed current head")
	}

	return c.queue.Add(ctx, pkgqueue.Catchup, pkgqueue.CatchupJob{
		ChainID:         chainID,
		ContractAddress: contractAddress,
		FromBlock:       from,
		ToBlock:         to,
		ChunkSize:       c.chunkGov.Current(chainID),
	}, pkgqueue.AddOptions{Priority: 5})
}

func (c *Coordinator) installLoop(parent context.Context, chainID uint64, contractAddress string) {
	key := pairKey{ChainID: chainID, Address: contractAddress}

	c.mu.Lock()
	if _, exists := c.loops[key]; exists {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(parent)
	c.loops[key] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(loopCtx, chainID, contractAddress)
	}()
}

func (c *Coordinator) removeLoop(chainID uint64, contractAddress string) {
	key := pairKey{ChainID: chainID, Address: contractAddress}

	c.mu.Lock()
	cancel, exists := c.loops[key]
	delete(c.loops, key)
	c.mu.Unlock()

	if exists {
		cancel()
	}
}

// pollLoop runs the §4.8 per-tick decision tree at PollingInterval until
// cancelled or the state's status leaves running.
func (c *Coordinator) pollLoop(ctx context.Context, chainID uint64, contractAddress string) {
	ticker := time.NewTicker(c.engCfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.tick(ctx, chainID, contractAddress); err != nil {
				c.log.Warnf("tick failed chain=%d contract=%s: %v", chainID, contractAddress, err)
			}
		}
	}
}

// tick implements one pass of the §4.8 decision tree for a single pair.
func (c *Coordinator) tick(ctx context.Context, chainID uint64, contractAddress string) error {
	// Leader election is unconditional: a single-instance deployment
	// always asserts leadership.

	state, err := c.store.GetState(ctx, chainID, contractAddress)
	if err != nil {
		return err
	}
	if state.Status != model.StatusRunning {
		c.removeLoop(chainID, contractAddress)
		return nil
	}

	// Step 1.
	if c.errorGov.CheckBreaker(time.Now()) {
		return nil
	}

	// Step 2.
	if err := c.rpc.SwitchChain(chainID); err != nil {
		c.errorGov.OpenBreaker(time.Now())
		c.errorGov.OnError(time.Now())
		return errkind.Wrap(errkind.Transient, "switch chain", err)
	}
	head, err := c.rpc.GetBlockNumber(ctx)
	if err != nil {
		c.errorGov.OpenBreaker(time.Now())
		c.errorGov.OnError(time.Now())
		return errkind.Wrap(errkind.Transient, "read head block", err)
	}
	c.errorGov.OnSuccess()

	// Step 3.
	if err := c.store.UpdateCurrentBlock(ctx, chainID, contractAddress, head); err != nil {
		return err
	}
	var lag uint64
	if head > state.LastProcessedBlock {
		lag = head - state.LastProcessedBlock
	}
	metrics.Lag.WithLabelValues(fmt.Sprintf("%d", chainID), contractAddress).Set(float64(lag))

	// Step 4.
	chunk := c.chunkGov.Optimal(chainID, lag)
	if chunk < 1 {
		chunk = 1
	}

	// Step 5.
	blockRangeMetrics, err := c.queue.Metrics(ctx, pkgqueue.BlockRanges)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "read block-ranges queue metrics", err)
	}
	hasPending := blockRangeMetrics.Waiting > 0 || blockRangeMetrics.Active > 0
	workerCount := c.queueCfg.BlockRangeWorkers
	if workerCount <= 0 {
		workerCount = 1
	}
	tooManyPending := blockRangeMetrics.Waiting > int64(workerCount*c.queueCfg.MaxPendingPerWorker)

	// Step 6: decide mode.
	switch {
	case lag <= c.engCfg.RealtimeThreshold:
		return c.tickRealtime(ctx, chainID, contractAddress, state, head, lag)

	case lag > c.engCfg.CatchupThreshold && !state.IsCatchingUp && !hasPending:
		return c.tickCatchUp(ctx, chainID, contractAddress, state, head, chunk)

	default:
		if tooManyPending {
			return nil
		}
		return c.tickBatch(ctx, chainID, contractAddress, state, head, chunk)
	}
}

func (c *Coordinator) tickRealtime(ctx context.Context, chainID uint64, contractAddress string, state *model.IndexerState, head, lag uint64) error {
	span := lag
	if span > 5 {
		span = 5
	}
	if span == 0 {
		return nil
	}
	from := state.LastProcessedBlock + 1
	to := from + span - 1

	if err := c.checkReorgBeforeEmit(ctx, chainID, contractAddress, from, head); err == errAbandonedForReorg {
		return nil
	} else if err != nil {
		return err
	}

	return c.queue.Add(ctx, pkgqueue.BlockRanges, pkgqueue.BlockRangeJob{
		ChainID:         chainID,
		ContractAddress: contractAddress,
		FromBlock:       from,
		ToBlock:         to,
		Priority:        10,
	}, pkgqueue.AddOptions{Priority: 10})
}

func (c *Coordinator) tickCatchUp(ctx context.Context, chainID uint64, contractAddress string, state *model.IndexerState, head, chunk uint64) error {
	from := state.LastProcessedBlock + 1

	if err := c.checkReorgBeforeEmit(ctx, chainID, contractAddress, from, head); err == errAbandonedForReorg {
		return nil
	} else if err != nil {
		return err
	}

	if err := c.store.SetCatchingUp(ctx, chainID, contractAddress, true); err != nil {
		return err
	}

	return c.queue.Add(ctx, pkgqueue.Catchup, pkgqueue.CatchupJob{
		ChainID:         chainID,
		ContractAddress: contractAddress,
		FromBlock:       state.LastProcessedBlock,
		ToBlock:         head,
		ChunkSize:       chunk,
	}, pkgqueue.AddOptions{Priority: 5})
}

func (c *Coordinator) tickBatch(ctx context.Context, chainID uint64, contractAddress string, state *model.IndexerState, head, chunk uint64) error {
	from := state.LastProcessedBlock + 1
	to := from + chunk
	if to > head {
		to = head
	}
	if from > to {
		return nil
	}

	if err := c.checkReorgBeforeEmit(ctx, chainID, contractAddress, from, head); err == errAbandonedForReorg {
		return nil
	} else if err != nil {
		return err
	}

	return c.queue.Add(ctx, pkgqueue.BlockRanges, pkgqueue.BlockRangeJob{
		ChainID:         chainID,
		ContractAddress: contractAddress,
		FromBlock:       from,
		ToBlock:         to,
		Priority:        5,
	}, pkgqueue.AddOptions{Priority: 5})
}

// errAbandonedForReorg is a sentinel returned (never wrapped) by
// checkReorgBeforeEmit to signal "skip this tick's emission", distinct
// from a real failure.
var errAbandonedForReorg = fmt.Errorf("emission abandoned: reorg rollback occurred")

// checkReorgBeforeEmit implements the §4.8 step-7 guard: invoke the Reorg
// Detector on fromBlock-1 before emitting any job. A rollback abandons
// this tick's emission so the next tick recomputes against the corrected
// last_processed_block.
func (c *Coordinator) checkReorgBeforeEmit(ctx context.Context, chainID uint64, contractAddress string, fromBlock, head uint64) error {
	if fromBlock == 0 {
		return nil
	}
	result, err := c.detector.CheckForReorg(ctx, chainID, contractAddress, fromBlock-1, head)
	if err != nil {
		return err
	}
	if result.RolledBack {
		return errAbandonedForReorg
	}
	return nil
}

// Shutdown cancels every pair's loop, the health cron, and waits up to
// grace for in-flight ticks to finish.
func (c *Coordinator) Shutdown(grace time.Duration) {
	c.mu.Lock()
	for key, cancel := range c.loops {
		cancel()
		delete(c.loops, key)
	}
	c.mu.Unlock()

	if c.healthCancel != nil {
		c.healthCancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		c.log.Warnf("shutdown grace period of %s elapsed with loops still draining", grace)
	}
}
