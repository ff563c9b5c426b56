package worker

import (
	"context"

	internalcommon "github.com/chainindexor/erc20indexer/internal/common"
	"github.com/chainindexor/erc20indexer/internal/errkind"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

// CatchupWorker consumes the catchup queue and fans a wide
// (lastProcessed, head] range out into bounded block-ranges jobs the
// Block-Range Worker pool can drain in parallel, clearing is_catching_up
// once every chunk has been handed off.
type CatchupWorker struct {
	store store.Ports
	queue pkgqueue.Ports
	log   *logger.Logger
}

// NewCatchup constructs a Catchup Worker.
func NewCatchup(storePorts store.Ports, queuePorts pkgqueue.Ports, log *logger.Logger) *CatchupWorker {
	return &CatchupWorker{
		store: storePorts,
		queue: queuePorts,
		log:   log.WithComponent(internalcommon.ComponentCatchupWorker),
	}
}

// Run registers Handle as the catchup consumer with concurrency
// workerCount, blocking until ctx is cancelled.
func (w *CatchupWorker) Run(ctx context.Context, workerCount int) error {
	metrics.ComponentHealthSet(internalcommon.ComponentCatchupWorker, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentCatchupWorker, false)
	return w.queue.Consume(ctx, pkgqueue.Catchup, workerCount, w.Handle)
}

// Handle splits a catchup job's (from, to] range into ChunkSize-sized
// block-ranges jobs at priority 7 (between real-time's 10 and batch's 5),
// then clears is_catching_up once every chunk has been enqueued.
func (w *CatchupWorker) Handle(ctx context.Context, job pkgqueue.Job) error {
	var payload pkgqueue.CatchupJob
	if err := job.Unmarshal(&payload); err != nil {
		return errkind.Wrap(errkind.Permanent, "decode catchup job payload", err)
	}

	chunk := payload.ChunkSize
	if chunk < 1 {
		chunk = 1
	}

	from := payload.FromBlock + 1
	enqueued := 0
	for from <= payload.ToBlock {
		to := from + chunk - 1
		if to > payload.ToBlock {
			to = payload.ToBlock
		}
		err := w.queue.Add(ctx, pkgqueue.BlockRanges, pkgqueue.BlockRangeJob{
			ChainID:         payload.ChainID,
			ContractAddress: payload.ContractAddress,
			FromBlock:       from,
			ToBlock:         to,
			Priority:        7,
		}, pkgqueue.AddOptions{Priority: 7})
		if err != nil {
			return errkind.Wrap(errkind.Transient, "enqueue block-range chunk from catch-up job", err)
		}
		enqueued++
		from = to + 1
	}

	if err := w.store.SetCatchingUp(ctx, payload.ChainID, payload.ContractAddress, false); err != nil {
		return err
	}

	w.log.Infof("catch-up fanned out chain=%d contract=%s range=(%d,%d] chunks=%d",
		payload.ChainID, payload.ContractAddress, payload.FromBlock, payload.ToBlock, enqueued)

	return nil
}
