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

// ReorgWorker consumes the reorg queue: the Reorg Detector's durable record
// of a rollback already applied synchronously. Its job is the
// at-least-once backstop — idempotently re-assert that no transfer remains
// in the affected range, covering the case where the process crashed after
// the detector's delete but before this job was acked, leaving the queue
// needing to redeliver it.
type ReorgWorker struct {
	store store.Ports
	queue pkgqueue.Ports
	log   *logger.Logger
}

// NewReorg constructs a Reorg Worker.
func NewReorg(storePorts store.Ports, queuePorts pkgqueue.Ports, log *logger.Logger) *ReorgWorker {
	return &ReorgWorker{
		store: storePorts,
		queue: queuePorts,
		log:   log.WithComponent(internalcommon.ComponentReorgWorker),
	}
}

// Run registers Handle as the reorg consumer with concurrency
// workerCount, blocking until ctx is cancelled.
func (w *ReorgWorker) Run(ctx context.Context, workerCount int) error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgWorker, true)
	defer metrics.ComponentHealthSet(internalcommon.ComponentReorgWorker, false)
	return w.queue.Consume(ctx, pkgqueue.Reorg, workerCount, w.Handle)
}

// Handle re-deletes any transfer still present in the job's affected range
// and logs confirmation. DeleteTransfersInRange is idempotent: a clean
// range simply reports zero rows affected.
func (w *ReorgWorker) Handle(ctx context.Context, job pkgqueue.Job) error {
	var payload pkgqueue.ReorgJob
	if err := job.Unmarshal(&payload); err != nil {
		return errkind.Wrap(errkind.Permanent, "decode reorg job payload", err)
	}

	deleted, err := w.store.DeleteTransfersInRange(ctx, payload.ChainID, payload.AffectedFromBlock, payload.AffectedToBlock)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "re-assert rollback deletion", err)
	}

	if deleted > 0 {
		w.log.Warnf("reorg backstop deleted %d stray transfers chain=%d reorg_id=%d range=[%d,%d]",
			deleted, payload.ChainID, payload.ReorgID, payload.AffectedFromBlock, payload.AffectedToBlock)
	} else {
		w.log.Debugf("reorg backstop confirmed clean chain=%d reorg_id=%d range=[%d,%d]",
			payload.ChainID, payload.ReorgID, payload.AffectedFromBlock, payload.AffectedToBlock)
	}

	return nil
}
