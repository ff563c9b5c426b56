package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/pkg/queue"
)

const (
	sweepInterval = 2 * time.Second
)

// Consume implements queue.Ports.Consume: workerCount goroutines pop the
// highest-priority (lowest score) waiting job, lease it for stallTimeout,
// and run handler. A nil return acks (moves to completed, trimmed to
// completedRet); an error moves it to failed (trimmed to failedRet) after
// exhausting its attempts budget, otherwise re-enqueues it for retry. A
// background sweep promotes due delayed jobs and redelivers stalled
// leases, up to maxStalledCount times, the way a Bull-style Redis queue
// does.
func (q *Queue) Consume(ctx context.Context, name queue.Name, workerCount int, handler queue.Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	go q.sweepLoop(ctx, name)

	for i := 0; i < workerCount; i++ {
		go q.workerLoop(ctx, name, handler)
	}
	return nil
}

func (q *Queue) workerLoop(ctx context.Context, name queue.Name, handler queue.Handler) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.isPaused(ctx, name) {
				continue
			}
			job, ok, err := q.popNext(ctx, name)
			if err != nil {
				q.log.Warnf("redisqueue: pop %s: %v", name, err)
				continue
			}
			if !ok {
				continue
			}
			q.runJob(ctx, name, job, handler)
		}
	}
}

// popNext pops the lowest-score member of waiting (ZPOPMIN) and then adds
// it to active (leased) state as a separate command, returning its decoded
// Job.
func (q *Queue) popNext(ctx context.Context, name queue.Name) (queue.Job, bool, error) {
	results, err := q.client.ZPopMin(ctx, waitingKey(name), 1).Result()
	if err != nil {
		return queue.Job{}, false, err
	}
	if len(results) == 0 {
		return queue.Job{}, false, nil
	}
	id, ok := results[0].Member.(string)
	if !ok {
		return queue.Job{}, false, fmt.Errorf("redisqueue: unexpected member type %T", results[0].Member)
	}

	now := float64(time.Now().Add(q.stallTimeout).Unix())
	if err := q.client.ZAdd(ctx, activeKey(name), redis.Z{Score: now, Member: id}).Err(); err != nil {
		return queue.Job{}, false, err
	}

	payload, err := q.client.Get(ctx, payloadKey(name, id)).Bytes()
	if err != nil {
		return queue.Job{}, false, err
	}

	return queue.Job{ID: id, Queue: name, Payload: payload}, true, nil
}

func (q *Queue) runJob(ctx context.Context, name queue.Name, job queue.Job, handler queue.Handler) {
	err := handler(ctx, job)

	q.client.ZRem(ctx, activeKey(name), job.ID)

	if err == nil {
		q.ack(ctx, name, job.ID)
		return
	}

	q.retryOrFail(ctx, name, job.ID, err)
}

func (q *Queue) ack(ctx context.Context, name queue.Name, id string) {
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, completedKey(name), id)
	pipe.LTrim(ctx, completedKey(name), 0, int64(q.completedRet-1))
	pipe.Del(ctx, payloadKey(name, id), attemptsKey(name, id), leaseKey(name, id), priorityKey(name, id))
	pipe.Exec(ctx)

	metrics.JobsCompleted.WithLabelValues(string(name)).Inc()
}

func (q *Queue) fail(ctx context.Context, name queue.Name, id string) {
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, failedKey(name), id)
	pipe.LTrim(ctx, failedKey(name), 0, int64(q.failedRet-1))
	pipe.Del(ctx, payloadKey(name, id), attemptsKey(name, id), leaseKey(name, id), priorityKey(name, id))
	pipe.Exec(ctx)

	metrics.JobsFailed.WithLabelValues(string(name)).Inc()
}

func (q *Queue) retryOrFail(ctx context.Context, name queue.Name, id string, cause error) {
	remaining, decErr := q.client.Decr(ctx, attemptsKey(name, id)).Result()
	if decErr != nil {
		q.log.Warnf("redisqueue: decrement attempts for %s/%s: %v", name, id, decErr)
	}
	if remaining > 0 {
		backoff := exponentialBackoff(remaining)
		q.client.ZAdd(ctx, delayedKey(name), redis.Z{
			Score:  float64(time.Now().Add(backoff).Unix()),
			Member: id,
		})
		q.log.Debugf("redisqueue: retrying %s/%s in %v after: %v", name, id, backoff, cause)
		return
	}
	q.log.Warnf("redisqueue: %s/%s exhausted attempts: %v", name, id, cause)
	q.fail(ctx, name, id)
}

// exponentialBackoff implements the §4.6 "exponential backoff base 2s"
// retry schedule for block-ranges jobs, reused for every queue.
func exponentialBackoff(attemptsRemaining int64) time.Duration {
	const base = 2 * time.Second
	const defaultAttempts = 3

	attemptNumber := defaultAttempts - attemptsRemaining
	if attemptNumber < 0 {
		attemptNumber = 0
	}
	backoff := base
	for i := int64(0); i < attemptNumber; i++ {
		backoff *= 2
	}
	return backoff
}

// sweepLoop promotes due delayed jobs back into waiting and redelivers
// stalled active leases (lease score < now), up to maxStalledCount times
// per job, per §6.5.
func (q *Queue) sweepLoop(ctx context.Context, name queue.Name) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDelayed(ctx, name)
			q.redeliverStalled(ctx, name)
		}
	}
}

func (q *Queue) promoteDelayed(ctx context.Context, name queue.Name) {
	now := float64(time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(due) == 0 {
		return
	}
	for _, id := range due {
		score := q.jobPriority(ctx, name, id)
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey(name), id)
		pipe.ZAdd(ctx, waitingKey(name), redis.Z{Score: score, Member: id})
		pipe.Exec(ctx)
	}
}

// jobPriority reads back the priority a job was Add-ed with, so promotion
// and redelivery preserve it instead of reshuffling the job to a fixed
// score. Falls back to the default priority if the key is missing (e.g. a
// job added before this key existed).
func (q *Queue) jobPriority(ctx context.Context, name queue.Name, id string) float64 {
	priority, err := q.client.Get(ctx, priorityKey(name, id)).Int()
	if err != nil {
		return 10
	}
	return float64(priority)
}

func (q *Queue) redeliverStalled(ctx context.Context, name queue.Name) {
	now := float64(time.Now().Unix())
	stalled, err := q.client.ZRangeByScore(ctx, activeKey(name), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil || len(stalled) == 0 {
		return
	}

	for _, id := range stalled {
		count, _ := q.client.Incr(ctx, leaseKey(name, id)).Result()
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, activeKey(name), id)
		if int(count) > q.maxStalledCount {
			pipe.Exec(ctx)
			q.fail(ctx, name, id)
			continue
		}
		pipe.ZAdd(ctx, waitingKey(name), redis.Z{Score: q.jobPriority(ctx, name, id), Member: id})
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			q.log.Warnf("redisqueue: redeliver %s/%s: %v", name, id, err)
		}
	}
}
