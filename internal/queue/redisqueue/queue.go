// Package redisqueue implements the Job Queue Ports (C6) on top of Redis,
// the way ZunoKit's shared/redis package wraps go-redis/v9 for this
// codebase's other Redis-backed concerns. Each logical queue is a Redis
// sorted set keyed on priority (score), plus sorted sets for active leases
// and delayed jobs, lists for completed/failed retention, and string keys
// for payloads, attempts, priorities and the pause flag, giving durable
// at-least-once delivery across process restarts.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/pkg/queue"
)

var _ queue.Ports = (*Queue)(nil)

// Queue is the Redis-backed implementation of queue.Ports.
type Queue struct {
	client *redis.Client
	log    *logger.Logger

	stallTimeout    time.Duration
	maxStalledCount int
	completedRet    int
	failedRet       int
}

// Config carries the tunables spec §6.5 names.
type Config struct {
	Addr            string
	Password        string
	DB              int
	StallTimeout    time.Duration
	MaxStalledCount int
	CompletedRet    int
	FailedRet       int
}

// New dials Redis and returns a Queue. Dialing happens lazily on first
// command per go-redis convention; Ping during startup surfaces
// connectivity problems early.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisqueue: failed to connect: %w", err)
	}

	stallTimeout := cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = 60 * time.Second
	}
	maxStalled := cfg.MaxStalledCount
	if maxStalled <= 0 {
		maxStalled = 2
	}
	completedRet := cfg.CompletedRet
	if completedRet <= 0 {
		completedRet = 1000
	}
	failedRet := cfg.FailedRet
	if failedRet <= 0 {
		failedRet = 5000
	}

	return &Queue{
		client:          client,
		log:             log,
		stallTimeout:    stallTimeout,
		maxStalledCount: maxStalled,
		completedRet:    completedRet,
		failedRet:       failedRet,
	}, nil
}

func waitingKey(q queue.Name) string   { return fmt.Sprintf("erc20indexer:q:%s:waiting", q) }
func activeKey(q queue.Name) string    { return fmt.Sprintf("erc20indexer:q:%s:active", q) }
func completedKey(q queue.Name) string { return fmt.Sprintf("erc20indexer:q:%s:completed", q) }
func failedKey(q queue.Name) string    { return fmt.Sprintf("erc20indexer:q:%s:failed", q) }
func delayedKey(q queue.Name) string   { return fmt.Sprintf("erc20indexer:q:%s:delayed", q) }
func pausedKey(q queue.Name) string    { return fmt.Sprintf("erc20indexer:q:%s:paused", q) }
func payloadKey(q queue.Name, id string) string {
	return fmt.Sprintf("erc20indexer:q:%s:payload:%s", q, id)
}
func leaseKey(q queue.Name, id string) string {
	return fmt.Sprintf("erc20indexer:q:%s:lease:%s", q, id)
}
func attemptsKey(q queue.Name, id string) string {
	return fmt.Sprintf("erc20indexer:q:%s:attempts:%s", q, id)
}
func priorityKey(q queue.Name, id string) string {
	return fmt.Sprintf("erc20indexer:q:%s:priority:%s", q, id)
}

const defaultAttempts = 3

// Add implements queue.Ports.Add. Priority becomes the sorted-set score so
// ZPOPMIN naturally drains lowest-number-first (priority 1 highest).
// A positive Delay routes the job into the delayed set instead, scored by
// its ready-at unix timestamp; a background sweep (see promoteDelayed)
// promotes it once due.
func (q *Queue) Add(ctx context.Context, name queue.Name, payload interface{}, opts queue.AddOptions) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal payload: %w", err)
	}

	id := uuid.NewString()
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	priority := opts.Priority
	if priority <= 0 {
		priority = 10
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, payloadKey(name, id), data, 0)
	pipe.Set(ctx, attemptsKey(name, id), attempts, 0)
	pipe.Set(ctx, priorityKey(name, id), priority, 0)

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).Unix())
		pipe.ZAdd(ctx, delayedKey(name), redis.Z{Score: readyAt, Member: id})
	} else {
		pipe.ZAdd(ctx, waitingKey(name), redis.Z{Score: float64(priority), Member: id})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisqueue: add job: %w", err)
	}
	return nil
}

// Pause implements queue.Ports.Pause: sets a flag Consume checks before
// popping the next job. In-flight (active) jobs continue to completion.
func (q *Queue) Pause(ctx context.Context, name queue.Name) error {
	return q.client.Set(ctx, pausedKey(name), "1", 0).Err()
}

// Resume implements queue.Ports.Resume.
func (q *Queue) Resume(ctx context.Context, name queue.Name) error {
	return q.client.Del(ctx, pausedKey(name)).Err()
}

func (q *Queue) isPaused(ctx context.Context, name queue.Name) bool {
	v, err := q.client.Exists(ctx, pausedKey(name)).Result()
	return err == nil && v > 0
}

// Metrics implements queue.Ports.Metrics.
func (q *Queue) Metrics(ctx context.Context, name queue.Name) (queue.Metrics, error) {
	waiting, err := q.client.ZCard(ctx, waitingKey(name)).Result()
	if err != nil {
		return queue.Metrics{}, err
	}
	active, err := q.client.ZCard(ctx, activeKey(name)).Result()
	if err != nil {
		return queue.Metrics{}, err
	}
	completed, err := q.client.LLen(ctx, completedKey(name)).Result()
	if err != nil {
		return queue.Metrics{}, err
	}
	failed, err := q.client.LLen(ctx, failedKey(name)).Result()
	if err != nil {
		return queue.Metrics{}, err
	}
	delayed, err := q.client.ZCard(ctx, delayedKey(name)).Result()
	if err != nil {
		return queue.Metrics{}, err
	}

	m := queue.Metrics{Waiting: waiting, Active: active, Completed: completed, Failed: failed, Delayed: delayed}
	metrics.QueueDepth.WithLabelValues(string(name), "waiting").Set(float64(waiting))
	metrics.QueueDepth.WithLabelValues(string(name), "active").Set(float64(active))
	metrics.QueueDepth.WithLabelValues(string(name), "delayed").Set(float64(delayed))
	return m, nil
}

// Close releases the underlying Redis connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}
