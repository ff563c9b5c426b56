// Package queue defines the Job Queue Ports (C6): three durable,
// priority-ordered, at-least-once queues — block-ranges, catchup, reorg.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Name identifies one of the three logical queues.
type Name string

const (
	BlockRanges Name = "block-ranges"
	Catchup     Name = "catchup"
	Reorg       Name = "reorg"
)

// BlockRangeJob is the payload of a block-ranges queue entry.
type BlockRangeJob struct {
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	FromBlock       uint64 `json:"fromBlock"`
	ToBlock         uint64 `json:"toBlock"`
	Priority        int    `json:"priority"`
	RetryCount      int    `json:"retryCount"`
}

// CatchupJob is the payload of a catchup queue entry.
type CatchupJob struct {
	ChainID         uint64 `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	FromBlock       uint64 `json:"fromBlock"`
	ToBlock         uint64 `json:"toBlock"`
	ChunkSize       uint64 `json:"chunkSize"`
}

// ReorgJob is the payload of a reorg queue entry.
type ReorgJob struct {
	ChainID           uint64 `json:"chainId"`
	ReorgID           int64  `json:"reorgId"`
	AffectedFromBlock uint64 `json:"affectedFromBlock"`
	AffectedToBlock   uint64 `json:"affectedToBlock"`
}

// AddOptions controls how a job is scheduled.
type AddOptions struct {
	Priority int // 1 (highest) .. 20 (lowest); BlockRanges/Catchup only — Reorg is always 1.
	Delay    time.Duration
	Attempts int // default attempts before the job is moved to failed.
}

// Metrics reports one queue's backlog shape.
type Metrics struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
}

func (m Metrics) Total() int64 {
	return m.Waiting + m.Active + m.Completed + m.Failed + m.Delayed
}

// Job is a dequeued unit of work: its raw payload plus the bookkeeping a
// Handler needs to ack, fail, or let lease expire (triggering redelivery).
type Job struct {
	ID      string
	Queue   Name
	Payload json.RawMessage
}

// Unmarshal decodes the job payload into v (a *BlockRangeJob, *CatchupJob,
// or *ReorgJob depending on Queue).
func (j *Job) Unmarshal(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// Handler processes one dequeued Job. Returning an error marks the job
// failed for this attempt (redelivered up to Attempts); returning nil acks
// it as completed.
type Handler func(ctx context.Context, job Job) error

// Ports is the full durable-queue surface the engine depends on (C6).
// Workers call Consume to register a Handler per queue; the Coordinator
// and Block-Range Workers call Add/Pause/Resume/Metrics.
type Ports interface {
	// Add enqueues payload (a *BlockRangeJob, *CatchupJob, or *ReorgJob)
	// onto queue under opts.
	Add(ctx context.Context, queue Name, payload interface{}, opts AddOptions) error

	Pause(ctx context.Context, queue Name) error
	Resume(ctx context.Context, queue Name) error

	Metrics(ctx context.Context, queue Name) (Metrics, error)

	// Consume registers handler for queue and starts workerCount
	// goroutines draining it until ctx is cancelled.
	Consume(ctx context.Context, queue Name, workerCount int, handler Handler) error

	Close() error
}
