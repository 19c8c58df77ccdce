// Package queue defines the capability interface of the job queue
// (spec §4.C): two named queues persisted as durable rows, with
// per-job-key mutual exclusion, retry-with-backoff, and backpressure.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Name is one of the two queues the indexer uses.
type Name string

const (
	// Events carries one job per block whose events still need applying.
	Events Name = "events"
	// Block carries one job per block discovered upstream that still
	// needs saving.
	Block Name = "block"
)

// Status is the closed set of job lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusPoisoned Status = "poisoned"
)

// ErrQueueSaturated is returned by Enqueue once a queue's pending depth
// reaches its configured high-water mark.
var ErrQueueSaturated = errors.New("queue: saturated")

// ErrNoJobAvailable is returned by Dequeue when there is nothing ready
// to run right now.
var ErrNoJobAvailable = errors.New("queue: no job available")

// Job is one unit of work: apply or fetch a specific block.
type Job struct {
	ID          int64
	Queue       Name
	Key         string
	BlockHash   common.Hash
	BlockNumber uint64
	Priority    int
	Status      Status
	Attempts    int
	LastError   string
	NextRetryAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Queue is the durable, multi-process-safe job queue.
type Queue interface {
	// Enqueue adds a job for key, unless a pending/running job for the
	// same (queue, key) already exists, in which case it is a no-op.
	Enqueue(ctx context.Context, queue Name, key string, blockHash common.Hash, blockNumber uint64, priority int) error

	// Dequeue claims and returns the next ready job for queue, holding
	// the per-key exclusion lock until Complete or Fail releases it.
	Dequeue(ctx context.Context, queue Name) (*Job, error)

	// Complete marks job done and releases its exclusion lock.
	Complete(ctx context.Context, job *Job) error

	// Fail records a failed attempt, scheduling a backoff retry unless
	// the retry budget is exhausted, in which case the job is poisoned.
	Fail(ctx context.Context, job *Job, cause error) error

	// Depth reports the current pending+running count for queue.
	Depth(ctx context.Context, queue Name) (int, error)

	Close() error
}
