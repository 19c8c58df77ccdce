// Package worker implements the per-queue worker pools of spec.md §5:
// a bounded number of goroutines draining one named queue each, fanned
// out with golang.org/x/sync/errgroup the way the teacher's
// IndexerCoordinator.HandleLogs shards work across indexers.
package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/core/internal/logger"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
)

// Handler processes one dequeued job. A returned error fails the job
// (backoff retry or poison); a nil return completes it.
type Handler func(ctx context.Context, job *pkgqueue.Job) error

// Pool runs Concurrency goroutines against one named queue. Workers are
// CPU-light and I/O-bound per the Design Notes; concurrency above 1 is
// only safe for queues whose jobs don't need strict ordering between
// each other (the events queue defaults to 1 to preserve per-chain-tip
// ordering; Design Notes "no global mutable state" still applies within
// a single job via the owned per-contract map the Processor builds).
type Pool struct {
	queue        pkgqueue.Queue
	name         pkgqueue.Name
	concurrency  int
	pollInterval time.Duration
	handler      Handler
	log          *logger.Logger
}

// New builds a Pool. concurrency below 1 is treated as 1.
func New(queue pkgqueue.Queue, name pkgqueue.Name, concurrency int, pollInterval time.Duration, handler Handler, log *logger.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:        queue,
		name:         name,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		handler:      handler,
		log:          log.WithComponent("worker").WithComponent(string(name)),
	}
}

// Run blocks until ctx is cancelled, fanning out Concurrency workers.
// On shutdown, each worker finishes its in-flight job's transaction
// before returning, per spec.md §5's cancellation rule.
func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		group.Go(func() error {
			p.loop(groupCtx)
			return nil
		})
	}
	return group.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, p.name)
		switch {
		case errors.Is(err, pkgqueue.ErrNoJobAvailable):
			p.sleep(ctx)
			continue
		case err != nil:
			p.log.Errorw("dequeue failed", "error", err)
			p.sleep(ctx)
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job *pkgqueue.Job) {
	if err := p.handler(ctx, job); err != nil {
		p.log.Errorw("job handler failed", "queue", job.Queue, "block", job.BlockHash.Hex(), "error", err)
		if failErr := p.queue.Fail(ctx, job, err); failErr != nil {
			p.log.Errorw("fail job bookkeeping failed", "block", job.BlockHash.Hex(), "error", failErr)
		}
		return
	}

	if err := p.queue.Complete(ctx, job); err != nil {
		p.log.Errorw("complete job bookkeeping failed", "block", job.BlockHash.Hex(), "error", err)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
