// Package discovery polls the upstream chain head and enqueues the block
// queue jobs that drive the Block Indexer, the way the teacher's
// Downloader.Download polls LogFetcher.FetchNext in internal/downloader.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/core/internal/cursor"
	"github.com/chainwatch/core/internal/logger"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// pollInterval mirrors the teacher's ethereumBlockTime backoff between
// head checks when the watcher has already caught up.
const pollInterval = 12 * time.Second

// Watcher discovers new canonical-at-height blocks and enqueues one
// block-queue job per block number not yet indexed.
type Watcher struct {
	chain      pkgchain.Client
	store      pkgstore.TxRunner
	queue      pkgqueue.Queue
	startBlock uint64
	log        *logger.Logger
}

// New builds a Watcher. startBlock is only used the first time the sync
// cursors are ever advanced, per §4.D's CursorConfig.StartBlock.
func New(chain pkgchain.Client, store pkgstore.TxRunner, queue pkgqueue.Queue, startBlock uint64, log *logger.Logger) *Watcher {
	return &Watcher{chain: chain, store: store, queue: queue, startBlock: startBlock, log: log.WithComponent("discovery")}
}

// Run polls until ctx is cancelled, advancing the chain head cursor and
// enqueueing a block job for every block from the one after the latest
// indexed height (startBlock, while nothing is indexed) through the current
// head.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := w.tick(ctx); err != nil {
			w.log.Errorw("discovery tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	head, err := w.chain.GetChainHead(ctx)
	if err != nil {
		return fmt.Errorf("resolve chain head: %w", err)
	}
	if head == nil {
		return nil
	}
	headNum := head.Number.Uint64()

	var nextNum uint64
	err = w.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		status, err := tx.GetSyncStatus()
		if err != nil {
			return fmt.Errorf("get sync status: %w", err)
		}
		nextNum = status.LatestIndexed.Number + 1
		if status.LatestIndexed.Hash == (common.Hash{}) && status.LatestIndexed.Number == 0 {
			nextNum = w.startBlock
		}
		return cursor.AdvanceChainHead(tx, head.Hash(), headNum, false)
	})
	if err != nil {
		return err
	}

	for num := nextNum; num <= headNum; num++ {
		header, err := w.chain.GetBlockByHashOrNumber(ctx, nil, num)
		if err != nil {
			return fmt.Errorf("fetch header %d: %w", num, err)
		}
		if header == nil {
			return nil
		}

		blockHash := header.Hash()
		if err := w.queue.Enqueue(ctx, pkgqueue.Block, blockHash.Hex(), blockHash, num, 0); err != nil {
			if errors.Is(err, pkgqueue.ErrQueueSaturated) {
				w.log.Warnw("block queue saturated, backing off", "number", num)
				return nil
			}
			return fmt.Errorf("enqueue block job %d: %w", num, err)
		}
	}

	return nil
}
