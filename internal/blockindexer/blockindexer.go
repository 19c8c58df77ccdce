// Package blockindexer implements the Block Indexer (spec §4.E): turns a
// discovered header into a persisted Block plus its decoded Events, then
// hands the block off to the Block Processor via the events queue.
package blockindexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainwatch/core/internal/cursor"
	"github.com/chainwatch/core/internal/logger"
	"github.com/chainwatch/core/internal/metrics"
	pkgabioracle "github.com/chainwatch/core/pkg/abioracle"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// Indexer saves a discovered header and its events, and enqueues the
// follow-up events job. It holds no mutable state of its own; every
// call is self-contained within one store transaction.
type Indexer struct {
	chain  pkgchain.Client
	store  pkgstore.TxRunner
	oracle pkgabioracle.Oracle
	queue  pkgqueue.Queue
	log    *logger.Logger
}

// New builds an Indexer. oracle may be a registry with zero decoders
// registered; unknown contracts then contribute no events, per §4.E
// step 3 and the oracle contract of §6.
func New(chain pkgchain.Client, store pkgstore.TxRunner, oracle pkgabioracle.Oracle, queue pkgqueue.Queue, log *logger.Logger) *Indexer {
	return &Indexer{chain: chain, store: store, oracle: oracle, queue: queue, log: log.WithComponent("blockindexer")}
}

// SaveBlockAndFetchEvents implements spec.md §4.E. watched is the set of
// contract addresses to fetch logs for and their ABI-oracle kind.
func (ix *Indexer) SaveBlockAndFetchEvents(ctx context.Context, header *types.Header, watched map[common.Address]string) (*pkgstore.Block, []*pkgstore.Event, error) {
	blockHash := header.Hash()

	if existing, events, found, err := ix.existingCompleteBlock(ctx, blockHash); err != nil {
		return nil, nil, err
	} else if found {
		return existing, events, nil
	}

	addresses := make([]common.Address, 0, len(watched))
	for addr := range watched {
		addresses = append(addresses, addr)
	}

	logs, err := ix.chain.GetLogs(ctx, header.Number.Uint64(), addresses)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch logs for block %s: %w", blockHash, err)
	}

	events, err := ix.decodeLogs(logs, watched)
	if err != nil {
		return nil, nil, err
	}

	block := &pkgstore.Block{
		BlockHash:               blockHash,
		ParentHash:              header.ParentHash,
		BlockNumber:             header.Number.Uint64(),
		BlockTimestamp:          header.Time,
		NumEvents:               len(events),
		LastProcessedEventIndex: -1,
	}

	err = ix.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		if err := tx.SaveBlockWithEvents(block, events); err != nil {
			return fmt.Errorf("save block with events: %w", err)
		}
		if err := cursor.AdvanceLatestIndexed(tx, blockHash, block.BlockNumber, false); err != nil &&
			!errors.Is(err, pkgstore.ErrCursorNotMonotonic) {
			return fmt.Errorf("advance latest indexed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.BlocksIndexedInc()
	metrics.EventsIndexedInc(len(events))
	metrics.LastIndexedBlockSet(block.BlockNumber)

	if err := ix.queue.Enqueue(ctx, pkgqueue.Events, blockHash.Hex(), blockHash, block.BlockNumber, 0); err != nil {
		ix.log.Errorw("enqueue events job failed", "block", blockHash.Hex(), "error", err)
		return block, events, fmt.Errorf("enqueue events job for %s: %w", blockHash, err)
	}

	ix.log.Debugw("indexed block", "number", block.BlockNumber, "hash", blockHash.Hex(), "events", len(events))
	return block, events, nil
}

// HandleJob adapts a dequeued block-queue job to SaveBlockAndFetchEvents,
// re-resolving the header (a cache hit, almost always) and the current
// watched-contract set before saving.
func (ix *Indexer) HandleJob(ctx context.Context, job *pkgqueue.Job) error {
	header, err := ix.chain.GetBlockByHashOrNumber(ctx, &job.BlockHash, job.BlockNumber)
	if err != nil {
		return fmt.Errorf("resolve header for block job %s: %w", job.BlockHash, err)
	}
	if header == nil {
		return fmt.Errorf("block job %s (number %d) not yet available upstream", job.BlockHash, job.BlockNumber)
	}

	watched := make(map[common.Address]string)
	err = ix.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		contracts, err := tx.ListContracts()
		if err != nil {
			return err
		}
		for _, c := range contracts {
			watched[c.Address] = c.Kind
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load watched contracts for block job: %w", err)
	}

	_, _, err = ix.SaveBlockAndFetchEvents(ctx, header, watched)
	return err
}

// existingCompleteBlock implements the idempotence check of §4.E step 1.
func (ix *Indexer) existingCompleteBlock(ctx context.Context, blockHash common.Hash) (*pkgstore.Block, []*pkgstore.Event, bool, error) {
	var block *pkgstore.Block
	var events []*pkgstore.Event

	err := ix.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		existing, err := tx.GetBlockByHash(blockHash)
		if err != nil {
			if err == pkgstore.ErrNotFound {
				return nil
			}
			return err
		}
		if existing.NumEvents == 0 {
			return nil
		}

		evs, err := tx.GetEventsAfterIndex(blockHash, -1)
		if err != nil {
			return fmt.Errorf("load events for existing block: %w", err)
		}
		block, events = existing, evs
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return block, events, block != nil, nil
}

func (ix *Indexer) decodeLogs(logs []types.Log, watched map[common.Address]string) ([]*pkgstore.Event, error) {
	events := make([]*pkgstore.Event, 0, len(logs))

	for _, lg := range logs {
		kind, ok := watched[lg.Address]
		if !ok {
			continue
		}

		parsed, err := ix.oracle.ParseLog(kind, lg)
		if err != nil {
			return nil, fmt.Errorf("parse log (contract=%s, tx=%s, index=%d): %w", lg.Address, lg.TxHash, lg.Index, err)
		}
		if parsed == nil {
			continue
		}

		events = append(events, &pkgstore.Event{
			BlockRef:  lg.BlockHash,
			TxHash:    lg.TxHash,
			Index:     int(lg.Index),
			Contract:  lg.Address,
			EventName: parsed.EventName,
			EventInfo: parsed.EventInfo,
			ExtraInfo: parsed.ExtraInfo,
			Proof:     parsed.Proof,
		})
	}

	return events, nil
}
