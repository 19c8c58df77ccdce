// Package processor implements the Block Processor (spec §4.F): dequeues
// a saved block, replays its events in strict ascending order against
// per-contract derived state, materializes diff_staged records for every
// contract touched, advances the canonical cursor, and hands off optional
// post-processing to the state sink.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/core/internal/blockindexer"
	"github.com/chainwatch/core/internal/cursor"
	"github.com/chainwatch/core/internal/db"
	"github.com/chainwatch/core/internal/logger"
	"github.com/chainwatch/core/internal/materializer"
	"github.com/chainwatch/core/internal/metrics"
	"github.com/chainwatch/core/internal/reorg"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
	pkgstatesink "github.com/chainwatch/core/pkg/statesink"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// maxReorgRestarts bounds how many times Process will retry step 3 after
// invoking the Reorg Handler, before giving up rather than looping forever
// against a chain client that keeps reporting a mismatched parent.
const maxReorgRestarts = 8

// Processor applies one dequeued block's events per call. It holds no
// mutable state between calls; every in-flight contract state dictionary
// is owned exclusively by the call that built it.
type Processor struct {
	chain        pkgchain.Client
	store        pkgstore.TxRunner
	indexer      *blockindexer.Indexer
	reorg        *reorg.Handler
	materializer *materializer.Materializer
	sink         pkgstatesink.Sink
	maint        db.Maintenance

	appliers          map[string]StateApplier
	defaultApplier    StateApplier
	maxBackfillDepth  uint64
	checkpointCadence uint64

	log *logger.Logger
}

// New builds a Processor. sink may be a NoopSink when no external
// post-processing endpoint is configured. maint excludes a block's
// processing from a concurrent VACUUM/WAL checkpoint; pass
// &db.NoOpMaintenance{} where no coordinator is configured.
func New(
	chain pkgchain.Client,
	store pkgstore.TxRunner,
	indexer *blockindexer.Indexer,
	reorgHandler *reorg.Handler,
	mat *materializer.Materializer,
	sink pkgstatesink.Sink,
	maint db.Maintenance,
	maxBackfillDepth uint64,
	checkpointCadence uint64,
	log *logger.Logger,
) *Processor {
	return &Processor{
		chain:             chain,
		store:             store,
		indexer:           indexer,
		reorg:             reorgHandler,
		materializer:      mat,
		sink:              sink,
		maint:             maint,
		appliers:          make(map[string]StateApplier),
		defaultApplier:    GenericApplier{},
		maxBackfillDepth:  maxBackfillDepth,
		checkpointCadence: checkpointCadence,
		log:               log.WithComponent("processor"),
	}
}

// RegisterApplier wires the generated StateApplier for a contract kind.
// Kinds with no registered applier fall back to GenericApplier.
func (p *Processor) RegisterApplier(kind string, applier StateApplier) {
	p.appliers[kind] = applier
}

func (p *Processor) applierFor(kind string) StateApplier {
	if applier, ok := p.appliers[kind]; ok {
		return applier
	}
	return p.defaultApplier
}

// Process implements spec.md §4.F for one dequeued events job.
func (p *Processor) Process(ctx context.Context, job *pkgqueue.Job) error {
	started := time.Now()
	defer func() { metrics.BlockProcessingTimeLog(time.Since(started)) }()

	unlock := p.maint.AcquireOperationLock()
	defer unlock()

	blockHash := job.BlockHash

	for attempt := 0; ; attempt++ {
		block, err := p.loadBlock(ctx, blockHash)
		if err != nil {
			return err
		}
		if block.IsComplete {
			return nil
		}

		watched, contracts, err := p.loadWatched(ctx)
		if err != nil {
			return err
		}

		if block.BlockNumber > 0 {
			if err := p.ensureParentKnown(ctx, watched, block.ParentHash, block.BlockNumber-1); err != nil {
				return err
			}

			restarted, err := p.resolveReorgIfNeeded(ctx, block)
			if err != nil {
				return err
			}
			if restarted {
				if attempt >= maxReorgRestarts {
					return fmt.Errorf("processor: block %s did not stabilize after %d reorg restarts", blockHash.Hex(), attempt)
				}
				continue
			}
		}

		return p.applyEvents(ctx, block, contracts)
	}
}

func (p *Processor) loadBlock(ctx context.Context, hash common.Hash) (*pkgstore.Block, error) {
	var block *pkgstore.Block
	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		b, err := tx.GetBlockByHash(hash)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load block %s: %w", hash.Hex(), err)
	}
	return block, nil
}

// loadWatched returns the current watched-contract address set (for the
// Chain Client's log filter) and the full contract records keyed by
// address (for ABI-oracle-kind and checkpoint-cadence lookups).
func (p *Processor) loadWatched(ctx context.Context) (map[common.Address]string, map[common.Address]*pkgstore.Contract, error) {
	watched := make(map[common.Address]string)
	contracts := make(map[common.Address]*pkgstore.Contract)

	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		list, err := tx.ListContracts()
		if err != nil {
			return err
		}
		for _, c := range list {
			watched[c.Address] = c.Kind
			contracts[c.Address] = c
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load watched contracts: %w", err)
	}
	return watched, contracts, nil
}

// ensureParentKnown implements spec.md §4.F step 2: an iterative,
// bounded walk upstream from a missing parent, collecting headers until
// one is already stored locally, then saving them oldest-first so every
// ancestor becomes known.
func (p *Processor) ensureParentKnown(ctx context.Context, watched map[common.Address]string, parentHash common.Hash, parentNumber uint64) error {
	known, err := p.blockKnown(ctx, parentHash)
	if err != nil {
		return err
	}
	if known {
		return nil
	}

	type pending struct {
		hash   common.Hash
		number uint64
	}
	var gap []pending

	hash, number := parentHash, parentNumber
	for {
		if uint64(len(gap)) >= p.maxBackfillDepth {
			return &BackfillDepthExceededError{BlockHash: parentHash.Hex(), MissingAtNum: number, MaxDepth: p.maxBackfillDepth}
		}

		header, err := p.chain.GetBlockByHashOrNumber(ctx, &hash, 0)
		if err != nil {
			return fmt.Errorf("fetch backfill ancestor %s: %w", hash.Hex(), err)
		}
		if header == nil {
			return &BackfillDepthExceededError{BlockHash: parentHash.Hex(), MissingAtNum: number, MaxDepth: p.maxBackfillDepth}
		}
		gap = append(gap, pending{hash: hash, number: number})

		if number == 0 {
			return &BackfillDepthExceededError{BlockHash: parentHash.Hex(), MissingAtNum: 0, MaxDepth: p.maxBackfillDepth}
		}

		hash, number = header.ParentHash, number-1
		known, err = p.blockKnown(ctx, hash)
		if err != nil {
			return err
		}
		if known {
			break
		}
	}

	for i := len(gap) - 1; i >= 0; i-- {
		header, err := p.chain.GetBlockByHashOrNumber(ctx, &gap[i].hash, 0)
		if err != nil {
			return fmt.Errorf("re-fetch backfill ancestor %s: %w", gap[i].hash.Hex(), err)
		}
		if header == nil {
			return fmt.Errorf("processor: backfill ancestor %s vanished upstream", gap[i].hash.Hex())
		}
		if _, _, err := p.indexer.SaveBlockAndFetchEvents(ctx, header, watched); err != nil {
			return fmt.Errorf("backfill ancestor %s: %w", gap[i].hash.Hex(), err)
		}
	}
	return nil
}

func (p *Processor) blockKnown(ctx context.Context, hash common.Hash) (bool, error) {
	known := false
	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		_, err := tx.GetBlockByHash(hash)
		if errors.Is(err, pkgstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		known = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check block known %s: %w", hash.Hex(), err)
	}
	return known, nil
}

// resolveReorgIfNeeded implements spec.md §4.F step 3. It reports
// restarted=true when the Reorg Handler ran, meaning the caller must
// reload the block and retry from step 1.
func (p *Processor) resolveReorgIfNeeded(ctx context.Context, block *pkgstore.Block) (bool, error) {
	var mismatch bool
	var localTip pkgstore.CursorPair

	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		pruned := false
		local, err := tx.GetBlockAtHeight(block.BlockNumber-1, pkgstore.BlockFilter{IsPruned: &pruned})
		if errors.Is(err, pkgstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if local.BlockHash == block.ParentHash {
			return nil
		}
		mismatch = true
		ancestor, err := p.reorg.Handle(ctx, tx, block.ParentHash, block.BlockNumber-1)
		if err != nil {
			return err
		}
		localTip = ancestor
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("resolve reorg at block %s: %w", block.BlockHash.Hex(), err)
	}
	if mismatch {
		p.log.Warnw("reorg handled during processing", "block", block.BlockHash.Hex(), "ancestor_number", localTip.Number)
	}
	return mismatch, nil
}

// contractWork is the owned, per-call state for one touched contract.
type contractWork struct {
	contract *pkgstore.Contract
	applier  StateApplier
	state    any
	touched  bool
}

// applyEvents implements spec.md §4.F steps 4-5.
func (p *Processor) applyEvents(ctx context.Context, block *pkgstore.Block, contracts map[common.Address]*pkgstore.Contract) error {
	var events []*pkgstore.Event
	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		evs, err := tx.GetEventsAfterIndex(block.BlockHash, block.LastProcessedEventIndex)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		return fmt.Errorf("load events for block %s: %w", block.BlockHash.Hex(), err)
	}

	touchedAddrs := uniqueContracts(events)
	work, err := p.loadContractWork(ctx, block, touchedAddrs, contracts)
	if err != nil {
		return err
	}

	// A block with no outstanding events (either it genuinely carried
	// none, or every event was already applied by a prior attempt) is
	// already complete per Block.Complete(); fall straight through to
	// completeBlock below instead of updating progress for nothing, per
	// spec.md §8's empty-log boundary case.
	if len(events) > 0 {
		lastIndex := block.LastProcessedEventIndex
		for _, event := range events {
			if event.Index <= lastIndex {
				return &EventOrderViolationError{BlockHash: block.BlockHash.Hex(), GotIndex: event.Index, WantMinGT: lastIndex}
			}

			w, ok := work[event.Contract]
			if !ok {
				return fmt.Errorf("processor: event for unwatched contract %s in block %s", event.Contract.Hex(), block.BlockHash.Hex())
			}
			changed, err := w.applier.Apply(w.state, event)
			if err != nil {
				return fmt.Errorf("apply event (contract=%s tx=%s index=%d): %w", event.Contract.Hex(), event.TxHash.Hex(), event.Index, err)
			}
			if changed {
				w.touched = true
			}
			lastIndex = event.Index
		}

		block.LastProcessedEventIndex = lastIndex
		block.NumProcessedEvents += len(events)

		err = p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
			if err := tx.UpdateBlockProgress(block); err != nil {
				return fmt.Errorf("update block progress: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if !block.Complete() {
		return nil
	}

	return p.completeBlock(ctx, block, work)
}

func uniqueContracts(events []*pkgstore.Event) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, e := range events {
		if _, ok := seen[e.Contract]; !ok {
			seen[e.Contract] = struct{}{}
			out = append(out, e.Contract)
		}
	}
	return out
}

// loadContractWork builds the per-contract owned state dictionary fresh
// for this call, loading each touched contract's current aggregated
// state concurrently (each contract owned by exactly one goroutine for
// the duration of the load).
func (p *Processor) loadContractWork(ctx context.Context, block *pkgstore.Block, addrs []common.Address, contracts map[common.Address]*pkgstore.Contract) (map[common.Address]*contractWork, error) {
	work := make(map[common.Address]*contractWork, len(addrs))
	for _, addr := range addrs {
		contract, ok := contracts[addr]
		if !ok {
			return nil, fmt.Errorf("processor: event for unregistered contract %s in block %s", addr.Hex(), block.BlockHash.Hex())
		}
		work[addr] = &contractWork{contract: contract, applier: p.applierFor(contract.Kind)}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for addr, w := range work {
		addr, w := addr, w
		group.Go(func() error {
			state, err := p.loadAggregatedState(groupCtx, addr, w.applier, block.BlockNumber)
			if err != nil {
				return fmt.Errorf("load state for contract %s: %w", addr.Hex(), err)
			}
			w.state = state
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return work, nil
}

func (p *Processor) loadAggregatedState(ctx context.Context, addr common.Address, applier StateApplier, beforeBlock uint64) (any, error) {
	var data []byte
	var found bool
	atOrBefore := uint64(0)
	if beforeBlock > 0 {
		atOrBefore = beforeBlock - 1
	}

	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		var latest *pkgstore.StateRecord
		for _, kind := range []pkgstore.StateKind{pkgstore.KindCheckpoint, pkgstore.KindDiff, pkgstore.KindDiffStaged, pkgstore.KindInit} {
			record, err := tx.GetLatestState(addr, kind, atOrBefore)
			if errors.Is(err, pkgstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if latest == nil || record.BlockNumber > latest.BlockNumber {
				latest = record
			}
		}
		if latest != nil {
			data, found = latest.Data, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return applier.New(), nil
	}
	return applier.Decode(data)
}

// completeBlock implements spec.md §4.F step 5.
func (p *Processor) completeBlock(ctx context.Context, block *pkgstore.Block, work map[common.Address]*contractWork) error {
	var touched []*contractWork
	for _, w := range work {
		if w.touched {
			touched = append(touched, w)
		}
	}

	var records []*pkgstore.StateRecord
	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		block.IsComplete = true
		if err := tx.UpdateBlockProgress(block); err != nil {
			return fmt.Errorf("mark block complete: %w", err)
		}

		for _, w := range touched {
			var override *pkgstore.StateRecord

			// A contract's init record is materialized once, the first time
			// it is ever touched — which need not be its configured
			// starting block if it went untouched for a while after being
			// added. GetLatestState here is inclusive of this block, so a
			// prior call within this same block (impossible today, but
			// guards against a future double-materialize) would still be
			// found rather than duplicated.
			_, err := tx.GetLatestState(w.contract.Address, pkgstore.KindInit, block.BlockNumber)
			if err != nil && !errors.Is(err, pkgstore.ErrNotFound) {
				return fmt.Errorf("check existing init for %s: %w", w.contract.Address.Hex(), err)
			}
			if errors.Is(err, pkgstore.ErrNotFound) {
				initRecord, err := p.materializer.CreateInit(tx, w.contract.Address, block.BlockHash, block.BlockNumber, w.state)
				if err != nil {
					return fmt.Errorf("create init for %s: %w", w.contract.Address.Hex(), err)
				}
				records = append(records, initRecord)
				override = initRecord
			}

			if p.shouldCheckpoint(w.contract, block.BlockNumber) {
				ck, err := p.materializer.CreateCheckpoint(tx, w.contract.Address, block.BlockHash, block.BlockNumber, w.state)
				if err != nil {
					return fmt.Errorf("create checkpoint for %s: %w", w.contract.Address.Hex(), err)
				}
				records = append(records, ck)
				override = ck
			}

			record, err := p.materializer.CreateDiffStaged(tx, w.contract.Address, block.BlockHash, block.BlockNumber, w.state, override)
			if err != nil {
				return fmt.Errorf("create diff_staged for %s: %w", w.contract.Address.Hex(), err)
			}
			records = append(records, record)
		}

		advanced, err := p.advanceCanonicalIfDeepest(tx, block)
		if err != nil {
			return err
		}
		if advanced {
			metrics.LastCanonicalBlockSet(block.BlockNumber)
		}

		if err := p.promoteSafeBlock(tx, block.BlockNumber); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.pushToSink(ctx, records)
	return nil
}

// promoteSafeBlock flips the diff_staged records of the block that has
// just passed the Reorg Handler's safety depth to diff (spec §4.G "diff"
// kind). A block shallower than that depth can still be rewound by a
// reorg, so its records stay staged until this point.
func (p *Processor) promoteSafeBlock(tx pkgstore.Tx, latestNumber uint64) error {
	depth := p.reorg.MaxDepth()
	if depth == 0 || latestNumber <= depth {
		return nil
	}

	safeNumber := latestNumber - depth
	notPruned := false
	safeBlock, err := tx.GetBlockAtHeight(safeNumber, pkgstore.BlockFilter{IsPruned: &notPruned})
	if errors.Is(err, pkgstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load safe block at height %d: %w", safeNumber, err)
	}

	if _, err := p.materializer.PromoteBlock(tx, safeBlock.BlockHash); err != nil {
		return fmt.Errorf("promote block %s: %w", safeBlock.BlockHash.Hex(), err)
	}
	return nil
}

func (p *Processor) shouldCheckpoint(contract *pkgstore.Contract, blockNumber uint64) bool {
	return contract.Checkpoint && p.checkpointCadence > 0 && blockNumber%p.checkpointCadence == 0
}

// advanceCanonicalIfDeepest implements the "if this block is now the
// deepest confirmed block" clause of spec.md §4.F step 5.
func (p *Processor) advanceCanonicalIfDeepest(tx pkgstore.Tx, block *pkgstore.Block) (bool, error) {
	status, err := tx.GetSyncStatus()
	if err != nil {
		return false, fmt.Errorf("load sync status: %w", err)
	}
	if block.BlockNumber <= status.LatestCanonical.Number {
		return false, nil
	}
	if block.BlockNumber > status.LatestIndexed.Number {
		return false, nil
	}
	if err := cursor.AdvanceLatestCanonical(tx, block.BlockHash, block.BlockNumber, false); err != nil {
		return false, fmt.Errorf("advance latest canonical: %w", err)
	}
	return true, nil
}

// sinkMeta carries the CID chain linkage alongside a published state
// blob so an external consumer can verify and walk the chain (CID,
// parent CID, kind, block reference) without access to the local store,
// per spec.md §1's "verified and published externally" and §8's
// r2.data.meta.parent = r1.cid invariant.
type sinkMeta struct {
	CID             string `json:"cid"`
	Kind            string `json:"kind"`
	Parent          string `json:"parent"`
	BlockRef        string `json:"blockRef"`
	BlockNumber     uint64 `json:"blockNumber"`
	ContractAddress string `json:"contractAddress"`
}

// sinkEnvelope is the externally published shape: the canonicalized
// state payload under "data", chain linkage under "meta".
type sinkEnvelope struct {
	Meta sinkMeta        `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// pushToSink hands every materialized record of this block to the
// configured state sink, wrapped with its chain linkage. A push failure
// is logged, not fatal: the record is already durably stored, and the
// sink is best-effort post-processing per spec.md §6.
func (p *Processor) pushToSink(ctx context.Context, records []*pkgstore.StateRecord) {
	for _, record := range records {
		payload, err := json.Marshal(sinkEnvelope{
			Meta: sinkMeta{
				CID:             record.CID,
				Kind:            string(record.Kind),
				Parent:          record.ParentCID,
				BlockRef:        record.BlockRef.Hex(),
				BlockNumber:     record.BlockNumber,
				ContractAddress: record.ContractAddress.Hex(),
			},
			Data: record.Data,
		})
		if err != nil {
			p.log.Errorw("state sink envelope marshal failed", "cid", record.CID, "error", err)
			continue
		}
		if err := p.sink.Push(ctx, record.CID, payload); err != nil {
			p.log.Errorw("state sink push failed", "cid", record.CID, "contract", record.ContractAddress.Hex(), "error", err)
		}
	}
}
