package processor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/core/internal/cursor"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// CreateCheckpointAt implements the operator recovery path of spec.md §9
// scenario 3 (CLI `create-checkpoint <contract> [<blockHash>]`): loads the
// contract's aggregated state as of blockHash and materializes it as a
// checkpoint record. An all-zero blockHash means "the latest canonical
// block".
func (p *Processor) CreateCheckpointAt(ctx context.Context, contract common.Address, blockHash common.Hash) error {
	return p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		contractRow, err := tx.GetContract(contract)
		if err != nil {
			return fmt.Errorf("load contract %s: %w", contract.Hex(), err)
		}

		block, err := p.resolveCheckpointBlock(tx, blockHash)
		if err != nil {
			return err
		}

		applier := p.applierFor(contractRow.Kind)
		state, err := p.loadAggregatedState(ctx, contract, applier, block.BlockNumber+1)
		if err != nil {
			return fmt.Errorf("load state for contract %s at block %d: %w", contract.Hex(), block.BlockNumber, err)
		}

		record, err := p.materializer.CreateCheckpoint(tx, contract, block.BlockHash, block.BlockNumber, state)
		if err != nil {
			return fmt.Errorf("create checkpoint for contract %s at block %d: %w", contract.Hex(), block.BlockNumber, err)
		}

		p.pushToSink(ctx, []*pkgstore.StateRecord{record})
		return nil
	})
}

func (p *Processor) resolveCheckpointBlock(tx pkgstore.Tx, blockHash common.Hash) (*pkgstore.Block, error) {
	if blockHash != (common.Hash{}) {
		block, err := tx.GetBlockByHash(blockHash)
		if err != nil {
			return nil, fmt.Errorf("load block %s: %w", blockHash.Hex(), err)
		}
		return block, nil
	}

	status, err := tx.GetSyncStatus()
	if err != nil {
		return nil, fmt.Errorf("load sync status: %w", err)
	}
	block, err := tx.GetBlockByHash(status.LatestCanonical.Hash)
	if err != nil {
		return nil, fmt.Errorf("load latest canonical block %s: %w", status.LatestCanonical.Hash.Hex(), err)
	}
	return block, nil
}

// ResetToBlock implements the operator recovery path behind the CLI
// `reset-to-block <blockNumber>`: prunes every locally stored block and
// rewindable state record above blockNumber and force-rewinds the sync
// cursors to it, the same pruning spec.md's Reorg Handler performs for an
// automatically detected reorg.
func (p *Processor) ResetToBlock(ctx context.Context, blockNumber uint64) error {
	return p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		pruned := false
		block, err := tx.GetBlockAtHeight(blockNumber, pkgstore.BlockFilter{IsPruned: &pruned})
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", blockNumber, err)
		}

		if _, err := tx.MarkBlocksPruned(blockNumber); err != nil {
			return fmt.Errorf("mark blocks pruned above %d: %w", blockNumber, err)
		}
		if _, err := tx.DeleteRewindableState(blockNumber); err != nil {
			return fmt.Errorf("delete rewindable state above %d: %w", blockNumber, err)
		}

		if err := cursor.ResetTo(tx, block.BlockHash, blockNumber); err != nil {
			return fmt.Errorf("reset cursors to %d: %w", blockNumber, err)
		}
		return nil
	})
}
