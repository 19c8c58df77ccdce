package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/chainwatch/core/internal/materializer"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// FillState implements the operator recovery path of spec.md §9 scenario
// 5 (CLI `fill-state <start> <end>`): replay stored events for one
// contract over [fromBlock, toBlock], a range with no pre-existing
// materialized state, producing init/diff/checkpoint records in one
// pass. checkpointAt, if within range, materializes a checkpoint instead
// of a plain diff at that height.
func (p *Processor) FillState(ctx context.Context, contract common.Address, fromBlock, toBlock, checkpointAt uint64) error {
	requestID := uuid.New().String()
	p.log.Infow("fill-state started", "request_id", requestID, "contract", contract.Hex(), "from", fromBlock, "to", toBlock)

	err := p.store.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		contractRow, err := tx.GetContract(contract)
		if err != nil {
			return fmt.Errorf("load contract %s: %w", contract.Hex(), err)
		}
		applier := p.applierFor(contractRow.Kind)
		state := applier.New()

		notPruned := false
		perBlock := make(map[uint64]materializer.BlockState)

		for number := fromBlock; number <= toBlock; number++ {
			block, err := tx.GetBlockAtHeight(number, pkgstore.BlockFilter{IsPruned: &notPruned})
			if errors.Is(err, pkgstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load block at height %d: %w", number, err)
			}

			events, err := tx.GetEventsAfterIndex(block.BlockHash, -1)
			if err != nil {
				return fmt.Errorf("load events for block %s: %w", block.BlockHash.Hex(), err)
			}

			touched := false
			for _, event := range events {
				if event.Contract != contract {
					continue
				}
				changed, err := applier.Apply(state, event)
				if err != nil {
					return fmt.Errorf("apply event (tx=%s index=%d): %w", event.TxHash.Hex(), event.Index, err)
				}
				if changed {
					touched = true
				}
			}

			if !touched {
				continue
			}

			// Snapshot state now: perBlock must hold an independent copy
			// per block, since state keeps mutating for later heights.
			raw, err := json.Marshal(state)
			if err != nil {
				return fmt.Errorf("snapshot state at block %d: %w", number, err)
			}
			snapshot, err := applier.Decode(raw)
			if err != nil {
				return fmt.Errorf("decode state snapshot at block %d: %w", number, err)
			}

			perBlock[number] = materializer.BlockState{BlockRef: block.BlockHash, Data: snapshot}
		}

		if len(perBlock) == 0 {
			return fmt.Errorf("fill state: no events touched contract %s in range [%d, %d]", contract.Hex(), fromBlock, toBlock)
		}

		_, err = p.materializer.FillState(tx, contract, fromBlock, toBlock, perBlock, checkpointAt)
		return err
	})

	if err != nil {
		p.log.Errorw("fill-state failed", "request_id", requestID, "error", err)
		return err
	}
	p.log.Infow("fill-state completed", "request_id", requestID)
	return nil
}
