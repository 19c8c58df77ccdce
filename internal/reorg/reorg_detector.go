// Package reorg implements the Reorg Handler (spec §4.H): finds the
// common ancestor between the locally stored chain and the branch the
// upstream chain has switched to, prunes the abandoned blocks and their
// rewindable state, and force-rewinds the sync cursors.
package reorg

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/core/internal/cursor"
	"github.com/chainwatch/core/internal/db"
	"github.com/chainwatch/core/internal/logger"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// Handler resolves a detected reorg by walking both chains back to their
// common ancestor. It holds no mutable state between calls.
type Handler struct {
	chain    pkgchain.Client
	maxDepth uint64
	maint    db.Maintenance
	log      *logger.Logger
}

// New builds a Handler bounded by maxReorgDepth. maint excludes the pruning
// rewrite Handle performs from a concurrent VACUUM/WAL checkpoint; pass
// &db.NoOpMaintenance{} where no coordinator is configured.
func New(chain pkgchain.Client, maxReorgDepth uint64, maint db.Maintenance, log *logger.Logger) *Handler {
	return &Handler{chain: chain, maxDepth: maxReorgDepth, maint: maint, log: log.WithComponent("reorg")}
}

// MaxDepth reports the reorg-safety depth this Handler was built with, so
// other components (the Processor's diff_staged promotion trigger) can
// agree with the Reorg Handler on when a block is safely behind the tip.
func (h *Handler) MaxDepth() uint64 {
	return h.maxDepth
}

// Handle implements spec.md §4.H steps 1-4. incomingParentHash and
// incomingParentNumber identify the parent of the block the processor was
// about to apply, which is the point where the incoming branch diverges
// from the locally stored chain. tx is the caller's transaction scope;
// Handle never opens its own.
func (h *Handler) Handle(ctx context.Context, tx pkgstore.Tx, incomingParentHash common.Hash, incomingParentNumber uint64) (ancestor pkgstore.CursorPair, err error) {
	unlock := h.maint.AcquireOperationLock()
	defer unlock()

	ancestor, err = h.findCommonAncestor(ctx, tx, incomingParentHash, incomingParentNumber)
	if err != nil {
		return pkgstore.CursorPair{}, err
	}

	pruned, err := tx.MarkBlocksPruned(ancestor.Number)
	if err != nil {
		return pkgstore.CursorPair{}, fmt.Errorf("mark blocks pruned above %d: %w", ancestor.Number, err)
	}

	deleted, err := tx.DeleteRewindableState(ancestor.Number)
	if err != nil {
		return pkgstore.CursorPair{}, fmt.Errorf("delete rewindable state above %d: %w", ancestor.Number, err)
	}

	if err := h.rewindCursors(tx, ancestor); err != nil {
		return pkgstore.CursorPair{}, err
	}

	depth := incomingParentNumber - ancestor.Number
	reorgDetected(depth)
	h.log.Warnw("reorg resolved",
		"ancestor_number", ancestor.Number, "ancestor_hash", ancestor.Hash.Hex(),
		"depth", depth, "blocks_pruned", pruned, "state_records_deleted", deleted,
	)

	return ancestor, nil
}

// findCommonAncestor walks the incoming branch back through the Chain
// Client and the local branch back through the store, one height at a
// time, until the hashes at some height agree.
func (h *Handler) findCommonAncestor(ctx context.Context, tx pkgstore.Tx, incomingHash common.Hash, incomingNumber uint64) (pkgstore.CursorPair, error) {
	startingNumber := incomingNumber

	localHash, ok, err := h.localHashAt(tx, incomingNumber)
	if err != nil {
		return pkgstore.CursorPair{}, err
	}

	for depth := uint64(0); depth <= h.maxDepth; depth++ {
		if ok && localHash == incomingHash {
			return pkgstore.CursorPair{Hash: incomingHash, Number: incomingNumber}, nil
		}

		if incomingNumber == 0 {
			break
		}

		header, err := h.chain.GetBlockByHashOrNumber(ctx, &incomingHash, 0)
		if err != nil {
			return pkgstore.CursorPair{}, fmt.Errorf("fetch incoming ancestor at %s: %w", incomingHash, err)
		}
		if header == nil {
			return pkgstore.CursorPair{}, fmt.Errorf("incoming ancestor %s not found upstream", incomingHash)
		}

		incomingHash = header.ParentHash
		incomingNumber--

		localHash, ok, err = h.localHashAt(tx, incomingNumber)
		if err != nil {
			return pkgstore.CursorPair{}, err
		}
	}

	return pkgstore.CursorPair{}, &MaxDepthExceededError{
		LocalNumber:    incomingNumber,
		IncomingNumber: startingNumber,
		MaxDepth:       h.maxDepth,
	}
}

// localHashAt returns the hash of the unpruned local block at number, if
// any is stored yet.
func (h *Handler) localHashAt(tx pkgstore.Tx, number uint64) (common.Hash, bool, error) {
	pruned := false
	block, err := tx.GetBlockAtHeight(number, pkgstore.BlockFilter{IsPruned: &pruned})
	if err == pkgstore.ErrNotFound {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("load local block at %d: %w", number, err)
	}
	return block.BlockHash, true, nil
}

// rewindCursors implements spec.md §4.H step 4.
func (h *Handler) rewindCursors(tx pkgstore.Tx, ancestor pkgstore.CursorPair) error {
	status, err := tx.GetSyncStatus()
	if err != nil {
		return fmt.Errorf("load sync status for rewind: %w", err)
	}

	if ancestor.Number < status.LatestIndexed.Number {
		if err := cursor.AdvanceLatestIndexed(tx, ancestor.Hash, ancestor.Number, true); err != nil {
			return fmt.Errorf("rewind latest indexed: %w", err)
		}
	}

	canonicalTarget, canonicalHash := status.LatestCanonical.Number, status.LatestCanonical.Hash
	if ancestor.Number < canonicalTarget {
		canonicalTarget, canonicalHash = ancestor.Number, ancestor.Hash
	}
	if canonicalTarget != status.LatestCanonical.Number {
		if err := cursor.AdvanceLatestCanonical(tx, canonicalHash, canonicalTarget, true); err != nil {
			return fmt.Errorf("rewind latest canonical: %w", err)
		}
	}

	return nil
}
