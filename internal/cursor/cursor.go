// Package cursor implements the five guarded sync-cursor updates over the
// single-row sync_status and state_sync_status tables. Every update runs
// inside the transaction the caller is already using to write the
// triggering blocks or state records — this package never opens its own.
package cursor

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	pkgstore "github.com/chainwatch/core/pkg/store"
)

// ErrInvariantViolation is returned when an update would break the
// chainHead >= latestIndexed >= latestCanonical ordering invariant.
var ErrInvariantViolation = errors.New("cursor: would violate sync status ordering invariant")

// AdvanceChainHead records the upstream chain head observed by polling.
// It never moves backwards except on an explicit reset (force=true).
func AdvanceChainHead(tx pkgstore.Tx, hash common.Hash, number uint64, force bool) error {
	if err := tx.UpdateChainHead(hash, number, force); err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	return nil
}

// AdvanceLatestIndexed records that a block up to (hash, number) has been
// fully ingested (indexer-complete). Refuses to move past the recorded
// chain head unless force is set, since that would mean indexing ahead of
// the chain itself.
func AdvanceLatestIndexed(tx pkgstore.Tx, hash common.Hash, number uint64, force bool) error {
	if !force {
		status, err := tx.GetSyncStatus()
		if err != nil {
			return fmt.Errorf("advance latest indexed: %w", err)
		}
		if status.ChainHead.Number != 0 && number > status.ChainHead.Number {
			return fmt.Errorf("advance latest indexed: %w (number %d exceeds chain head %d)",
				ErrInvariantViolation, number, status.ChainHead.Number)
		}
	}

	if err := tx.UpdateLatestIndexed(hash, number, force); err != nil {
		return fmt.Errorf("advance latest indexed: %w", err)
	}
	return nil
}

// AdvanceLatestCanonical records that the processor has applied a block's
// events and confirmed it canonical. Refuses to move past latestIndexed
// unless force is set.
func AdvanceLatestCanonical(tx pkgstore.Tx, hash common.Hash, number uint64, force bool) error {
	if !force {
		status, err := tx.GetSyncStatus()
		if err != nil {
			return fmt.Errorf("advance latest canonical: %w", err)
		}
		if number > status.LatestIndexed.Number {
			return fmt.Errorf("advance latest canonical: %w (number %d exceeds latest indexed %d)",
				ErrInvariantViolation, number, status.LatestIndexed.Number)
		}
	}

	if err := tx.UpdateLatestCanonical(hash, number, force); err != nil {
		return fmt.Errorf("advance latest canonical: %w", err)
	}
	return nil
}

// SetInitialIndexed records the first block the indexer ever ingested.
// It is a no-op once already set, unless force is passed to perform an
// explicit operator reset.
func SetInitialIndexed(tx pkgstore.Tx, hash common.Hash, number uint64, force bool) error {
	if err := tx.UpdateInitialIndexed(hash, number, force); err != nil {
		if errors.Is(err, pkgstore.ErrCursorNotMonotonic) {
			// already set; this call is idempotent, not an error.
			return nil
		}
		return fmt.Errorf("set initial indexed: %w", err)
	}
	return nil
}

// AdvanceStateSyncIndexed records the last block the materializer applied.
func AdvanceStateSyncIndexed(tx pkgstore.Tx, number uint64, force bool) error {
	if err := tx.UpdateStateSyncIndexed(number, force); err != nil {
		return fmt.Errorf("advance state sync indexed: %w", err)
	}
	return nil
}

// AdvanceStateSyncCheckpoint records the last block at which a checkpoint
// state record was created.
func AdvanceStateSyncCheckpoint(tx pkgstore.Tx, number uint64, force bool) error {
	if err := tx.UpdateStateSyncCheckpoint(number, force); err != nil {
		return fmt.Errorf("advance state sync checkpoint: %w", err)
	}
	return nil
}

// ResetTo force-rewinds the latest-indexed and latest-canonical cursors
// back to (hash, number), used by the operator "reset-to-block" command.
func ResetTo(tx pkgstore.Tx, hash common.Hash, number uint64) error {
	if err := AdvanceLatestIndexed(tx, hash, number, true); err != nil {
		return err
	}
	if err := AdvanceLatestCanonical(tx, hash, number, true); err != nil {
		return err
	}
	return nil
}
