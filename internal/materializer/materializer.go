// Package materializer implements the State Materializer (spec §4.G):
// content-addressed init/diff_staged/diff/checkpoint records, linked into
// a per-contract parent-CID chain, never by pointer.
package materializer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/core/internal/cursor"
	"github.com/chainwatch/core/internal/metrics"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// emptyParentCID is the sentinel parent for the first state record of a
// contract, written verbatim rather than as Go's zero string so its
// meaning is visible in the data it produces.
const emptyParentCID = ""

// ErrStateRecordExists is returned by FillState when a record already
// exists in the requested range, per spec.md §9 scenario 5.
var ErrStateRecordExists = errors.New("materializer: state record already exists in range")

// Materializer produces state records against the transaction the caller
// supplies; it opens none of its own.
type Materializer struct{}

// New returns a Materializer. It carries no state between calls.
func New() *Materializer {
	return &Materializer{}
}

// CreateInit writes the one-time genesis record for contract at its
// starting block. Its parent CID is the empty sentinel.
func (m *Materializer) CreateInit(tx pkgstore.Tx, contract common.Address, blockRef common.Hash, blockNumber uint64, data any) (*pkgstore.StateRecord, error) {
	canonical, err := canonicalize(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize init data: %w", err)
	}

	record := &pkgstore.StateRecord{
		BlockRef:        blockRef,
		BlockNumber:     blockNumber,
		ContractAddress: contract,
		ParentCID:       emptyParentCID,
		Kind:            pkgstore.KindInit,
		Data:            canonical,
	}
	record.CID = computeCID(record)

	if err := tx.InsertStateRecord(record); err != nil {
		return nil, fmt.Errorf("insert init record: %w", err)
	}
	metrics.StateRecordMaterializedInc(string(pkgstore.KindInit))
	return record, nil
}

// CreateDiffStaged writes a per-(contract, block) state change created
// inline during event processing. Its parent is the contract's latest
// diff, diff_staged, checkpoint, or init strictly before this block, per the §3
// parenting rule (a checkpoint or init just created in this same block
// takes precedence — callers pass sameBlockOverride for that case, since
// a record inserted earlier in the same transaction at this same block
// number is invisible to the "strictly before" query below).
func (m *Materializer) CreateDiffStaged(tx pkgstore.Tx, contract common.Address, blockRef common.Hash, blockNumber uint64, data any, sameBlockOverride *pkgstore.StateRecord) (*pkgstore.StateRecord, error) {
	atOrBefore := uint64(0)
	if blockNumber > 0 {
		atOrBefore = blockNumber - 1
	}
	parentCID, err := m.resolveParent(tx, contract, atOrBefore, sameBlockOverride)
	if err != nil {
		return nil, err
	}

	canonical, err := canonicalize(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize diff_staged data: %w", err)
	}

	record := &pkgstore.StateRecord{
		BlockRef:        blockRef,
		BlockNumber:     blockNumber,
		ContractAddress: contract,
		ParentCID:       parentCID,
		Kind:            pkgstore.KindDiffStaged,
		Data:            canonical,
	}
	record.CID = computeCID(record)

	if err := tx.InsertStateRecord(record); err != nil {
		return nil, fmt.Errorf("insert diff_staged record: %w", err)
	}
	metrics.StateRecordMaterializedInc(string(pkgstore.KindDiffStaged))
	return record, nil
}

// parentKinds are the record kinds that can hold the "latest" position in
// a contract's CID chain ahead of its genesis init record. KindDiffStaged
// must be considered alongside KindCheckpoint and KindDiff: the live
// pipeline (processor.completeBlock) only promotes a diff_staged record
// to diff once it passes the reorg-safety depth, so at the chain tip the
// newest record is routinely still staged. Ignoring it here would chain
// every new diff_staged onto a stale ancestor instead of the true
// previous record, corrupting the chain.
var parentKinds = []pkgstore.StateKind{pkgstore.KindCheckpoint, pkgstore.KindDiff, pkgstore.KindDiffStaged}

// resolveParent finds the parent CID a new state record should chain onto:
// the newest checkpoint, diff, or diff_staged record at or before
// atOrBefore, falling back to the contract's init record, unless
// sameBlockOverride is set, in which case it wins outright — it names a
// record this same call chain already inserted earlier in this same
// transaction at a block number the "at or before" query below cannot see
// as a predecessor of itself (a checkpoint or init created earlier in the
// same block as the diff_staged being built now).
func (m *Materializer) resolveParent(tx pkgstore.Tx, contract common.Address, atOrBefore uint64, sameBlockOverride *pkgstore.StateRecord) (string, error) {
	if sameBlockOverride != nil {
		return sameBlockOverride.CID, nil
	}

	var latest *pkgstore.StateRecord
	for _, kind := range parentKinds {
		record, err := tx.GetLatestState(contract, kind, atOrBefore)
		if errors.Is(err, pkgstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolve parent (%s): %w", kind, err)
		}
		// Ties at the same block number (a checkpoint and a diff_staged
		// both landing on block N) are broken by insertion order (highest
		// id), per spec.md §4.B — not by parentKinds' iteration order.
		// A checkpoint only interposes ahead of that block's own
		// diff_staged via the explicit sameBlockOverride path above; once
		// both are committed rows, the later insert is the true parent.
		if latest == nil || record.BlockNumber > latest.BlockNumber ||
			(record.BlockNumber == latest.BlockNumber && record.ID > latest.ID) {
			latest = record
		}
	}
	if latest != nil {
		return latest.CID, nil
	}
	return m.parentFromInit(tx, contract, atOrBefore)
}

func (m *Materializer) parentFromInit(tx pkgstore.Tx, contract common.Address, atOrBefore uint64) (string, error) {
	init, err := tx.GetLatestState(contract, pkgstore.KindInit, atOrBefore)
	if errors.Is(err, pkgstore.ErrNotFound) {
		return emptyParentCID, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve diff parent from init: %w", err)
	}
	return init.CID, nil
}

// PromoteBlock flips every diff_staged record of a block to diff once the
// block enters the pruned region (spec §4.G "diff" kind). Identical data
// and CID are preserved; only kind changes.
func (m *Materializer) PromoteBlock(tx pkgstore.Tx, blockRef common.Hash) (int, error) {
	promoted, err := tx.PromoteDiffStaged(blockRef)
	if err != nil {
		return 0, fmt.Errorf("promote block %s: %w", blockRef, err)
	}
	if promoted > 0 {
		metrics.StateRecordMaterializedInc(string(pkgstore.KindDiff))
	}
	return promoted, nil
}

// CreateCheckpoint materializes the full aggregated state of contract as
// of blockRef/blockNumber. At most one checkpoint per block: a second call
// for the same (contract, blockNumber) returns an error, resolving spec.md's Open
// Question #2 by forbidding same-block re-parenting.
func (m *Materializer) CreateCheckpoint(tx pkgstore.Tx, contract common.Address, blockRef common.Hash, blockNumber uint64, data any) (*pkgstore.StateRecord, error) {
	existing, err := tx.GetLatestState(contract, pkgstore.KindCheckpoint, blockNumber)
	if err != nil && !errors.Is(err, pkgstore.ErrNotFound) {
		return nil, fmt.Errorf("check existing checkpoint: %w", err)
	}
	if err == nil && existing.BlockNumber == blockNumber {
		return nil, fmt.Errorf("materializer: checkpoint already exists for contract %s at block %d", contract, blockNumber)
	}

	// Inclusive of blockNumber itself: unlike a diff, a checkpoint at block
	// N must parent onto a diff/diff_staged/init already recorded at that
	// same block N (spec.md §8 scenario 3 — a checkpoint cut after the
	// block's own diff exists parents onto that diff, not the one before
	// it). The cadence path in completeBlock is unaffected because it
	// creates the checkpoint before that block's diff_staged exists.
	parentCID, err := m.resolveParent(tx, contract, blockNumber, nil)
	if err != nil {
		return nil, err
	}

	canonical, err := canonicalize(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize checkpoint data: %w", err)
	}

	record := &pkgstore.StateRecord{
		BlockRef:        blockRef,
		BlockNumber:     blockNumber,
		ContractAddress: contract,
		ParentCID:       parentCID,
		Kind:            pkgstore.KindCheckpoint,
		Data:            canonical,
	}
	record.CID = computeCID(record)

	if err := tx.InsertStateRecord(record); err != nil {
		return nil, fmt.Errorf("insert checkpoint record: %w", err)
	}

	metrics.StateRecordMaterializedInc(string(pkgstore.KindCheckpoint))
	metrics.CheckpointCreatedInc()
	if err := cursor.AdvanceStateSyncCheckpoint(tx, blockNumber, false); err != nil && !errors.Is(err, pkgstore.ErrCursorNotMonotonic) {
		return nil, fmt.Errorf("advance state sync checkpoint: %w", err)
	}
	return record, nil
}

// FillState backfills init/diff/checkpoint records for a historical range
// with no pre-existing state, per spec.md §9 scenario 5. perBlockData
// supplies the aggregated-state payload to materialize at each block
// number that changed, and checkpointAt (if nonzero and within range)
// marks where a checkpoint is produced instead of a plain diff.
func (m *Materializer) FillState(tx pkgstore.Tx, contract common.Address, fromBlock, toBlock uint64, perBlockData map[uint64]BlockState, checkpointAt uint64) ([]*pkgstore.StateRecord, error) {
	exists, err := tx.HasStateRecordInRange(contract, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("check existing state in range: %w", err)
	}
	if exists {
		return nil, ErrStateRecordExists
	}

	var out []*pkgstore.StateRecord
	for number := fromBlock; number <= toBlock; number++ {
		bs, changed := perBlockData[number]
		if !changed {
			continue
		}

		// fromBlock is the contract's starting block: like the live path's
		// first touch (processor.completeBlock), it produces an init and
		// then still needs its own diff (or checkpoint) chained onto that
		// init, per spec.md §8 scenario 1 ("block 100 has init+diff").
		var override *pkgstore.StateRecord
		if number == fromBlock {
			initRecord, err := m.CreateInit(tx, contract, bs.BlockRef, number, bs.Data)
			if err != nil {
				return nil, fmt.Errorf("fill state init at block %d: %w", number, err)
			}
			out = append(out, initRecord)
			override = initRecord
		}

		var record *pkgstore.StateRecord
		switch {
		case checkpointAt != 0 && number == checkpointAt:
			record, err = m.CreateCheckpoint(tx, contract, bs.BlockRef, number, bs.Data)
		default:
			record, err = m.CreateDiffStaged(tx, contract, bs.BlockRef, number, bs.Data, override)
			if err == nil {
				_, err = m.PromoteBlock(tx, bs.BlockRef)
				record.Kind = pkgstore.KindDiff
			}
		}
		if err != nil {
			return nil, fmt.Errorf("fill state at block %d: %w", number, err)
		}
		out = append(out, record)
	}

	return out, nil
}

// BlockState is one historical block's materialized payload for FillState.
type BlockState struct {
	BlockRef common.Hash
	Data     any
}

// computeCID hashes (kind, parentCID, blockRef, contractAddress,
// canonicalized data) per spec.md §4.G.
func computeCID(r *pkgstore.StateRecord) string {
	h := sha256.New()
	h.Write([]byte(r.Kind))
	h.Write([]byte{0})
	h.Write([]byte(r.ParentCID))
	h.Write([]byte{0})
	h.Write([]byte(r.BlockRef.Hex()))
	h.Write([]byte{0})
	h.Write([]byte(r.ContractAddress.Hex()))
	h.Write([]byte{0})
	h.Write(r.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize marshals data with sorted map keys (encoding/json's
// default) and, when data exposes entity references, sorted by id, per
// spec.md §4.G and §6's wire-format rule.
func canonicalize(data any) ([]byte, error) {
	sortable, ok := data.(EntitySortable)
	if ok {
		sortable.SortEntities()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EntitySortable lets a state payload sort its own entity-reference
// arrays by id before marshaling, satisfying the canonicalization rule
// without a third-party JSON canonicalization library.
type EntitySortable interface {
	SortEntities()
}
