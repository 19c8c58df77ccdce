// Package store implements the persistence layer capability interface
// (pkg/store) against SQLite, using meddler for struct/row mapping.
// The address and hash meddler converters come from internal/db's init
// registration, pulled in via the blank import below.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	_ "github.com/chainwatch/core/internal/db"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// Store opens connections against a SQLite database and hands out
// transaction-scoped Tx values. It is the concrete TxRunner.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn inside a single SQL transaction, committing on a
// nil return and rolling back otherwise (including on panic, which is
// re-panicked after the rollback).
func (s *Store) WithTransaction(ctx context.Context, fn func(tx pkgstore.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	tx := &txImpl{tx: sqlTx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// txImpl implements pkgstore.Tx against a single *sql.Tx.
type txImpl struct {
	tx *sql.Tx
}

func (t *txImpl) GetBlockByHash(hash common.Hash) (*pkgstore.Block, error) {
	var row blockRow
	err := meddler.QueryRow(t.tx, &row, "SELECT * FROM blocks WHERE block_hash = ?", hash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get block by hash: %w", err)
	}
	return row.toBlock(), nil
}

func (t *txImpl) QueryBlocksByHeight(number uint64, filter pkgstore.BlockFilter) ([]*pkgstore.Block, error) {
	query := "SELECT * FROM blocks WHERE block_number = ?"
	args := []interface{}{number}
	if filter.IsPruned != nil {
		query += " AND is_pruned = ?"
		args = append(args, *filter.IsPruned)
	}
	query += " ORDER BY id ASC"

	var rows []*blockRow
	if err := meddler.QueryAll(t.tx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query blocks by height: %w", err)
	}

	out := make([]*pkgstore.Block, len(rows))
	for i, r := range rows {
		out[i] = r.toBlock()
	}
	return out, nil
}

func (t *txImpl) GetBlockAtHeight(number uint64, filter pkgstore.BlockFilter) (*pkgstore.Block, error) {
	blocks, err := t.QueryBlocksByHeight(number, filter)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, pkgstore.ErrNotFound
	}
	return blocks[0], nil
}

func (t *txImpl) SaveBlockWithEvents(block *pkgstore.Block, events []*pkgstore.Event) error {
	if block.CreatedAt == 0 {
		block.CreatedAt = time.Now().Unix()
	}
	row := blockRowFrom(block)
	if err := meddler.Insert(t.tx, "blocks", row); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	block.CreatedAt = row.CreatedAt

	for _, ev := range events {
		evRow := eventRowFrom(ev)
		if err := meddler.Insert(t.tx, "events", evRow); err != nil {
			return fmt.Errorf("insert event (index %d): %w", ev.Index, err)
		}
		ev.ID = evRow.ID
	}

	return nil
}

func (t *txImpl) UpdateBlockProgress(block *pkgstore.Block) error {
	_, err := t.tx.Exec(
		`UPDATE blocks SET num_processed_events = ?, last_processed_event_index = ?,
			is_complete = ?, is_pruned = ? WHERE block_hash = ?`,
		block.NumProcessedEvents, block.LastProcessedEventIndex,
		block.IsComplete, block.IsPruned, block.BlockHash.Hex(),
	)
	if err != nil {
		return fmt.Errorf("update block progress: %w", err)
	}
	return nil
}

func (t *txImpl) MarkBlocksPruned(aboveNumber uint64) (int, error) {
	res, err := t.tx.Exec("UPDATE blocks SET is_pruned = 1 WHERE block_number > ? AND is_pruned = 0", aboveNumber)
	if err != nil {
		return 0, fmt.Errorf("mark blocks pruned: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *txImpl) GetEventsInRange(fromBlockNumber, toBlockNumber uint64) ([]*pkgstore.Event, error) {
	var rows []*eventRow
	err := meddler.QueryAll(t.tx, &rows, `
		SELECT e.* FROM events e
		JOIN blocks b ON b.block_hash = e.block_ref
		WHERE b.block_number >= ? AND b.block_number <= ?
		ORDER BY b.block_number ASC, e.log_index ASC`,
		fromBlockNumber, toBlockNumber)
	if err != nil {
		return nil, fmt.Errorf("get events in range: %w", err)
	}
	out := make([]*pkgstore.Event, len(rows))
	for i, r := range rows {
		out[i] = r.toEvent()
	}
	return out, nil
}

func (t *txImpl) GetEventsAfterIndex(blockRef common.Hash, afterIndex int) ([]*pkgstore.Event, error) {
	var rows []*eventRow
	err := meddler.QueryAll(t.tx, &rows,
		"SELECT * FROM events WHERE block_ref = ? AND log_index > ? ORDER BY log_index ASC",
		blockRef.Hex(), afterIndex)
	if err != nil {
		return nil, fmt.Errorf("get events after index: %w", err)
	}
	out := make([]*pkgstore.Event, len(rows))
	for i, r := range rows {
		out[i] = r.toEvent()
	}
	return out, nil
}

func (t *txImpl) ListContracts() ([]*pkgstore.Contract, error) {
	var rows []*contractRow
	if err := meddler.QueryAll(t.tx, &rows, "SELECT * FROM contracts ORDER BY address ASC"); err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	out := make([]*pkgstore.Contract, len(rows))
	for i, r := range rows {
		out[i] = r.toContract()
	}
	return out, nil
}

func (t *txImpl) GetContract(address common.Address) (*pkgstore.Contract, error) {
	var row contractRow
	err := meddler.QueryRow(t.tx, &row, "SELECT * FROM contracts WHERE address = ?", address.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return row.toContract(), nil
}

func (t *txImpl) SaveContract(contract *pkgstore.Contract) error {
	row := contractRowFrom(contract)
	if err := meddler.Insert(t.tx, "contracts", row); err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (t *txImpl) InsertStateRecord(record *pkgstore.StateRecord) error {
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	row := stateRecordRowFrom(record)
	if err := meddler.Insert(t.tx, "state_records", row); err != nil {
		return fmt.Errorf("insert state record: %w", err)
	}
	record.ID = row.ID
	record.CreatedAt = row.CreatedAt
	return nil
}

// GetLatestState returns the newest record of the given kind for contract
// at or before atOrBeforeBlock, ordered by (block_number DESC, id DESC) per
// idx_state_records_latest.
func (t *txImpl) GetLatestState(contract common.Address, kind pkgstore.StateKind, atOrBeforeBlock uint64) (*pkgstore.StateRecord, error) {
	var row stateRecordRow
	err := meddler.QueryRow(t.tx, &row, `
		SELECT * FROM state_records
		WHERE contract_address = ? AND kind = ? AND block_number <= ?
		ORDER BY block_number DESC, id DESC LIMIT 1`,
		contract.Hex(), string(kind), atOrBeforeBlock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest state: %w", err)
	}
	return row.toStateRecord(), nil
}

func (t *txImpl) GetStateRecordByCID(cid string) (*pkgstore.StateRecord, error) {
	var row stateRecordRow
	err := meddler.QueryRow(t.tx, &row, "SELECT * FROM state_records WHERE cid = ?", cid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state record by cid: %w", err)
	}
	return row.toStateRecord(), nil
}

func (t *txImpl) QueryDiffStatesInRange(contract common.Address, fromBlock, toBlock uint64) ([]*pkgstore.StateRecord, error) {
	var rows []*stateRecordRow
	err := meddler.QueryAll(t.tx, &rows, `
		SELECT * FROM state_records
		WHERE contract_address = ? AND kind IN (?, ?) AND block_number >= ? AND block_number <= ?
		ORDER BY block_number ASC, id ASC`,
		contract.Hex(), string(pkgstore.KindDiff), string(pkgstore.KindDiffStaged), fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("query diff states in range: %w", err)
	}
	out := make([]*pkgstore.StateRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toStateRecord()
	}
	return out, nil
}

func (t *txImpl) PromoteDiffStaged(blockRef common.Hash) (int, error) {
	res, err := t.tx.Exec(
		"UPDATE state_records SET kind = ? WHERE block_ref = ? AND kind = ?",
		string(pkgstore.KindDiff), blockRef.Hex(), string(pkgstore.KindDiffStaged),
	)
	if err != nil {
		return 0, fmt.Errorf("promote diff_staged: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *txImpl) DeleteRewindableState(aboveBlockNumber uint64) (int, error) {
	res, err := t.tx.Exec(
		"DELETE FROM state_records WHERE block_number > ? AND kind != ?",
		aboveBlockNumber, string(pkgstore.KindCheckpoint),
	)
	if err != nil {
		return 0, fmt.Errorf("delete rewindable state: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *txImpl) HasStateRecordInRange(contract common.Address, fromBlock, toBlock uint64) (bool, error) {
	var count int
	err := t.tx.QueryRow(
		"SELECT COUNT(1) FROM state_records WHERE contract_address = ? AND block_number >= ? AND block_number <= ?",
		contract.Hex(), fromBlock, toBlock,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has state record in range: %w", err)
	}
	return count > 0, nil
}

func (t *txImpl) GetSyncStatus() (*pkgstore.SyncStatus, error) {
	var row syncStatusRow
	if err := meddler.QueryRow(t.tx, &row, "SELECT * FROM sync_status WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	return row.toSyncStatus(), nil
}

func (t *txImpl) UpdateChainHead(hash common.Hash, number uint64, force bool) error {
	return t.guardedCursorUpdate("chain_head_hash", "chain_head_number", hash, number, force)
}

func (t *txImpl) UpdateLatestIndexed(hash common.Hash, number uint64, force bool) error {
	return t.guardedCursorUpdate("latest_indexed_hash", "latest_indexed_number", hash, number, force)
}

func (t *txImpl) UpdateLatestCanonical(hash common.Hash, number uint64, force bool) error {
	return t.guardedCursorUpdate("latest_canonical_hash", "latest_canonical_number", hash, number, force)
}

func (t *txImpl) UpdateInitialIndexed(hash common.Hash, number uint64, force bool) error {
	const query = `UPDATE sync_status SET initial_indexed_hash = ?, initial_indexed_number = ?, initial_indexed_set = 1
		WHERE id = 1 AND (initial_indexed_set = 0 OR ?)`
	res, err := t.tx.Exec(query, hash.Hex(), number, force)
	if err != nil {
		return fmt.Errorf("update initial indexed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && !force {
		return pkgstore.ErrCursorNotMonotonic
	}
	return nil
}

// guardedCursorUpdate applies the common "only move forward, unless forced"
// rule shared by chainHead/latestIndexed/latestCanonical. Strictly less
// than: per spec.md §4.D a cursor advances only if number > current, so an
// equal-height update (e.g. a sibling fork block at the same number) is
// refused just like a regression would be, unless force is set.
func (t *txImpl) guardedCursorUpdate(hashCol, numberCol string, hash common.Hash, number uint64, force bool) error {
	query := fmt.Sprintf(
		`UPDATE sync_status SET %s = ?, %s = ? WHERE id = 1 AND (? OR %s < ?)`,
		hashCol, numberCol, numberCol,
	)
	res, err := t.tx.Exec(query, hash.Hex(), number, force, number)
	if err != nil {
		return fmt.Errorf("update cursor %s: %w", numberCol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && !force {
		return pkgstore.ErrCursorNotMonotonic
	}
	return nil
}

func (t *txImpl) GetStateSyncStatus() (*pkgstore.StateSyncStatus, error) {
	var row stateSyncStatusRow
	if err := meddler.QueryRow(t.tx, &row, "SELECT * FROM state_sync_status WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("get state sync status: %w", err)
	}
	return row.toStateSyncStatus(), nil
}

func (t *txImpl) UpdateStateSyncIndexed(number uint64, force bool) error {
	res, err := t.tx.Exec(
		`UPDATE state_sync_status SET latest_indexed_block_number = ?
			WHERE id = 1 AND (? OR latest_indexed_block_number <= ?)`,
		number, force, number,
	)
	if err != nil {
		return fmt.Errorf("update state sync indexed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && !force {
		return pkgstore.ErrCursorNotMonotonic
	}
	return nil
}

func (t *txImpl) UpdateStateSyncCheckpoint(number uint64, force bool) error {
	res, err := t.tx.Exec(
		`UPDATE state_sync_status SET latest_checkpoint_block_number = ?
			WHERE id = 1 AND (? OR latest_checkpoint_block_number <= ?)`,
		number, force, number,
	)
	if err != nil {
		return fmt.Errorf("update state sync checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 && !force {
		return pkgstore.ErrCursorNotMonotonic
	}
	return nil
}

func (t *txImpl) CountBlocksInRange(fromBlock, toBlock uint64) (expected int, actual int, err error) {
	if toBlock < fromBlock {
		return 0, 0, nil
	}
	expected = int(toBlock-fromBlock) + 1

	err = t.tx.QueryRow(
		"SELECT COUNT(1) FROM blocks WHERE block_number >= ? AND block_number <= ? AND is_pruned = 0",
		fromBlock, toBlock,
	).Scan(&actual)
	if err != nil {
		return expected, 0, fmt.Errorf("count blocks in range: %w", err)
	}
	return expected, actual, nil
}
