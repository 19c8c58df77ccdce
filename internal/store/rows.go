package store

import (
	"github.com/ethereum/go-ethereum/common"

	pkgstore "github.com/chainwatch/core/pkg/store"
)

// blockRow is the meddler row shape for the blocks table.
type blockRow struct {
	ID                      int64       `meddler:"id,pk"`
	BlockHash               common.Hash `meddler:"block_hash,hash"`
	ParentHash              common.Hash `meddler:"parent_hash,hash"`
	BlockNumber             uint64      `meddler:"block_number"`
	BlockTimestamp          uint64      `meddler:"block_timestamp"`
	NumEvents               int         `meddler:"num_events"`
	NumProcessedEvents      int         `meddler:"num_processed_events"`
	LastProcessedEventIndex int         `meddler:"last_processed_event_index"`
	IsComplete              bool        `meddler:"is_complete"`
	IsPruned                bool        `meddler:"is_pruned"`
	CreatedAt               int64       `meddler:"created_at"`
}

func (r *blockRow) toBlock() *pkgstore.Block {
	return &pkgstore.Block{
		BlockHash:               r.BlockHash,
		ParentHash:              r.ParentHash,
		BlockNumber:             r.BlockNumber,
		BlockTimestamp:          r.BlockTimestamp,
		NumEvents:               r.NumEvents,
		NumProcessedEvents:      r.NumProcessedEvents,
		LastProcessedEventIndex: r.LastProcessedEventIndex,
		IsComplete:              r.IsComplete,
		IsPruned:                r.IsPruned,
		CreatedAt:               r.CreatedAt,
	}
}

func blockRowFrom(b *pkgstore.Block) *blockRow {
	return &blockRow{
		BlockHash:               b.BlockHash,
		ParentHash:              b.ParentHash,
		BlockNumber:             b.BlockNumber,
		BlockTimestamp:          b.BlockTimestamp,
		NumEvents:               b.NumEvents,
		NumProcessedEvents:      b.NumProcessedEvents,
		LastProcessedEventIndex: b.LastProcessedEventIndex,
		IsComplete:              b.IsComplete,
		IsPruned:                b.IsPruned,
		CreatedAt:               b.CreatedAt,
	}
}

// eventRow is the meddler row shape for the events table.
type eventRow struct {
	ID        int64          `meddler:"id,pk"`
	BlockRef  common.Hash    `meddler:"block_ref,hash"`
	TxHash    common.Hash    `meddler:"tx_hash,hash"`
	LogIndex  int            `meddler:"log_index"`
	Contract  common.Address `meddler:"contract,address"`
	EventName string         `meddler:"event_name"`
	EventInfo []byte         `meddler:"event_info"`
	ExtraInfo []byte         `meddler:"extra_info"`
	Proof     []byte         `meddler:"proof"`
}

func (r *eventRow) toEvent() *pkgstore.Event {
	return &pkgstore.Event{
		ID:        r.ID,
		BlockRef:  r.BlockRef,
		TxHash:    r.TxHash,
		Index:     r.LogIndex,
		Contract:  r.Contract,
		EventName: r.EventName,
		EventInfo: r.EventInfo,
		ExtraInfo: r.ExtraInfo,
		Proof:     r.Proof,
	}
}

func eventRowFrom(e *pkgstore.Event) *eventRow {
	return &eventRow{
		BlockRef:  e.BlockRef,
		TxHash:    e.TxHash,
		LogIndex:  e.Index,
		Contract:  e.Contract,
		EventName: e.EventName,
		EventInfo: e.EventInfo,
		ExtraInfo: e.ExtraInfo,
		Proof:     e.Proof,
	}
}

// contractRow is the meddler row shape for the contracts table.
type contractRow struct {
	Address       common.Address `meddler:"address,address,pk"`
	StartingBlock uint64         `meddler:"starting_block"`
	Kind          string         `meddler:"kind"`
	Checkpoint    bool           `meddler:"checkpoint"`
}

func (r *contractRow) toContract() *pkgstore.Contract {
	return &pkgstore.Contract{
		Address:       r.Address,
		StartingBlock: r.StartingBlock,
		Kind:          r.Kind,
		Checkpoint:    r.Checkpoint,
	}
}

func contractRowFrom(c *pkgstore.Contract) *contractRow {
	return &contractRow{
		Address:       c.Address,
		StartingBlock: c.StartingBlock,
		Kind:          c.Kind,
		Checkpoint:    c.Checkpoint,
	}
}

// stateRecordRow is the meddler row shape for the state_records table.
type stateRecordRow struct {
	ID              int64          `meddler:"id,pk"`
	BlockRef        common.Hash    `meddler:"block_ref,hash"`
	BlockNumber     uint64         `meddler:"block_number"`
	ContractAddress common.Address `meddler:"contract_address,address"`
	CID             string         `meddler:"cid"`
	ParentCID       string         `meddler:"parent_cid"`
	Kind            string         `meddler:"kind"`
	Data            []byte         `meddler:"data"`
	CreatedAt       int64          `meddler:"created_at"`
}

func (r *stateRecordRow) toStateRecord() *pkgstore.StateRecord {
	return &pkgstore.StateRecord{
		ID:              r.ID,
		BlockRef:        r.BlockRef,
		BlockNumber:     r.BlockNumber,
		ContractAddress: r.ContractAddress,
		CID:             r.CID,
		ParentCID:       r.ParentCID,
		Kind:            pkgstore.StateKind(r.Kind),
		Data:            r.Data,
		CreatedAt:       r.CreatedAt,
	}
}

func stateRecordRowFrom(s *pkgstore.StateRecord) *stateRecordRow {
	return &stateRecordRow{
		BlockRef:        s.BlockRef,
		BlockNumber:     s.BlockNumber,
		ContractAddress: s.ContractAddress,
		CID:             s.CID,
		ParentCID:       s.ParentCID,
		Kind:            string(s.Kind),
		Data:            s.Data,
		CreatedAt:       s.CreatedAt,
	}
}

// syncStatusRow is the meddler row shape for the single-row sync_status table.
type syncStatusRow struct {
	ID                    int64          `meddler:"id,pk"`
	ChainHeadHash         common.Hash    `meddler:"chain_head_hash,hash"`
	ChainHeadNumber       uint64         `meddler:"chain_head_number"`
	LatestIndexedHash     common.Hash    `meddler:"latest_indexed_hash,hash"`
	LatestIndexedNumber   uint64         `meddler:"latest_indexed_number"`
	LatestCanonicalHash   common.Hash    `meddler:"latest_canonical_hash,hash"`
	LatestCanonicalNumber uint64         `meddler:"latest_canonical_number"`
	InitialIndexedHash    common.Hash    `meddler:"initial_indexed_hash,hash"`
	InitialIndexedNumber  uint64         `meddler:"initial_indexed_number"`
	InitialIndexedSet     bool           `meddler:"initial_indexed_set"`
}

func (r *syncStatusRow) toSyncStatus() *pkgstore.SyncStatus {
	return &pkgstore.SyncStatus{
		ChainHead:         pkgstore.CursorPair{Hash: r.ChainHeadHash, Number: r.ChainHeadNumber},
		LatestIndexed:     pkgstore.CursorPair{Hash: r.LatestIndexedHash, Number: r.LatestIndexedNumber},
		LatestCanonical:   pkgstore.CursorPair{Hash: r.LatestCanonicalHash, Number: r.LatestCanonicalNumber},
		InitialIndexed:    pkgstore.CursorPair{Hash: r.InitialIndexedHash, Number: r.InitialIndexedNumber},
		InitialIndexedSet: r.InitialIndexedSet,
	}
}

// stateSyncStatusRow is the meddler row shape for the single-row state_sync_status table.
type stateSyncStatusRow struct {
	ID                          int64  `meddler:"id,pk"`
	LatestIndexedBlockNumber    uint64 `meddler:"latest_indexed_block_number"`
	LatestCheckpointBlockNumber uint64 `meddler:"latest_checkpoint_block_number"`
}

func (r *stateSyncStatusRow) toStateSyncStatus() *pkgstore.StateSyncStatus {
	return &pkgstore.StateSyncStatus{
		LatestIndexedBlockNumber:    r.LatestIndexedBlockNumber,
		LatestCheckpointBlockNumber: r.LatestCheckpointBlockNumber,
	}
}
