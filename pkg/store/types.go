// Package store defines the wire-facing types and capability interface of
// the persistence layer: blocks, events, contracts, state records, and the
// two sync-cursor rows.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Block mirrors a single entry on the upstream chain, identified by hash.
type Block struct {
	BlockHash               common.Hash
	ParentHash              common.Hash
	BlockNumber             uint64
	BlockTimestamp          uint64
	NumEvents               int
	NumProcessedEvents      int
	LastProcessedEventIndex int
	IsComplete              bool
	IsPruned                bool
	CreatedAt               int64
}

// Complete reports whether every event of the block has been applied.
func (b *Block) Complete() bool {
	return b.NumProcessedEvents == b.NumEvents
}

// Event is a single decoded log entry, immutable once written.
type Event struct {
	ID        int64
	BlockRef  common.Hash
	TxHash    common.Hash
	Index     int
	Contract  common.Address
	EventName string
	EventInfo []byte
	ExtraInfo []byte
	Proof     []byte
}

// Contract is a watched contract and the ABI oracle kind used to decode it.
type Contract struct {
	Address       common.Address
	StartingBlock uint64
	Kind          string
	Checkpoint    bool
}

// StateKind is the closed set of state record kinds (spec §3, §4.G).
type StateKind string

const (
	KindInit        StateKind = "init"
	KindDiffStaged  StateKind = "diff_staged"
	KindDiff        StateKind = "diff"
	KindCheckpoint  StateKind = "checkpoint"
)

// Valid reports whether k is one of the four closed kinds.
func (k StateKind) Valid() bool {
	switch k {
	case KindInit, KindDiffStaged, KindDiff, KindCheckpoint:
		return true
	default:
		return false
	}
}

// StateRecord is a content-addressed, contract-scoped state snapshot.
type StateRecord struct {
	ID              int64
	BlockRef        common.Hash
	BlockNumber     uint64
	ContractAddress common.Address
	CID             string
	ParentCID       string
	Kind            StateKind
	Data            []byte
	CreatedAt       int64
}

// CursorPair is a (hash, number) pointer.
type CursorPair struct {
	Hash   common.Hash
	Number uint64
}

// SyncStatus is the single-row record of the four chain-level cursors.
type SyncStatus struct {
	ChainHead       CursorPair
	LatestIndexed   CursorPair
	LatestCanonical CursorPair
	InitialIndexed  CursorPair
	InitialIndexedSet bool
}

// StateSyncStatus is the single-row record of the two materializer cursors.
type StateSyncStatus struct {
	LatestIndexedBlockNumber      uint64
	LatestCheckpointBlockNumber   uint64
}

// BlockFilter narrows QueryBlocksByHeight queries.
type BlockFilter struct {
	IsPruned *bool
}

// TxRunner scopes a function inside a single database transaction,
// guaranteeing commit-or-rollback on every exit path, including panics
// recovered by the caller.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of persistence operations available inside a transaction
// scope. It is the only way callers touch the store — there is no
// un-scoped write path.
type Tx interface {
	// Blocks
	GetBlockByHash(hash common.Hash) (*Block, error)
	QueryBlocksByHeight(number uint64, filter BlockFilter) ([]*Block, error)
	GetBlockAtHeight(number uint64, filter BlockFilter) (*Block, error)
	SaveBlockWithEvents(block *Block, events []*Event) error
	UpdateBlockProgress(block *Block) error
	MarkBlocksPruned(aboveNumber uint64) (int, error)

	// Events
	GetEventsInRange(fromBlockNumber, toBlockNumber uint64) ([]*Event, error)
	GetEventsAfterIndex(blockRef common.Hash, afterIndex int) ([]*Event, error)

	// Contracts
	ListContracts() ([]*Contract, error)
	GetContract(address common.Address) (*Contract, error)
	SaveContract(contract *Contract) error

	// State records
	InsertStateRecord(record *StateRecord) error
	GetLatestState(contract common.Address, kind StateKind, atOrBeforeBlock uint64) (*StateRecord, error)
	GetStateRecordByCID(cid string) (*StateRecord, error)
	QueryDiffStatesInRange(contract common.Address, fromBlock, toBlock uint64) ([]*StateRecord, error)
	PromoteDiffStaged(blockRef common.Hash) (int, error)
	DeleteRewindableState(aboveBlockNumber uint64) (int, error)
	HasStateRecordInRange(contract common.Address, fromBlock, toBlock uint64) (bool, error)

	// Sync cursors
	GetSyncStatus() (*SyncStatus, error)
	UpdateChainHead(hash common.Hash, number uint64, force bool) error
	UpdateLatestIndexed(hash common.Hash, number uint64, force bool) error
	UpdateLatestCanonical(hash common.Hash, number uint64, force bool) error
	UpdateInitialIndexed(hash common.Hash, number uint64, force bool) error

	GetStateSyncStatus() (*StateSyncStatus, error)
	UpdateStateSyncIndexed(number uint64, force bool) error
	UpdateStateSyncCheckpoint(number uint64, force bool) error

	// Range accounting
	CountBlocksInRange(fromBlock, toBlock uint64) (expected int, actual int, err error)
}
