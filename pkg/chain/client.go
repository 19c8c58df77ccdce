// Package chain defines the capability interface of the upstream chain
// client adapter (spec §4.A): block/log/storage/receipt retrieval with
// idempotent-read caching and future-epoch normalization baked in at the
// implementation layer.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the upstream chain RPC surface the rest of the indexer
// depends on. Implementations own retry, caching, and error
// normalization; callers never see raw transport errors for
// not-yet-produced ("future epoch") blocks — those come back as a nil
// result and a nil error.
type Client interface {
	// GetBlockByHashOrNumber resolves a header by hash if hash is set,
	// otherwise by number. A nil, nil return means the block does not
	// exist yet on the upstream chain.
	GetBlockByHashOrNumber(ctx context.Context, hash *common.Hash, number uint64) (*types.Header, error)

	// GetFullBlock returns the header plus every transaction hash and the
	// RLP-encoded header bytes. State-record CIDs are not computed from
	// these bytes.
	GetFullBlock(ctx context.Context, hash common.Hash) (*Block, error)

	// GetLogs returns logs for the given block, optionally filtered to a
	// set of contract addresses. An empty addresses slice means "all".
	GetLogs(ctx context.Context, blockNumber uint64, addresses []common.Address) ([]types.Log, error)

	// GetStorageAt returns the 32-byte-left-padded value and an opaque
	// proof blob (nil where the adapter has no proof support) for a
	// storage slot at a specific block.
	GetStorageAt(ctx context.Context, blockHash common.Hash, contract common.Address, slot common.Hash) (value []byte, proof []byte, err error)

	// GetTransactionReceipt returns the receipt for a transaction hash.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// GetChainHead returns the header the adapter currently treats as
	// canonical-at-height, per its configured finality mode.
	GetChainHead(ctx context.Context) (*types.Header, error)

	Close()
}

// Block is the full block representation including header RLP, as
// returned by GetFullBlock. The materializer's CID construction does not
// read HeaderRLP.
type Block struct {
	Header       *types.Header
	HeaderRLP    []byte
	TxHashes     []common.Hash
}
