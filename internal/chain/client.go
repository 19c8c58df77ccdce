// Package chain implements pkg/chain.Client against go-ethereum's
// ethclient/rpc.Client, adding idempotent-read caching, future-epoch
// normalization, and retry with backoff on top of raw JSON-RPC calls.
package chain

import (
	"context"
	"fmt"
	"math/big"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/chainwatch/core/internal/metrics"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	"github.com/chainwatch/core/pkg/config"
)

// Client wraps an ethclient connection with caching, retry, and error
// normalization. It implements pkgchain.Client.
type Client struct {
	eth *ethclient.Client
	rpc *gethrpc.Client

	retryCfg     *config.RetryConfig
	finality     string
	finalizedLag uint64

	// cache holds idempotent-read results keyed by a method+args string;
	// header, full-block and receipt lookups are immutable once the block
	// is final, so a cache hit never needs invalidation. Logs and storage
	// reads are not cached.
	cache *xsync.Map[string, any]
}

var _ pkgchain.Client = (*Client)(nil)

// New dials the upstream JSON-RPC endpoint named in cfg and returns a
// ready client configured for cfg's finality mode.
func New(ctx context.Context, cfg config.ChainConfig) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain endpoint: %w", err)
	}

	return &Client{
		eth:          ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		retryCfg:     cfg.Retry,
		finality:     cfg.Finality,
		finalizedLag: cfg.FinalizedLag,
		cache:        xsync.NewMap[string, any](),
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) GetBlockByHashOrNumber(ctx context.Context, hash *common.Hash, number uint64) (*types.Header, error) {
	key := fmt.Sprintf("header:%v:%d", hash, number)
	if cached, ok := c.cache.Load(key); ok {
		metrics.ChainCacheHitInc()
		if cached == nil {
			return nil, nil
		}
		return cached.(*types.Header), nil
	}

	metrics.ChainRPCRequestInc("eth_getBlockByNumber")

	var header *types.Header
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getBlockByNumber", func() error {
		var err error
		if hash != nil {
			header, err = c.eth.HeaderByHash(ctx, *hash)
		} else {
			header, err = c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		}
		return err
	})
	if err != nil {
		if IsFutureEpochError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block header: %w", err)
	}

	c.cache.Store(key, header)
	return header, nil
}

func (c *Client) GetFullBlock(ctx context.Context, hash common.Hash) (*pkgchain.Block, error) {
	key := fmt.Sprintf("fullblock:%s", hash.Hex())
	if cached, ok := c.cache.Load(key); ok {
		metrics.ChainCacheHitInc()
		return cached.(*pkgchain.Block), nil
	}

	metrics.ChainRPCRequestInc("eth_getBlockByHash")

	var block *types.Block
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getBlockByHash", func() error {
		var err error
		block, err = c.eth.BlockByHash(ctx, hash)
		return err
	})
	if err != nil {
		if IsFutureEpochError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get full block: %w", err)
	}

	headerRLP, err := rlpEncodeHeader(block.Header())
	if err != nil {
		return nil, fmt.Errorf("rlp encode header: %w", err)
	}

	txs := block.Transactions()
	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}

	result := &pkgchain.Block{
		Header:    block.Header(),
		HeaderRLP: headerRLP,
		TxHashes:  hashes,
	}

	c.cache.Store(key, result)
	return result, nil
}

func (c *Client) GetLogs(ctx context.Context, blockNumber uint64, addresses []common.Address) ([]types.Log, error) {
	metrics.ChainRPCRequestInc("eth_getLogs")

	query := gethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(blockNumber),
		ToBlock:   new(big.Int).SetUint64(blockNumber),
		Addresses: addresses,
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		if tooMany, errData := IsTooManyResultsError(err); tooMany {
			return nil, fmt.Errorf("eth_getLogs too many results for block %d: %s", blockNumber, errData)
		}
		if IsFutureEpochError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get logs: %w", err)
	}

	return logs, nil
}

func (c *Client) GetStorageAt(ctx context.Context, blockHash common.Hash, contract common.Address, slot common.Hash) ([]byte, []byte, error) {
	metrics.ChainRPCRequestInc("eth_getStorageAt")

	var value []byte
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getStorageAt", func() error {
		var err error
		value, err = c.eth.StorageAtHash(ctx, contract, slot, blockHash)
		return err
	})
	if err != nil {
		if IsFutureEpochError(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("get storage at: %w", err)
	}

	return leftPad32(value), nil, nil
}

func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	key := fmt.Sprintf("receipt:%s", txHash.Hex())
	if cached, ok := c.cache.Load(key); ok {
		metrics.ChainCacheHitInc()
		return cached.(*types.Receipt), nil
	}

	metrics.ChainRPCRequestInc("eth_getTransactionReceipt")

	var receipt *types.Receipt
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getTransactionReceipt", func() error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, txHash)
		return err
	})
	if err != nil {
		if IsFutureEpochError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction receipt: %w", err)
	}

	c.cache.Store(key, receipt)
	return receipt, nil
}

// GetChainHead resolves the header treated as canonical-at-height under
// the client's configured finality mode, grounded on the teacher's
// getFinalizedBlock dispatch in internal/fetcher/log_fetcher.go.
func (c *Client) GetChainHead(ctx context.Context) (*types.Header, error) {
	switch c.finality {
	case "finalized":
		return c.headerByTag(ctx, "eth_getBlockByNumber_finalized", big.NewInt(int64(gethrpc.FinalizedBlockNumber)))
	case "safe":
		return c.headerByTag(ctx, "eth_getBlockByNumber_safe", big.NewInt(int64(gethrpc.SafeBlockNumber)))
	case "latest":
		latest, err := c.headerByTag(ctx, "eth_getBlockByNumber_latest", nil)
		if err != nil || latest == nil {
			return latest, err
		}
		headNum := latest.Number.Uint64()
		if headNum < c.finalizedLag {
			return c.GetBlockByHashOrNumber(ctx, nil, 0)
		}
		return c.GetBlockByHashOrNumber(ctx, nil, headNum-c.finalizedLag)
	default:
		return nil, fmt.Errorf("chain client: unknown finality mode %q", c.finality)
	}
}

func (c *Client) headerByTag(ctx context.Context, rpcMethod string, tag *big.Int) (*types.Header, error) {
	metrics.ChainRPCRequestInc(rpcMethod)

	var header *types.Header
	err := retryWithBackoff(ctx, c.retryCfg, rpcMethod, func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, tag)
		return err
	})
	if err != nil {
		if IsFutureEpochError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chain head (%s): %w", rpcMethod, err)
	}
	return header, nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
