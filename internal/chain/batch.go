package chain

import (
	"context"
	"fmt"
	"math/big"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/chainwatch/core/internal/metrics"
)

func filterQuery(fromBlock, toBlock uint64, addresses []common.Address) gethereum.FilterQuery {
	return gethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
}

// FetchLogsInRange fetches logs over [fromBlock, toBlock] for the given
// addresses, automatically halving the range and retrying when the
// upstream reports "too many results", matching the teacher's
// fetchLogsWithRetry range-splitting behavior.
func (c *Client) FetchLogsInRange(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	logs, err := c.getLogsRange(ctx, fromBlock, toBlock, addresses)
	if err == nil {
		return logs, nil
	}

	if tooMany, _ := IsTooManyResultsError(err); !tooMany || fromBlock == toBlock {
		return nil, err
	}

	mid := fromBlock + (toBlock-fromBlock)/2
	left, err := c.FetchLogsInRange(ctx, fromBlock, mid, addresses)
	if err != nil {
		return nil, err
	}
	right, err := c.FetchLogsInRange(ctx, mid+1, toBlock, addresses)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}

func (c *Client) getLogsRange(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error) {
	metrics.ChainRPCRequestInc("eth_getLogs")

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, filterQuery(fromBlock, toBlock, addresses))
		return err
	})
	return logs, err
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers in a
// single JSON-RPC batch call, chunked to avoid oversized requests.
func (c *Client) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100

	var allResults []*types.Header
	for i := 0; i < len(blockNums); i += maxBatch {
		end := min(i+maxBatch, len(blockNums))
		chunk := blockNums[i:end]

		batch := make([]gethrpc.BatchElem, len(chunk))
		results := make([]*types.Header, len(chunk))
		for j, num := range chunk {
			batch[j] = gethrpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{fmt.Sprintf("0x%x", num), false},
				Result: &results[j],
			}
		}

		if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
			return nil, fmt.Errorf("batch get headers: %w", err)
		}
		for _, elem := range batch {
			if elem.Error != nil {
				return nil, fmt.Errorf("batch get headers element: %w", elem.Error)
			}
		}

		allResults = append(allResults, results...)
	}

	return allResults, nil
}
