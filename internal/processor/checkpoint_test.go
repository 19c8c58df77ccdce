package processor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/core/internal/cursor"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

func TestCreateCheckpointAt_ChainsOntoLatestDiff(t *testing.T) {
	p, st, _, cleanup := setupTestProcessor(t)
	defer cleanup()

	contract := common.HexToAddress("0x6666666666666666666666666666666666666666")
	seedContract(t, st, contract, "generic", false)

	hash104 := common.HexToHash("0xc104")
	hash105 := common.HexToHash("0xc999")
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash104, BlockNumber: 104, LastProcessedEventIndex: -1},
		[]*pkgstore.Event{sampleEvent(hash104, contract, 0)})
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash105, BlockNumber: 105, ParentHash: hash104, LastProcessedEventIndex: -1},
		[]*pkgstore.Event{sampleEvent(hash105, contract, 0)})

	require.NoError(t, p.FillState(context.Background(), contract, 104, 105, 0))

	require.NoError(t, p.CreateCheckpointAt(context.Background(), contract, hash105))

	err := st.WithTransaction(context.Background(), func(tx pkgstore.Tx) error {
		diff, err := tx.GetLatestState(contract, pkgstore.KindDiff, 105)
		require.NoError(t, err)
		checkpoint, err := tx.GetLatestState(contract, pkgstore.KindCheckpoint, 105)
		require.NoError(t, err)
		require.Equal(t, diff.CID, checkpoint.ParentCID)
		require.Equal(t, uint64(105), checkpoint.BlockNumber)
		return nil
	})
	require.NoError(t, err)
}

func TestResetToBlock_PrunesAboveAndRewindsCursors(t *testing.T) {
	p, st, _, cleanup := setupTestProcessor(t)
	defer cleanup()

	contract := common.HexToAddress("0x7777777777777777777777777777777777777777")
	seedContract(t, st, contract, "generic", false)

	hash100 := common.HexToHash("0xc100")
	hash101 := common.HexToHash("0xc101")
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash100, BlockNumber: 100, LastProcessedEventIndex: -1}, nil)
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash101, BlockNumber: 101, ParentHash: hash100, LastProcessedEventIndex: -1}, nil)

	require.NoError(t, st.WithTransaction(context.Background(), func(tx pkgstore.Tx) error {
		if err := cursor.AdvanceLatestIndexed(tx, hash101, 101, true); err != nil {
			return err
		}
		return cursor.AdvanceLatestCanonical(tx, hash101, 101, true)
	}))

	require.NoError(t, p.ResetToBlock(context.Background(), 100))

	err := st.WithTransaction(context.Background(), func(tx pkgstore.Tx) error {
		status, err := tx.GetSyncStatus()
		require.NoError(t, err)
		require.Equal(t, uint64(100), status.LatestCanonical.Number)

		pruned := true
		block, err := tx.GetBlockAtHeight(101, pkgstore.BlockFilter{IsPruned: &pruned})
		require.NoError(t, err)
		require.True(t, block.IsPruned)
		return nil
	})
	require.NoError(t, err)
}
