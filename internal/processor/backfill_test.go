package processor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	pkgstore "github.com/chainwatch/core/pkg/store"
)

func TestFillState_ReplaysRangeIntoInitDiffCheckpoint(t *testing.T) {
	p, st, _, cleanup := setupTestProcessor(t)
	defer cleanup()

	contract := common.HexToAddress("0x4444444444444444444444444444444444444444")
	seedContract(t, st, contract, "generic", true)

	hash200 := common.HexToHash("0xc200")
	hash205 := common.HexToHash("0xc205")
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash200, BlockNumber: 200, LastProcessedEventIndex: -1},
		[]*pkgstore.Event{sampleEvent(hash200, contract, 0)})
	seedBlockWithEvents(t, st, &pkgstore.Block{BlockHash: hash205, BlockNumber: 205, LastProcessedEventIndex: -1},
		[]*pkgstore.Event{sampleEvent(hash205, contract, 0)})

	require.NoError(t, p.FillState(context.Background(), contract, 200, 205, 205))

	err := st.WithTransaction(context.Background(), func(tx pkgstore.Tx) error {
		initRecord, err := tx.GetLatestState(contract, pkgstore.KindInit, 200)
		require.NoError(t, err)
		require.Equal(t, uint64(200), initRecord.BlockNumber)

		// Block 200 is the starting block: it gets both an init and its
		// own diff (spec.md §8 scenario 1), so the checkpoint at 205
		// chains onto that diff rather than directly onto the init.
		diff, err := tx.GetLatestState(contract, pkgstore.KindDiff, 200)
		require.NoError(t, err)
		require.Equal(t, initRecord.CID, diff.ParentCID)

		checkpoint, err := tx.GetLatestState(contract, pkgstore.KindCheckpoint, 205)
		require.NoError(t, err)
		require.Equal(t, uint64(205), checkpoint.BlockNumber)
		require.Equal(t, diff.CID, checkpoint.ParentCID)
		return nil
	})
	require.NoError(t, err)
}

func TestFillState_ErrorsWhenNoEventsTouchContract(t *testing.T) {
	p, st, _, cleanup := setupTestProcessor(t)
	defer cleanup()

	contract := common.HexToAddress("0x5555555555555555555555555555555555555555")
	seedContract(t, st, contract, "generic", false)

	require.Error(t, p.FillState(context.Background(), contract, 10, 20, 0))
}
