package reorg

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/core/internal/db"
	"github.com/chainwatch/core/internal/logger"
	"github.com/chainwatch/core/internal/migrations"
	"github.com/chainwatch/core/internal/store"
	pkgchain "github.com/chainwatch/core/pkg/chain"
	pkgconfig "github.com/chainwatch/core/pkg/config"
	pkgstore "github.com/chainwatch/core/pkg/store"
)

// fakeChain serves headers from an in-memory map keyed by hash, enough to
// let the ancestor walk climb the incoming branch.
type fakeChain struct {
	headers map[common.Hash]*types.Header
}

func (f *fakeChain) GetBlockByHashOrNumber(_ context.Context, hash *common.Hash, _ uint64) (*types.Header, error) {
	if hash == nil {
		return nil, nil
	}
	return f.headers[*hash], nil
}

func (f *fakeChain) GetFullBlock(context.Context, common.Hash) (*pkgchain.Block, error) { return nil, nil }
func (f *fakeChain) GetLogs(context.Context, uint64, []common.Address) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeChain) GetStorageAt(context.Context, common.Hash, common.Address, common.Hash) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (f *fakeChain) GetTransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeChain) GetChainHead(context.Context) (*types.Header, error) { return nil, nil }
func (f *fakeChain) Close()                                              {}

func hashFor(label string) common.Hash {
	return common.BytesToHash([]byte(label))
}

func setupReorgTest(t *testing.T) (*store.Store, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "reorg_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()

	dbPath := tmpFile.Name()
	require.NoError(t, migrations.RunMigrations(dbPath))

	cfg := pkgconfig.DatabaseConfig{Path: dbPath, JournalMode: "WAL"}
	cfg.ApplyDefaults()

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}

	return store.New(sqlDB), cleanup
}

func TestHandle_FindsImmediateCommonAncestor(t *testing.T) {
	s, cleanup := setupReorgTest(t)
	defer cleanup()

	ctx := context.Background()
	ancestorHash := hashFor("ancestor")
	localTipHash := hashFor("local-tip-abandoned")

	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		require.NoError(t, tx.SaveBlockWithEvents(&pkgstore.Block{
			BlockHash: ancestorHash, BlockNumber: 10, IsComplete: true,
		}, nil))
		require.NoError(t, tx.SaveBlockWithEvents(&pkgstore.Block{
			BlockHash: localTipHash, ParentHash: ancestorHash, BlockNumber: 11,
		}, nil))
		require.NoError(t, tx.UpdateLatestIndexed(localTipHash, 11, false))
		require.NoError(t, tx.UpdateLatestCanonical(localTipHash, 11, false))
		return nil
	}))

	handler := New(&fakeChain{headers: map[common.Hash]*types.Header{}}, 256, &db.NoOpMaintenance{}, logger.NewNopLogger())

	var ancestor pkgstore.CursorPair
	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		var err error
		ancestor, err = handler.Handle(ctx, tx, ancestorHash, 10)
		return err
	}))

	require.Equal(t, uint64(10), ancestor.Number)
	require.Equal(t, ancestorHash, ancestor.Hash)

	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		block, err := tx.GetBlockByHash(localTipHash)
		require.NoError(t, err)
		require.True(t, block.IsPruned)

		status, err := tx.GetSyncStatus()
		require.NoError(t, err)
		require.Equal(t, uint64(10), status.LatestIndexed.Number)
		require.Equal(t, uint64(10), status.LatestCanonical.Number)
		return nil
	}))
}

func TestHandle_WalksBackMultipleBlocksOnUpstreamBranch(t *testing.T) {
	s, cleanup := setupReorgTest(t)
	defer cleanup()

	ctx := context.Background()
	ancestorHash := hashFor("ancestor-deep")
	localMid := hashFor("local-mid")
	localTip := hashFor("local-tip")

	incomingMid := hashFor("incoming-mid")
	incomingTip := hashFor("incoming-tip")

	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		require.NoError(t, tx.SaveBlockWithEvents(&pkgstore.Block{BlockHash: ancestorHash, BlockNumber: 20}, nil))
		require.NoError(t, tx.SaveBlockWithEvents(&pkgstore.Block{BlockHash: localMid, ParentHash: ancestorHash, BlockNumber: 21}, nil))
		require.NoError(t, tx.SaveBlockWithEvents(&pkgstore.Block{BlockHash: localTip, ParentHash: localMid, BlockNumber: 22}, nil))
		require.NoError(t, tx.UpdateLatestIndexed(localTip, 22, false))
		return nil
	}))

	chain := &fakeChain{headers: map[common.Hash]*types.Header{
		incomingTip: {ParentHash: incomingMid, Number: big.NewInt(22)},
		incomingMid: {ParentHash: ancestorHash, Number: big.NewInt(21)},
	}}

	handler := New(chain, 256, &db.NoOpMaintenance{}, logger.NewNopLogger())

	var ancestor pkgstore.CursorPair
	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		var err error
		ancestor, err = handler.Handle(ctx, tx, incomingTip, 22)
		return err
	}))

	require.Equal(t, uint64(20), ancestor.Number)
	require.Equal(t, ancestorHash, ancestor.Hash)
}

func TestHandle_ExceedsMaxDepthIsFatal(t *testing.T) {
	s, cleanup := setupReorgTest(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		return tx.SaveBlockWithEvents(&pkgstore.Block{BlockHash: hashFor("only-local"), BlockNumber: 5}, nil)
	}))

	neverMatches := hashFor("never-matches")
	neverMatches2 := hashFor("never-matches-2")
	chain := &fakeChain{headers: map[common.Hash]*types.Header{
		neverMatches:  {ParentHash: neverMatches2, Number: big.NewInt(5)},
		neverMatches2: {ParentHash: hashFor("never-matches-3"), Number: big.NewInt(4)},
	}}
	handler := New(chain, 1, &db.NoOpMaintenance{}, logger.NewNopLogger())

	err := s.WithTransaction(ctx, func(tx pkgstore.Tx) error {
		_, err := handler.Handle(ctx, tx, neverMatches, 5)
		return err
	})

	require.Error(t, err)
	var depthErr *MaxDepthExceededError
	require.ErrorAs(t, err, &depthErr)
}
