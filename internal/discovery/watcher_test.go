package discovery

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
	pkgqueue "github.com/chainwatch/core/pkg/queue"
)

type fakeChain struct {
	headers map[uint64]*types.Header
	head    *types.Header
}

func (f *fakeChain) GetBlockByHashOrNumber(_ context.Context, _ *common.Hash, number uint64) (*types.Header, error) {
	return f.headers[number], nil
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
func (f *fakeChain) GetChainHead(context.Context) (*types.Header, error) { return f.head, nil }
func (f *fakeChain) Close()                                              {}

type fakeQueue struct {
	enqueued []common.Hash
}

func (q *fakeQueue) Enqueue(_ context.Context, _ pkgqueue.Name, _ string, blockHash common.Hash, _ uint64, _ int) error {
	q.enqueued = append(q.enqueued, blockHash)
	return nil
}
func (q *fakeQueue) Dequeue(context.Context, pkgqueue.Name) (*pkgqueue.Job, error) {
	return nil, pkgqueue.ErrNoJobAvailable
}
func (q *fakeQueue) Complete(context.Context, *pkgqueue.Job) error       { return nil }
func (q *fakeQueue) Fail(context.Context, *pkgqueue.Job, error) error    { return nil }
func (q *fakeQueue) Depth(context.Context, pkgqueue.Name) (int, error)   { return 0, nil }
func (q *fakeQueue) Close() error                                        { return nil }

func header(number uint64) *types.Header {
	return &types.Header{Number: new(big.Int).SetUint64(number)}
}

func TestWatcher_EnqueuesFromStartBlockThroughHead(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "discovery_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	require.NoError(t, migrations.RunMigrations(tmpFile.Name()))

	cfg := pkgconfig.DatabaseConfig{Path: tmpFile.Name(), JournalMode: "WAL"}
	cfg.ApplyDefaults()
	sqlDB, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	defer sqlDB.Close()

	st := store.New(sqlDB)

	headers := map[uint64]*types.Header{0: header(0), 1: header(1), 2: header(2)}
	chain := &fakeChain{headers: headers, head: header(2)}
	q := &fakeQueue{}

	w := New(chain, st, q, 0, logger.NewNopLogger())
	require.NoError(t, w.tick(context.Background()))

	require.Len(t, q.enqueued, 3)
}
