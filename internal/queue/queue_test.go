package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	chainwatchcommon "github.com/chainwatch/core/internal/common"
	"github.com/chainwatch/core/internal/db"
	"github.com/chainwatch/core/internal/migrations"
	pkgconfig "github.com/chainwatch/core/pkg/config"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
)

func setupQueue(t *testing.T) (*Queue, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "queue_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	dbPath := tmpFile.Name()

	require.NoError(t, migrations.RunMigrations(dbPath))

	dbCfg := pkgconfig.DatabaseConfig{Path: dbPath, JournalMode: "WAL"}
	dbCfg.ApplyDefaults()
	sqlDB, err := db.NewSQLiteDBFromConfig(dbCfg)
	require.NoError(t, err)

	// A 1ns retry backoff keeps a failed job's next_retry_at at or before
	// the next Dequeue's clock reading, so tests can re-dequeue it at once.
	qCfg := pkgconfig.QueueConfig{
		HighWaterMark:  10,
		MaxAttempts:    3,
		InitialBackoff: chainwatchcommon.NewDuration(time.Nanosecond),
		MaxBackoff:     chainwatchcommon.NewDuration(time.Nanosecond),
	}
	qCfg.ApplyDefaults()

	q, err := New(sqlDB, qCfg)
	require.NoError(t, err)

	return q, func() {
		sqlDB.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}
}

func TestEnqueueDequeueComplete(t *testing.T) {
	q, cleanup := setupQueue(t)
	defer cleanup()
	ctx := context.Background()

	hash := common.HexToHash("0x01")
	require.NoError(t, q.Enqueue(ctx, pkgqueue.Events, hash.Hex(), hash, 1, 0))

	job, err := q.Dequeue(ctx, pkgqueue.Events)
	require.NoError(t, err)
	require.Equal(t, hash, job.BlockHash)
	require.Equal(t, pkgqueue.StatusRunning, job.Status)

	require.NoError(t, q.Complete(ctx, job))

	_, err = q.Dequeue(ctx, pkgqueue.Events)
	require.ErrorIs(t, err, pkgqueue.ErrNoJobAvailable)
}

func TestEnqueue_IgnoresDuplicateActiveKey(t *testing.T) {
	q, cleanup := setupQueue(t)
	defer cleanup()
	ctx := context.Background()

	hash := common.HexToHash("0x02")
	require.NoError(t, q.Enqueue(ctx, pkgqueue.Events, hash.Hex(), hash, 2, 0))
	require.NoError(t, q.Enqueue(ctx, pkgqueue.Events, hash.Hex(), hash, 2, 0))

	depth, err := q.Depth(ctx, pkgqueue.Events)
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestFail_PoisonsAfterMaxAttempts(t *testing.T) {
	q, cleanup := setupQueue(t)
	defer cleanup()
	ctx := context.Background()

	hash := common.HexToHash("0x03")
	require.NoError(t, q.Enqueue(ctx, pkgqueue.Block, hash.Hex(), hash, 3, 0))

	cause := errors.New("boom")
	for i := 0; i < 2; i++ {
		job, err := q.Dequeue(ctx, pkgqueue.Block)
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, job, cause))
	}

	job, err := q.Dequeue(ctx, pkgqueue.Block)
	require.NoError(t, err)
	err = q.Fail(ctx, job, cause)
	require.Error(t, err)

	var poisoned *chainwatchcommon.PoisonedJobError
	require.ErrorAs(t, err, &poisoned)

	_, err = q.Dequeue(ctx, pkgqueue.Block)
	require.ErrorIs(t, err, pkgqueue.ErrNoJobAvailable)
}
