// Package queue implements pkg/queue.Queue as SQLite-durable job rows
// guarded by a per-(queue, job_key) exclusion lock (Redis when configured,
// in-process otherwise), matching spec §4.C.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	chainwatchcommon "github.com/chainwatch/core/internal/common"
	"github.com/chainwatch/core/internal/metrics"
	pkgconfig "github.com/chainwatch/core/pkg/config"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
)

// jobRow is the meddler row shape for the jobs table.
type jobRow struct {
	ID          int64  `meddler:"id,pk"`
	Queue       string `meddler:"queue"`
	JobKey      string `meddler:"job_key"`
	BlockHash   string `meddler:"block_hash"`
	BlockNumber uint64 `meddler:"block_number"`
	Priority    int    `meddler:"priority"`
	Status      string `meddler:"status"`
	Attempts    int    `meddler:"attempts"`
	LastError   sql.NullString `meddler:"last_error"`
	NextRetryAt int64  `meddler:"next_retry_at"`
	CreatedAt   int64  `meddler:"created_at"`
	UpdatedAt   int64  `meddler:"updated_at"`
}

func (r *jobRow) toJob() *pkgqueue.Job {
	return &pkgqueue.Job{
		ID:          r.ID,
		Queue:       pkgqueue.Name(r.Queue),
		Key:         r.JobKey,
		BlockHash:   common.HexToHash(r.BlockHash),
		BlockNumber: r.BlockNumber,
		Priority:    r.Priority,
		Status:      pkgqueue.Status(r.Status),
		Attempts:    r.Attempts,
		LastError:   r.LastError.String,
		NextRetryAt: time.Unix(r.NextRetryAt, 0),
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		UpdatedAt:   time.Unix(r.UpdatedAt, 0),
	}
}

// Queue is the concrete, SQLite-backed implementation of pkg/queue.Queue.
type Queue struct {
	db     *sql.DB
	locker keyLocker
	cfg    pkgconfig.QueueConfig
}

var _ pkgqueue.Queue = (*Queue)(nil)

// New builds a Queue over db, using a Redis lock when cfg.UsesRedis()
// reports a configured endpoint, falling back to an in-process lock
// otherwise (single-process deployments only).
func New(db *sql.DB, cfg pkgconfig.QueueConfig) (*Queue, error) {
	var locker keyLocker
	if cfg.UsesRedis() {
		l, err := newRedisLocker(cfg.RedisAddr, cfg.LockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("init redis locker: %w", err)
		}
		locker = l
	} else {
		locker = newMemoryLocker()
	}

	return &Queue{db: db, locker: locker, cfg: cfg}, nil
}

func (q *Queue) Close() error {
	return q.locker.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queue pkgqueue.Name, key string, blockHash common.Hash, blockNumber uint64, priority int) error {
	depth, err := q.Depth(ctx, queue)
	if err != nil {
		return err
	}
	if depth >= q.cfg.HighWaterMark {
		return pkgqueue.ErrQueueSaturated
	}

	now := time.Now().Unix()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, job_key, block_hash, block_number, priority, status, attempts, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)
		ON CONFLICT (queue, job_key) WHERE status IN ('pending', 'running') DO NOTHING`,
		string(queue), key, blockHash.Hex(), blockNumber, priority, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsEnqueuedInc(string(queue))
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, queue pkgqueue.Name) (*pkgqueue.Job, error) {
	var candidates []*jobRow
	err := meddler.QueryAll(q.db, &candidates, `
		SELECT * FROM jobs
		WHERE queue = ? AND status = 'pending' AND next_retry_at <= ?
		ORDER BY priority DESC, next_retry_at ASC
		LIMIT 20`,
		string(queue), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("dequeue candidates: %w", err)
	}

	for _, candidate := range candidates {
		ok, err := q.locker.Acquire(ctx, string(queue), candidate.JobKey)
		if err != nil {
			return nil, fmt.Errorf("acquire job lock: %w", err)
		}
		if !ok {
			continue
		}

		res, err := q.db.ExecContext(ctx,
			"UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'",
			time.Now().Unix(), candidate.ID,
		)
		if err != nil {
			_ = q.locker.Release(ctx, string(queue), candidate.JobKey)
			return nil, fmt.Errorf("claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			_ = q.locker.Release(ctx, string(queue), candidate.JobKey)
			continue
		}

		candidate.Status = "running"
		return candidate.toJob(), nil
	}

	return nil, pkgqueue.ErrNoJobAvailable
}

func (q *Queue) Complete(ctx context.Context, job *pkgqueue.Job) error {
	defer func() { _ = q.locker.Release(ctx, string(job.Queue), job.Key) }()

	_, err := q.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ?",
		time.Now().Unix(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	metrics.JobsCompletedInc(string(job.Queue))
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *pkgqueue.Job, cause error) error {
	attempts := job.Attempts + 1
	maxAttempts := q.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if attempts >= maxAttempts {
		defer func() { _ = q.locker.Release(ctx, string(job.Queue), job.Key) }()

		_, err := q.db.ExecContext(ctx,
			"UPDATE jobs SET status = 'poisoned', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?",
			attempts, cause.Error(), time.Now().Unix(), job.ID,
		)
		if err != nil {
			return fmt.Errorf("poison job: %w", err)
		}

		metrics.JobsPoisonedInc(string(job.Queue))
		return chainwatchcommon.NewPoisonedJobError(job.Key, attempts, cause)
	}

	defer func() { _ = q.locker.Release(ctx, string(job.Queue), job.Key) }()

	nextRetryAt := time.Now().Add(backoff(attempts, q.cfg)).Unix()
	_, err := q.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, next_retry_at = ?, updated_at = ? WHERE id = ?",
		attempts, cause.Error(), nextRetryAt, time.Now().Unix(), job.ID,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}

	metrics.JobsRetriedInc(string(job.Queue))
	return nil
}

func (q *Queue) Depth(ctx context.Context, queue pkgqueue.Name) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM jobs WHERE queue = ? AND status IN ('pending', 'running')",
		string(queue),
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}

	metrics.QueueDepthSet(string(queue), depth)
	return depth, nil
}

func backoff(attempt int, cfg pkgconfig.QueueConfig) time.Duration {
	base := float64(cfg.InitialBackoff.Duration) * math.Pow(2, float64(attempt-1))
	maxBackoff := float64(cfg.MaxBackoff.Duration)
	if maxBackoff > 0 && base > maxBackoff {
		base = maxBackoff
	}

	jitterRange := base * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	base += jitter
	if base < 0 {
		base = 0
	}

	return time.Duration(base)
}
