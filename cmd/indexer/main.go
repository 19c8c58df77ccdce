package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/core/internal/abioracle"
	"github.com/chainwatch/core/internal/blockindexer"
	"github.com/chainwatch/core/internal/chain"
	appcommon "github.com/chainwatch/core/internal/common"
	"github.com/chainwatch/core/internal/config"
	"github.com/chainwatch/core/internal/db"
	"github.com/chainwatch/core/internal/discovery"
	"github.com/chainwatch/core/internal/logger"
	"github.com/chainwatch/core/internal/materializer"
	"github.com/chainwatch/core/internal/metrics"
	"github.com/chainwatch/core/internal/migrations"
	"github.com/chainwatch/core/internal/processor"
	"github.com/chainwatch/core/internal/queue"
	"github.com/chainwatch/core/internal/reorg"
	"github.com/chainwatch/core/internal/statesink"
	"github.com/chainwatch/core/internal/store"
	"github.com/chainwatch/core/internal/worker"
	pkgconfig "github.com/chainwatch/core/pkg/config"
	pkgqueue "github.com/chainwatch/core/pkg/queue"
	pkgstatesink "github.com/chainwatch/core/pkg/statesink"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainWatch Core v%s            ║
║   Blockchain Event Indexing Framework     ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "chainwatch core - blockchain event indexing framework",
	Long: `chainwatch core is a reorg-aware framework for indexing blockchain events
into content-addressed materialized state, with a durable job queue driving
ingestion and processing.`,
	Version: version,
	RunE:    runIndexer,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered ABI oracle contract kinds",
	Run: func(cmd *cobra.Command, args []string) {
		kinds := abioracle.DefaultRegistry().RegisteredKinds()
		if len(kinds) == 0 {
			fmt.Println("  (no contract kinds registered)")
			return
		}
		fmt.Println("Registered contract kinds:")
		for _, k := range kinds {
			fmt.Printf("  - %s\n", k)
		}
	},
}

var createCheckpointCmd = &cobra.Command{
	Use:   "create-checkpoint <contract> [blockHash]",
	Short: "Materialize a checkpoint record for a contract",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCreateCheckpoint,
}

var resetToBlockCmd = &cobra.Command{
	Use:   "reset-to-block <blockNumber>",
	Short: "Force-rewind cursors and prune above a block number",
	Args:  cobra.ExactArgs(1),
	RunE:  runResetToBlock,
}

var fillStateCmd = &cobra.Command{
	Use:   "fill-state <start> <end>",
	Short: "Backfill init/diff/checkpoint records over a historical range",
	Args:  cobra.ExactArgs(2),
	RunE:  runFillState,
}

var (
	fillStateContract     string
	fillStateCheckpointAt uint64
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	fillStateCmd.Flags().StringVar(&fillStateContract, "contract", "", "contract address to replay (required)")
	fillStateCmd.Flags().Uint64Var(&fillStateCheckpointAt, "checkpoint-at", 0, "block number within range to materialize as a checkpoint instead of a diff")
	_ = fillStateCmd.MarkFlagRequired("contract")

	rootCmd.AddCommand(listCmd, createCheckpointCmd, resetToBlockCmd, fillStateCmd)
}

// runtime bundles every collaborator the long-running process and the
// operator CLI subcommands both need, wired from one loaded Config.
type runtime struct {
	cfg     *pkgconfig.Config
	log     *logger.Logger
	sqlDB   *sql.DB
	chain   *chain.Client
	store   *store.Store
	queue   *queue.Queue
	indexer *blockindexer.Indexer
	reorg   *reorg.Handler
	mat     *materializer.Materializer
	sink    pkgstatesink.Sink
	proc    *processor.Processor
	maint   db.Maintenance
}

func loggingConfig(cfg *pkgconfig.Config) logger.LoggingConfig {
	if cfg.Logging == nil {
		return nil
	}
	return cfg.Logging
}

func buildRuntime(ctx context.Context, cfg *pkgconfig.Config) (*runtime, error) {
	log := logger.NewComponentLoggerFromConfig(appcommon.ComponentChainClient, loggingConfig(cfg)).WithComponent("main")

	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	chainClient, err := chain.New(ctx, cfg.Chain)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect to chain: %w", err)
	}

	st := store.New(sqlDB)

	q, err := queue.New(sqlDB, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	maint := db.NewMaintenanceCoordinator(cfg.DB.Path, sqlDB, cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(appcommon.ComponentMaintenance, loggingConfig(cfg)))

	oracle := abioracle.DefaultRegistry()
	ix := blockindexer.New(chainClient, st, oracle, q, logger.NewComponentLoggerFromConfig(appcommon.ComponentBlockIndexer, loggingConfig(cfg)))
	reorgHandler := reorg.New(chainClient, cfg.Reorg.MaxReorgDepth, maint, logger.NewComponentLoggerFromConfig(appcommon.ComponentReorgHandler, loggingConfig(cfg)))
	mat := materializer.New()

	var sink pkgstatesink.Sink
	sinkLog := logger.NewComponentLoggerFromConfig(appcommon.ComponentStateSink, loggingConfig(cfg))
	if cfg.StateSink != nil && cfg.StateSink.Endpoint != "" {
		sink = statesink.NewHTTPSink(cfg.StateSink.Endpoint, cfg.StateSink.Timeout.Duration, sinkLog)
	} else {
		sink = statesink.NewNoopSink(sinkLog)
	}

	proc := processor.New(
		chainClient, st, ix, reorgHandler, mat, sink, maint,
		cfg.Reorg.MaxBackfillDepth, cfg.Cursor.CheckpointCadence,
		logger.NewComponentLoggerFromConfig(appcommon.ComponentProcessor, loggingConfig(cfg)),
	)

	return &runtime{
		cfg: cfg, log: log, sqlDB: sqlDB, chain: chainClient, store: st, queue: q,
		indexer: ix, reorg: reorgHandler, mat: mat, sink: sink, proc: proc, maint: maint,
	}, nil
}

func (r *runtime) Close() {
	if err := r.maint.Stop(); err != nil {
		r.log.Warnw("failed to stop maintenance coordinator", "error", err)
	}
	if err := r.queue.Close(); err != nil {
		r.log.Warnw("failed to close queue", "error", err)
	}
	r.chain.Close()
	if err := r.sqlDB.Close(); err != nil {
		r.log.Warnw("failed to close database", "error", err)
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down gracefully...")
		cancel()
	}()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.maint.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance coordinator: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				rt.log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
		rt.log.Infow("metrics server started", "address", cfg.Metrics.ListenAddress, "path", cfg.Metrics.Path)
	}

	watcher := discovery.New(rt.chain, rt.store, rt.queue, cfg.Cursor.StartBlock, rt.log)
	blockPool := worker.New(rt.queue, pkgqueue.Block, cfg.Queue.BlockConcurrency, cfg.Queue.PollInterval.Duration, rt.indexer.HandleJob, rt.log)
	eventsPool := worker.New(rt.queue, pkgqueue.Events, cfg.Queue.EventsConcurrency, cfg.Queue.PollInterval.Duration, rt.proc.Process, rt.log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return watcher.Run(groupCtx) })
	group.Go(func() error { return blockPool.Run(groupCtx) })
	group.Go(func() error { return eventsPool.Run(groupCtx) })

	rt.log.Info("chainwatch core started")
	if err := group.Wait(); err != nil {
		return fmt.Errorf("indexer stopped with error: %w", err)
	}

	rt.log.Info("chainwatch core stopped")
	return nil
}

func runCreateCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	contract := common.HexToAddress(args[0])
	var blockHash common.Hash
	if len(args) == 2 {
		blockHash = common.HexToHash(args[1])
	}

	if err := rt.proc.CreateCheckpointAt(ctx, contract, blockHash); err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	fmt.Printf("checkpoint created for %s\n", contract.Hex())
	return nil
}

func runResetToBlock(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	blockNumber, err := appcommon.ParseUint64orHex(&args[0])
	if err != nil {
		return fmt.Errorf("parse block number %q: %w", args[0], err)
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.proc.ResetToBlock(ctx, blockNumber); err != nil {
		return fmt.Errorf("reset to block: %w", err)
	}
	fmt.Printf("cursors reset to block %d\n", blockNumber)
	return nil
}

func runFillState(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	start, err := appcommon.ParseUint64orHex(&args[0])
	if err != nil {
		return fmt.Errorf("parse start block %q: %w", args[0], err)
	}
	end, err := appcommon.ParseUint64orHex(&args[1])
	if err != nil {
		return fmt.Errorf("parse end block %q: %w", args[1], err)
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	contract := common.HexToAddress(fillStateContract)
	checkpointAt := fillStateCheckpointAt
	if checkpointAt == 0 {
		checkpointAt = end
	}

	if err := rt.proc.FillState(ctx, contract, start, end, checkpointAt); err != nil {
		return fmt.Errorf("fill state: %w", err)
	}
	fmt.Printf("filled state for %s over [%d, %d]\n", contract.Hex(), start, end)
	return nil
}
