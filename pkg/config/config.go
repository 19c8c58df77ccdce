package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/chainwatch/core/internal/common"
	"github.com/chainwatch/core/internal/logger"
)

// Config represents the complete configuration for the chain-indexing core.
type Config struct {
	// Chain contains the upstream RPC client configuration.
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// DB contains the persistence layer configuration.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Queue contains the job queue configuration.
	Queue QueueConfig `yaml:"queue" json:"queue" toml:"queue"`

	// Cursor contains sync cursor / checkpoint cadence configuration.
	Cursor CursorConfig `yaml:"cursor" json:"cursor" toml:"cursor"`

	// Reorg contains reorg handler configuration.
	Reorg ReorgConfig `yaml:"reorg" json:"reorg" toml:"reorg"`

	// Contracts is the list of contracts to index.
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`

	// Maintenance contains optional database maintenance settings.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// StateSink contains optional external state-push configuration.
	StateSink *StateSinkConfig `yaml:"state_sink,omitempty" json:"state_sink,omitempty" toml:"state_sink,omitempty"`
}

// StateSinkConfig configures the optional push of materialized state
// records to an external system (spec §9 "State sink (optional)").
type StateSinkConfig struct {
	// Endpoint is the HTTP URL state records are POSTed to. Empty means
	// use the logging no-op sink.
	Endpoint string `yaml:"endpoint" json:"endpoint" toml:"endpoint"`

	// Timeout bounds each push request.
	Timeout common.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// ApplyDefaults sets default values for optional state sink fields.
func (s *StateSinkConfig) ApplyDefaults() {
	if s.Timeout.Duration == 0 {
		s.Timeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
}

// ChainConfig represents the upstream RPC client configuration.
type ChainConfig struct {
	// RPCURL is the EVM JSON-RPC endpoint URL.
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// Finality specifies which RPC block tag the adapter treats as
	// canonical-at-height: "finalized", "safe", or "latest".
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider
	// finalized. Only used when Finality is "latest".
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// LogBatchSize is the block range requested per eth_getLogs call
	// before the adapter auto-splits on a too-many-results response.
	LogBatchSize uint64 `yaml:"log_batch_size" json:"log_batch_size" toml:"log_batch_size"`

	// CacheTTL is parsed and defaulted here, but the chain client's
	// idempotent-read cache does not read it: cached responses are kept
	// for the life of the process and never expire.
	CacheTTL common.Duration `yaml:"cache_ttl" json:"cache_ttl" toml:"cache_ttl"`

	// Retry contains RPC retry configuration with exponential backoff.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.Finality == "" {
		c.Finality = "finalized"
	}
	if c.LogBatchSize == 0 {
		c.LogBatchSize = 5000
	}
	if c.CacheTTL.Duration == 0 {
		c.CacheTTL = common.NewDuration(2 * time.Second) //nolint:mnd
	}
	if c.Retry != nil {
		c.Retry.ApplyDefaults()
	}
}

// Validate checks if the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Finality != "finalized" && c.Finality != "safe" && c.Finality != "latest" {
		return fmt.Errorf("chain.finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	return nil
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	// NORMAL provides a good balance between safety and performance
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if d.JournalMode != "" && d.JournalMode != "WAL" && d.JournalMode != "DELETE" &&
		d.JournalMode != "TRUNCATE" && d.JournalMode != "PERSIST" && d.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if d.Synchronous != "" && d.Synchronous != "FULL" && d.Synchronous != "NORMAL" && d.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// QueueConfig represents job queue configuration (§4.C).
type QueueConfig struct {
	// RedisAddr is the Redis endpoint used for the per-job-key mutual
	// exclusion lock. Empty means fall back to an in-process lock,
	// acceptable only for single-process deployments.
	RedisAddr string `yaml:"redis_addr" json:"redis_addr" toml:"redis_addr"`

	// LockTTL bounds how long a held job-key lock survives a crashed worker.
	LockTTL common.Duration `yaml:"lock_ttl" json:"lock_ttl" toml:"lock_ttl"`

	// HighWaterMark is the maximum number of pending jobs per queue
	// before Enqueue returns ErrQueueSaturated.
	HighWaterMark int `yaml:"high_water_mark" json:"high_water_mark" toml:"high_water_mark"`

	// MaxAttempts is the number of attempts before a job is marked Poisoned.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff and MaxBackoff control the retry backoff applied
	// between job attempts.
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// EventsConcurrency and BlockConcurrency size the worker pool for
	// each named queue.
	EventsConcurrency int `yaml:"events_concurrency" json:"events_concurrency" toml:"events_concurrency"`
	BlockConcurrency  int `yaml:"block_concurrency" json:"block_concurrency" toml:"block_concurrency"`

	// PollInterval is how long a worker sleeps after finding no job
	// available before dequeuing again.
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`
}

// ApplyDefaults sets default values for optional queue configuration fields.
func (q *QueueConfig) ApplyDefaults() {
	if q.LockTTL.Duration == 0 {
		q.LockTTL = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if q.HighWaterMark == 0 {
		q.HighWaterMark = 10000 //nolint:mnd
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = 3
	}
	if q.InitialBackoff.Duration == 0 {
		q.InitialBackoff = common.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	if q.MaxBackoff.Duration == 0 {
		q.MaxBackoff = common.NewDuration(1 * time.Minute)
	}
	if q.EventsConcurrency == 0 {
		q.EventsConcurrency = 1
	}
	if q.BlockConcurrency == 0 {
		q.BlockConcurrency = 1
	}
	if q.PollInterval.Duration == 0 {
		q.PollInterval = common.NewDuration(2 * time.Second) //nolint:mnd
	}
}

// Validate checks if the queue configuration is valid.
func (q *QueueConfig) Validate() error {
	if q.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if q.HighWaterMark < 1 {
		return fmt.Errorf("queue.high_water_mark must be at least 1")
	}
	return nil
}

// UsesRedis reports whether a distributed lock backend is configured.
func (q *QueueConfig) UsesRedis() bool {
	return q.RedisAddr != ""
}

// CursorConfig configures the sync cursor manager and the materializer's
// automatic checkpoint cadence.
type CursorConfig struct {
	// StartBlock is the block number to begin indexing from while the
	// latest-indexed cursor is still unset (zero hash at height 0).
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// CheckpointCadence is the number of blocks between automatically
	// materialized checkpoint records per contract, 0 disables automatic
	// checkpointing (manual create-checkpoint still works).
	CheckpointCadence uint64 `yaml:"checkpoint_cadence" json:"checkpoint_cadence" toml:"checkpoint_cadence"`
}

// ApplyDefaults sets default values for optional cursor configuration fields.
func (c *CursorConfig) ApplyDefaults() {
	// StartBlock defaults to 0 (genesis), CheckpointCadence to 0 (disabled).
}

// ReorgConfig configures the reorg handler (§4.H) and the processor's
// parent-backfill bound (§4.F step 2).
type ReorgConfig struct {
	// MaxReorgDepth bounds the ancestor walk used to find the common
	// ancestor between the stored canonical chain and the upstream chain.
	MaxReorgDepth uint64 `yaml:"max_reorg_depth" json:"max_reorg_depth" toml:"max_reorg_depth"`

	// MaxBackfillDepth bounds how many ancestor headers the processor will
	// fetch upstream when a dequeued block's parent is not yet stored
	// locally, before treating the gap as fatal.
	MaxBackfillDepth uint64 `yaml:"max_backfill_depth" json:"max_backfill_depth" toml:"max_backfill_depth"`
}

// ApplyDefaults sets default values for optional reorg configuration fields.
func (r *ReorgConfig) ApplyDefaults() {
	if r.MaxReorgDepth == 0 {
		r.MaxReorgDepth = 256 //nolint:mnd
	}
	if r.MaxBackfillDepth == 0 {
		r.MaxBackfillDepth = 256 //nolint:mnd
	}
}

// Validate checks if the reorg configuration is valid.
func (r *ReorgConfig) Validate() error {
	if r.MaxReorgDepth == 0 {
		return fmt.Errorf("reorg.max_reorg_depth must be greater than zero")
	}
	if r.MaxBackfillDepth == 0 {
		return fmt.Errorf("reorg.max_backfill_depth must be greater than zero")
	}
	return nil
}

// ContractConfig represents a contract to index.
type ContractConfig struct {
	// Address is the contract address to monitor.
	Address string `yaml:"address" json:"address" toml:"address"`

	// Kind selects the registered ABI oracle used to decode this
	// contract's logs (e.g. "erc20", "generic").
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// Checkpoint enables automatic checkpoint materialization for this
	// contract at CursorConfig.CheckpointCadence.
	Checkpoint bool `yaml:"checkpoint" json:"checkpoint" toml:"checkpoint"`
}

// ApplyDefaults sets default values for optional contract configuration fields.
func (c *ContractConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = "generic"
	}
}

// RetentionPolicyConfig represents database retention policy settings.
type RetentionPolicyConfig struct {
	// MaxDBSizeMB is the maximum database size in megabytes (0 = unlimited)
	MaxDBSizeMB uint64 `yaml:"max_db_size_mb"`

	// MaxBlocks is the maximum number of blocks to retain (0 = unlimited)
	MaxBlocks uint64 `yaml:"max_blocks"`
}

// IsEnabled returns true if retention policy should be applied
func (r *RetentionPolicyConfig) IsEnabled() bool {
	return r != nil && (r.MaxDBSizeMB > 0 || r.MaxBlocks > 0)
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	// TRUNCATE is recommended for production (most aggressive space reclamation)
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
	// Enabled defaults to false (zero value)
	// VacuumOnStartup defaults to false (zero value)
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components.
	// Available components are listed in internal/common.AllComponents
	// (chain-client, store, queue, cursor, block-indexer, processor,
	// materializer, reorg-handler, maintenance, state-sink, abi-oracle).
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	// Validate default level
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		// Check if component is valid
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		// Check if level is valid
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Chain.ApplyDefaults()
	c.DB.ApplyDefaults()
	c.Queue.ApplyDefaults()
	c.Cursor.ApplyDefaults()
	c.Reorg.ApplyDefaults()

	for i := range c.Contracts {
		c.Contracts[i].ApplyDefaults()
	}

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}

	if c.StateSink != nil {
		c.StateSink.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Chain.Validate(); err != nil {
		return err
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	if err := c.Queue.Validate(); err != nil {
		return err
	}

	if err := c.Reorg.Validate(); err != nil {
		return err
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if len(c.Contracts) == 0 {
		return fmt.Errorf("at least one contract must be configured")
	}

	seen := make(map[string]bool)
	for i, contract := range c.Contracts {
		if contract.Address == "" {
			return fmt.Errorf("contracts[%d]: address is required", i)
		}
		if seen[contract.Address] {
			return fmt.Errorf("contracts[%d]: duplicate contract address '%s'", i, contract.Address)
		}
		seen[contract.Address] = true
	}

	return nil
}
