package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"db", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwatch_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"db", "error_type"},
	)

	// Block indexer metrics
	LastIndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_last_indexed_block",
			Help: "The last block number successfully indexed",
		},
	)

	LastCanonicalBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_last_canonical_block",
			Help: "The last block number confirmed canonical by the processor",
		},
	)

	BlocksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_blocks_indexed_total",
			Help: "Total number of blocks saved by the block indexer",
		},
	)

	EventsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_events_indexed_total",
			Help: "Total number of events decoded and stored by the block indexer",
		},
	)

	BlockProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainwatch_block_processing_duration_seconds",
			Help:    "Time taken by the block processor to apply one block",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Job queue metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by queue name",
		},
		[]string{"queue"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_jobs_completed_total",
			Help: "Total number of jobs completed successfully, by queue name",
		},
		[]string{"queue"},
	)

	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_jobs_retried_total",
			Help: "Total number of job retry attempts, by queue name",
		},
		[]string{"queue"},
	)

	JobsPoisoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_jobs_poisoned_total",
			Help: "Total number of jobs that exhausted their retry budget, by queue name",
		},
		[]string{"queue"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_queue_depth",
			Help: "Current number of pending jobs, by queue name",
		},
		[]string{"queue"},
	)

	// Reorg handler metrics
	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_reorgs_detected_total",
			Help: "Total number of reorgs detected",
		},
	)

	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainwatch_reorg_depth_blocks",
			Help:    "Depth in blocks of each detected reorg",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// Materializer metrics
	StateRecordsMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_state_records_materialized_total",
			Help: "Total number of state records materialized, by kind",
		},
		[]string{"kind"},
	)

	CheckpointsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_checkpoints_created_total",
			Help: "Total number of checkpoint state records created",
		},
	)

	// Chain client metrics
	ChainRPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_chain_rpc_requests_total",
			Help: "Total number of upstream chain RPC requests, by method",
		},
		[]string{"method"},
	)

	ChainRPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_chain_rpc_retries_total",
			Help: "Total number of upstream chain RPC retry attempts, by method",
		},
		[]string{"method"},
	)

	ChainCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainwatch_chain_cache_hits_total",
			Help: "Total number of idempotent-read cache hits in the chain client adapter",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwatch_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(db string, operation string) {
	dbQueries.WithLabelValues(db, operation).Inc()
}

func DBQueryDuration(db string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(db, operation).Observe(duration.Seconds())
}

func DBErrorsInc(db string, errorType string) {
	dbErrors.WithLabelValues(db, errorType).Inc()
}

func BlockProcessingTimeLog(duration time.Duration) {
	BlockProcessingTime.Observe(duration.Seconds())
}

func LastIndexedBlockSet(blockNum uint64) {
	LastIndexedBlock.Set(float64(blockNum))
}

func LastCanonicalBlockSet(blockNum uint64) {
	LastCanonicalBlock.Set(float64(blockNum))
}

func BlocksIndexedInc() {
	BlocksIndexed.Inc()
}

func EventsIndexedInc(count int) {
	EventsIndexed.Add(float64(count))
}

func JobsEnqueuedInc(queue string) {
	JobsEnqueued.WithLabelValues(queue).Inc()
}

func JobsCompletedInc(queue string) {
	JobsCompleted.WithLabelValues(queue).Inc()
}

func JobsRetriedInc(queue string) {
	JobsRetried.WithLabelValues(queue).Inc()
}

func JobsPoisonedInc(queue string) {
	JobsPoisoned.WithLabelValues(queue).Inc()
}

func QueueDepthSet(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func ReorgDetectedInc() {
	ReorgsDetected.Inc()
}

func ReorgDepthLog(depth uint64) {
	ReorgDepth.Observe(float64(depth))
}

func StateRecordMaterializedInc(kind string) {
	StateRecordsMaterialized.WithLabelValues(kind).Inc()
}

func CheckpointCreatedInc() {
	CheckpointsCreated.Inc()
}

func ChainRPCRequestInc(method string) {
	ChainRPCRequests.WithLabelValues(method).Inc()
}

func ChainRPCRetryInc(method string) {
	ChainRPCRetries.WithLabelValues(method).Inc()
}

func ChainCacheHitInc() {
	ChainCacheHits.Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
