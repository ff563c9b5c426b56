package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Persistence metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erc20indexer_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"operation"},
	)

	// Coordinator / indexing metrics, one series per (chain,contract) pair.
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_last_processed_block",
			Help: "The last block number fully processed for a (chain, contract) pair",
		},
		[]string{"chain_id", "contract"},
	)

	Lag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_lag_blocks",
			Help: "head - last_processed_block for a (chain, contract) pair",
		},
		[]string{"chain_id", "contract"},
	)

	TransfersIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_transfers_indexed_total",
			Help: "Total number of Transfer rows written",
		},
		[]string{"chain_id", "contract"},
	)

	BlockProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erc20indexer_block_range_duration_seconds",
			Help:    "Time taken by a Block-Range Worker to process one job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain_id"},
	)

	IndexingRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_indexing_rate_blocks_per_second",
			Help: "Current indexing rate in blocks per second",
		},
		[]string{"chain_id", "contract"},
	)

	// Chunk / error governor metrics
	ChunkMaxPerChain = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_chunk_max_per_chain",
			Help: "Current adaptive chunk size ceiling per chain",
		},
		[]string{"chain_id"},
	)

	MaxResultsExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_max_results_exceeded_total",
			Help: "Total number of max-results-exceeded events observed per chain",
		},
		[]string{"chain_id"},
	)

	BreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erc20indexer_breaker_open",
			Help: "1 if the error governor's circuit breaker is currently open",
		},
	)

	EmergencyShutdowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "erc20indexer_emergency_shutdowns_total",
			Help: "Total number of emergency shutdowns triggered by the error governor",
		},
	)

	// Reorg metrics
	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_reorgs_detected_total",
			Help: "Total number of reorgs detected per chain",
		},
		[]string{"chain_id"},
	)

	ReorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erc20indexer_reorg_depth_blocks",
			Help:    "Depth of detected reorgs in blocks",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50, 100},
		},
		[]string{"chain_id"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_queue_depth",
			Help: "Number of jobs in a given state for a given queue",
		},
		[]string{"queue", "state"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_jobs_completed_total",
			Help: "Total number of jobs completed per queue",
		},
		[]string{"queue"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_jobs_failed_total",
			Help: "Total number of jobs failed per queue",
		},
		[]string{"queue"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erc20indexer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erc20indexer_errors_total",
			Help: "Total number of errors by component and kind",
		},
		[]string{"component", "kind"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "erc20indexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erc20indexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(operation string) {
	dbQueries.WithLabelValues(operation).Inc()
}

func DBQueryDuration(operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(operation).Observe(duration.Seconds())
}

func DBErrorsInc(operation string) {
	dbErrors.WithLabelValues(operation).Inc()
}

func ErrorsInc(component, kind string) {
	Errors.WithLabelValues(component, kind).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	v := float64(1)
	if !healthy {
		v = 0
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

// UpdateSystemMetrics updates runtime system metrics. Call periodically.
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
