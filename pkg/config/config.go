package config

import (
	"fmt"
	"time"
)

// Config is the complete configuration for a running engine instance.
type Config struct {
	// Chains is the static topology: one entry per managed chain.
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// DB contains the relational store configuration.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains the background VACUUM/WAL-checkpoint schedule.
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance" toml:"maintenance"`

	// Queue contains the durable job queue configuration.
	Queue QueueConfig `yaml:"queue" json:"queue" toml:"queue"`

	// Engine contains the operational knobs from spec §6.6.
	Engine EngineConfig `yaml:"engine" json:"engine" toml:"engine"`

	// API contains control-plane HTTP server configuration.
	API APIConfig `yaml:"api" json:"api" toml:"api"`
}

// ChainConfig describes one EVM chain under management, its provider list
// and the contracts indexed on it.
type ChainConfig struct {
	ChainID    uint64           `yaml:"chain_id" json:"chain_id" toml:"chain_id"`
	Name       string           `yaml:"name" json:"name" toml:"name"`
	Providers  []ProviderConfig `yaml:"providers" json:"providers" toml:"providers"`
	StartBlock uint64           `yaml:"start_block" json:"start_block" toml:"start_block"`
	Contracts  []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`
	RPCDelayMS int              `yaml:"rpc_delay_ms" json:"rpc_delay_ms" toml:"rpc_delay_ms"`
}

// ProviderConfig is one RPC endpoint in a chain's ordered failover list.
type ProviderConfig struct {
	Name          string        `yaml:"name" json:"name" toml:"name"`
	URL           string        `yaml:"url" json:"url" toml:"url"`
	BlockRange    uint64        `yaml:"block_range" json:"block_range" toml:"block_range"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts" toml:"retry_attempts"`
}

// ContractConfig is one ERC-20 contract monitored for Transfer events.
type ContractConfig struct {
	Address  string `yaml:"address" json:"address" toml:"address"`
	Name     string `yaml:"name" json:"name" toml:"name"`
	Symbol   string `yaml:"symbol" json:"symbol" toml:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals" toml:"decimals"`
	Active   bool   `yaml:"active" json:"active" toml:"active"`
}

// DatabaseConfig mirrors the teacher's SQLite configuration surface.
type DatabaseConfig struct {
	Path               string `yaml:"path" json:"path" toml:"path"`
	JournalMode        string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous        string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeout        int    `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`
	CacheSize          int    `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
	MaxOpenConnections int    `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
	EnableForeignKeys  bool   `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	// RetentionMaxAgeBlocks is handed to the SQLite store, which keeps the
	// value; no code prunes transfers with it, so it has no effect.
	RetentionMaxAgeBlocks uint64 `yaml:"retention_max_age_blocks" json:"retention_max_age_blocks" toml:"retention_max_age_blocks"`
}

// ApplyDefaults sets the SQLite defaults used by the teacher's store.
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
}

// MaintenanceConfig schedules background VACUUM/WAL-checkpoint passes over
// the SQLite store.
type MaintenanceConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	CheckInterval     time.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	VacuumOnStartup   bool          `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	WALCheckpointMode string        `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults fills in the maintenance schedule defaults.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval == 0 {
		m.CheckInterval = 15 * time.Minute
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// QueueConfig configures the Redis-backed durable job queue.
type QueueConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	Password string `yaml:"password" json:"password" toml:"password"`
	DB       int    `yaml:"db" json:"db" toml:"db"`

	BlockRangeWorkers int `yaml:"block_range_workers" json:"block_range_workers" toml:"block_range_workers"`
	CatchupWorkers    int `yaml:"catchup_workers" json:"catchup_workers" toml:"catchup_workers"`
	ReorgWorkers      int `yaml:"reorg_workers" json:"reorg_workers" toml:"reorg_workers"`

	MaxPendingPerWorker int `yaml:"max_pending_per_worker" json:"max_pending_per_worker" toml:"max_pending_per_worker"`

	CompletedRetention int           `yaml:"completed_retention" json:"completed_retention" toml:"completed_retention"`
	FailedRetention    int           `yaml:"failed_retention" json:"failed_retention" toml:"failed_retention"`
	StallTimeout       time.Duration `yaml:"stall_timeout" json:"stall_timeout" toml:"stall_timeout"`
	MaxStalledCount    int           `yaml:"max_stalled_count" json:"max_stalled_count" toml:"max_stalled_count"`
}

// ApplyDefaults fills in queue defaults per spec §4.6/§6.5.
func (q *QueueConfig) ApplyDefaults() {
	if q.Addr == "" {
		q.Addr = "localhost:6379"
	}
	if q.BlockRangeWorkers == 0 {
		q.BlockRangeWorkers = 4
	}
	if q.CatchupWorkers == 0 {
		q.CatchupWorkers = 2
	}
	if q.ReorgWorkers == 0 {
		q.ReorgWorkers = 1
	}
	if q.MaxPendingPerWorker == 0 {
		q.MaxPendingPerWorker = 2
	}
	if q.CompletedRetention == 0 {
		q.CompletedRetention = 1000
	}
	if q.FailedRetention == 0 {
		q.FailedRetention = 5000
	}
	if q.StallTimeout == 0 {
		q.StallTimeout = 60 * time.Second
	}
	if q.MaxStalledCount == 0 {
		q.MaxStalledCount = 2
	}
}

// EngineConfig holds the operational knobs of spec §6.6.
type EngineConfig struct {
	PollingInterval   time.Duration `yaml:"polling_interval" json:"polling_interval" toml:"polling_interval" envconfig:"POLLING_INTERVAL"`
	RealtimeThreshold uint64        `yaml:"realtime_threshold" json:"realtime_threshold" toml:"realtime_threshold" envconfig:"REALTIME_THRESHOLD"`
	CatchupThreshold  uint64        `yaml:"catchup_threshold" json:"catchup_threshold" toml:"catchup_threshold" envconfig:"CATCHUP_THRESHOLD"`
	MinCatchupChunk   uint64        `yaml:"min_catchup_chunk_size" json:"min_catchup_chunk_size" toml:"min_catchup_chunk_size" envconfig:"MIN_CATCHUP_CHUNK_SIZE"`
	MaxCatchupChunk   uint64        `yaml:"max_catchup_chunk_size" json:"max_catchup_chunk_size" toml:"max_catchup_chunk_size" envconfig:"MAX_CATCHUP_CHUNK_SIZE"`

	ReorgCheckDepth      uint64        `yaml:"reorg_check_depth" json:"reorg_check_depth" toml:"reorg_check_depth" envconfig:"REORG_CHECK_DEPTH"`
	ReorgMaxWalkback     uint64        `yaml:"reorg_max_walkback" json:"reorg_max_walkback" toml:"reorg_max_walkback" envconfig:"REORG_MAX_WALKBACK"`
	DefaultConfirmations uint64        `yaml:"blockchain_default_confirmations" json:"blockchain_default_confirmations" toml:"blockchain_default_confirmations" envconfig:"BLOCKCHAIN_DEFAULT_CONFIRMATIONS"`
	RPCTimeout           time.Duration `yaml:"blockchain_timeout" json:"blockchain_timeout" toml:"blockchain_timeout" envconfig:"BLOCKCHAIN_TIMEOUT"`
	RPCRetryAttempts     int           `yaml:"blockchain_retry_attempts" json:"blockchain_retry_attempts" toml:"blockchain_retry_attempts" envconfig:"BLOCKCHAIN_RETRY_ATTEMPTS"`

	MaxConsecutiveErrors uint64        `yaml:"max_consecutive_errors" json:"max_consecutive_errors" toml:"max_consecutive_errors" envconfig:"MAX_CONSECUTIVE_ERRORS"`
	MaxErrorsPerHour     uint64        `yaml:"max_errors_per_hour" json:"max_errors_per_hour" toml:"max_errors_per_hour" envconfig:"MAX_ERRORS_PER_HOUR"`
	BreakerTimeout       time.Duration `yaml:"breaker_timeout" json:"breaker_timeout" toml:"breaker_timeout" envconfig:"BREAKER_TIMEOUT"`

	CatchUpRepeatWindow time.Duration `yaml:"catchup_repeat_window" json:"catchup_repeat_window" toml:"catchup_repeat_window" envconfig:"CATCHUP_REPEAT_WINDOW"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" json:"shutdown_grace_period" toml:"shutdown_grace_period" envconfig:"SHUTDOWN_GRACE_PERIOD"`
	HealthCronInterval  time.Duration `yaml:"health_cron_interval" json:"health_cron_interval" toml:"health_cron_interval" envconfig:"HEALTH_CRON_INTERVAL"`
	StuckThreshold      time.Duration `yaml:"stuck_threshold" json:"stuck_threshold" toml:"stuck_threshold" envconfig:"STUCK_THRESHOLD"`
}

// ApplyDefaults fills in the engine defaults named in spec §4.2-§4.3/§6.6.
func (e *EngineConfig) ApplyDefaults() {
	if e.PollingInterval == 0 {
		e.PollingInterval = 10 * time.Second
	}
	if e.RealtimeThreshold == 0 {
		e.RealtimeThreshold = 1
	}
	if e.CatchupThreshold == 0 {
		e.CatchupThreshold = 50
	}
	if e.MinCatchupChunk == 0 {
		e.MinCatchupChunk = 10
	}
	if e.MaxCatchupChunk == 0 {
		e.MaxCatchupChunk = 50
	}
	if e.ReorgCheckDepth == 0 {
		e.ReorgCheckDepth = 10
	}
	if e.ReorgMaxWalkback == 0 {
		e.ReorgMaxWalkback = 100
	}
	if e.DefaultConfirmations == 0 {
		e.DefaultConfirmations = 2
	}
	if e.RPCTimeout == 0 {
		e.RPCTimeout = 30 * time.Second
	}
	if e.RPCRetryAttempts == 0 {
		e.RPCRetryAttempts = 3
	}
	if e.MaxConsecutiveErrors == 0 {
		e.MaxConsecutiveErrors = 10
	}
	if e.MaxErrorsPerHour == 0 {
		e.MaxErrorsPerHour = 50
	}
	if e.BreakerTimeout == 0 {
		e.BreakerTimeout = 5 * time.Minute
	}
	if e.CatchUpRepeatWindow == 0 {
		e.CatchUpRepeatWindow = 3 * time.Second
	}
	if e.ShutdownGracePeriod == 0 {
		e.ShutdownGracePeriod = 30 * time.Second
	}
	if e.HealthCronInterval == 0 {
		e.HealthCronInterval = time.Minute
	}
	if e.StuckThreshold == 0 {
		e.StuckThreshold = 5 * time.Minute
	}
}

// APIConfig configures the operator-facing control plane.
type APIConfig struct {
	ListenAddr  string `yaml:"listen_addr" json:"listen_addr" toml:"listen_addr" envconfig:"API_LISTEN_ADDR"`
	APIKey      string `yaml:"api_key" json:"api_key" toml:"api_key" envconfig:"API_KEY"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" toml:"metrics_addr" envconfig:"METRICS_LISTEN_ADDR"`
}

// ApplyDefaults fills in every section's defaults.
func (c *Config) ApplyDefaults() {
	c.DB.ApplyDefaults()
	c.Maintenance.ApplyDefaults()
	c.Queue.ApplyDefaults()
	c.Engine.ApplyDefaults()
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MetricsAddr == "" {
		c.API.MetricsAddr = ":9090"
	}
	for i := range c.Chains {
		for j := range c.Chains[i].Providers {
			p := &c.Chains[i].Providers[j]
			if p.Timeout == 0 {
				p.Timeout = c.Engine.RPCTimeout
			}
			if p.RetryAttempts == 0 {
				p.RetryAttempts = c.Engine.RPCRetryAttempts
			}
		}
	}
}

// Validate checks the configuration for obvious misconfigurations, the way
// the teacher's pkg/config.Config.Validate does for its own shape.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	seenChains := make(map[uint64]bool)
	for i, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chains[%d]: chain_id is required", i)
		}
		if seenChains[chain.ChainID] {
			return fmt.Errorf("chains[%d]: duplicate chain_id %d", i, chain.ChainID)
		}
		seenChains[chain.ChainID] = true

		if len(chain.Providers) == 0 {
			return fmt.Errorf("chains[%d] (%d): at least one provider is required", i, chain.ChainID)
		}
		for j, p := range chain.Providers {
			if p.URL == "" {
				return fmt.Errorf("chains[%d] (%d), providers[%d]: url is required", i, chain.ChainID, j)
			}
		}
		for j, contract := range chain.Contracts {
			if contract.Address == "" {
				return fmt.Errorf("chains[%d] (%d), contracts[%d]: address is required", i, chain.ChainID, j)
			}
		}
	}

	return nil
}
