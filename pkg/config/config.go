// Package config provides the unified configuration system for tablemirror.
// It defines a single Config structure covering every part of the service,
// loaded from YAML with environment variable substitution.
//
// The configuration is organized into logical sections:
//   - Stores: named data store connections (driver + DSN)
//   - Pairs: source→target table lists to mirror
//   - Engine: chunking, worker, batching and timeout tunables
//   - SyncLog: history retention and durability
//   - Scheduler: periodic sync cadence
//   - API: HTTP status/history surface
//   - Logging, Tracing: observability
//
// Example usage:
//
//	cfg, err := config.LoadFile("tablemirror.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the tablemirror service.
type Config struct {
	// Stores maps store ids to connection settings
	Stores map[string]StoreConfig `yaml:"stores" json:"stores"`

	// Pairs lists the source→target replication pairs
	Pairs []SyncPair `yaml:"pairs" json:"pairs"`

	// Engine holds the replication engine tunables
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// SyncLog controls sync history retention and durability
	SyncLog SyncLogConfig `yaml:"sync_log" json:"sync_log"`

	// Scheduler controls the periodic sync trigger
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// API configures the HTTP status/history surface
	API APIConfig `yaml:"api" json:"api"`

	// Logging configures structured log output
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Tracing configures span export
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// StoreConfig describes one named data store connection.
type StoreConfig struct {
	// Driver selects the database driver (postgres, mysql, sqlite, snowflake)
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string; ${VAR} refs are expanded
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns caps the pool size (0 = driver default)
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	// MaxIdleConns caps idle pooled connections
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
	// ConnMaxLifetime recycles connections older than this
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// SyncPair names a source store, a target store and the tables to mirror.
// Immutable for the duration of one sync cycle.
type SyncPair struct {
	// Name labels the pair in logs and the API; defaults to "source->target"
	Name string `yaml:"name" json:"name"`
	// Source is the id of the store rows are read from
	Source string `yaml:"source" json:"source"`
	// Target is the id of the store rows are written to
	Target string `yaml:"target" json:"target"`
	// Tables lists the table names to mirror, in order
	Tables []string `yaml:"tables" json:"tables"`
}

// DisplayName returns the pair's label for logs and history entries.
func (p *SyncPair) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Source + "->" + p.Target
}

// EngineConfig contains the replication engine tunables.
type EngineConfig struct {
	// ChunkSize is the number of rows read and committed as one unit
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ReaderWorkers is the parallel-mode reader pool size
	ReaderWorkers int `yaml:"reader_workers" json:"reader_workers"`
	// SubBatchSize is the number of rows per insert statement within a chunk
	SubBatchSize int `yaml:"sub_batch_size" json:"sub_batch_size"`
	// Multithreading enables the parallel path for large tables
	Multithreading bool `yaml:"multithreading" json:"multithreading"`
	// MultithreadingThreshold is the row count at which the parallel path kicks in
	MultithreadingThreshold int64 `yaml:"multithreading_threshold" json:"multithreading_threshold"`
	// WriterDequeueTimeout bounds a single writer wait for the next chunk
	WriterDequeueTimeout time.Duration `yaml:"writer_dequeue_timeout" json:"writer_dequeue_timeout"`
	// ReadRateLimit throttles chunk reads per second across a job's readers (0 = unlimited)
	ReadRateLimit float64 `yaml:"read_rate_limit" json:"read_rate_limit"`
}

// SyncLogConfig controls the sync history store.
type SyncLogConfig struct {
	// MaxEntries caps the in-memory and persisted history (oldest evicted first)
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// Path is the SQLite history file; empty disables durability
	Path string `yaml:"path" json:"path"`
}

// SchedulerConfig controls the periodic sync trigger.
type SchedulerConfig struct {
	// Enabled starts the periodic trigger in serve mode
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval is the time between sync cycle starts
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// APIConfig configures the HTTP status/history server.
type APIConfig struct {
	// Enabled starts the HTTP server in serve mode
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Listen is the address the server binds to
	Listen string `yaml:"listen" json:"listen"`
	// ReadTimeout bounds request reads
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout bounds response writes
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Encoding selects json or console output
	Encoding string `yaml:"encoding" json:"encoding"`
	// Development enables colored levels and error stacktraces
	Development bool `yaml:"development" json:"development"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns on span recording
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Exporter selects the span exporter (stdout)
	Exporter string `yaml:"exporter" json:"exporter"`
}

// New creates a Config with production-ready defaults. Loading a YAML file
// overlays onto these, so omitted keys keep their default values.
func New() *Config {
	return &Config{
		Stores: make(map[string]StoreConfig),
		Engine: EngineConfig{
			ChunkSize:               10000,
			ReaderWorkers:           4,
			SubBatchSize:            1000,
			Multithreading:          true,
			MultithreadingThreshold: 500000,
			WriterDequeueTimeout:    30 * time.Minute,
			ReadRateLimit:           0,
		},
		SyncLog: SyncLogConfig{
			MaxEntries: 1000,
			Path:       "tablemirror_history.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		API: APIConfig{
			Enabled:      true,
			Listen:       ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges,
// so misconfiguration is rejected before the engine runs.
func (c *Config) Validate() error {
	for id, store := range c.Stores {
		if store.Driver == "" {
			return fmt.Errorf("store %q: driver is required", id)
		}
		if store.DSN == "" {
			return fmt.Errorf("store %q: dsn is required", id)
		}
	}
	for i, pair := range c.Pairs {
		if pair.Source == "" || pair.Target == "" {
			return fmt.Errorf("pair %d: source and target are required", i)
		}
		if _, ok := c.Stores[pair.Source]; !ok {
			return fmt.Errorf("pair %q: unknown source store %q", pair.DisplayName(), pair.Source)
		}
		if _, ok := c.Stores[pair.Target]; !ok {
			return fmt.Errorf("pair %q: unknown target store %q", pair.DisplayName(), pair.Target)
		}
		if len(pair.Tables) == 0 {
			return fmt.Errorf("pair %q: at least one table is required", pair.DisplayName())
		}
		for _, table := range pair.Tables {
			if table == "" {
				return fmt.Errorf("pair %q: empty table name", pair.DisplayName())
			}
		}
	}
	if c.Engine.ChunkSize <= 0 {
		return fmt.Errorf("engine.chunk_size must be positive")
	}
	if c.Engine.ReaderWorkers <= 0 {
		return fmt.Errorf("engine.reader_workers must be positive")
	}
	if c.Engine.SubBatchSize <= 0 {
		return fmt.Errorf("engine.sub_batch_size must be positive")
	}
	if c.Engine.MultithreadingThreshold < 0 {
		return fmt.Errorf("engine.multithreading_threshold cannot be negative")
	}
	if c.Engine.WriterDequeueTimeout <= 0 {
		return fmt.Errorf("engine.writer_dequeue_timeout must be positive")
	}
	if c.Engine.ReadRateLimit < 0 {
		return fmt.Errorf("engine.read_rate_limit cannot be negative")
	}
	if c.SyncLog.MaxEntries <= 0 {
		return fmt.Errorf("sync_log.max_entries must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	return nil
}
