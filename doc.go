// Package tablemirror keeps target database tables as full-refresh mirrors
// of their source tables.
//
// Each sync cycle walks the configured source/target pairs table by table:
// the source table is probed for its column list and row count, the target
// table is truncated, and every row is re-copied in fixed-size chunks. Tables
// large enough to benefit are read by a bounded pool of concurrent readers
// feeding a single writer through a fixed-capacity queue; smaller tables take
// the same chunk logic sequentially. Every table sync ends in exactly one
// history entry, success or failure, and a failed table never stops the rest
// of the cycle.
//
// # Quick Start
//
// Wire the engine from a configuration file and run one cycle:
//
//	import (
//	    "context"
//
//	    "github.com/tablemirror/tablemirror/internal/engine"
//	    "github.com/tablemirror/tablemirror/pkg/config"
//	    "github.com/tablemirror/tablemirror/pkg/store"
//	    "github.com/tablemirror/tablemirror/pkg/synclog"
//	)
//
//	cfg, err := config.LoadFile("tablemirror.yaml")
//	provider, err := store.NewProvider(cfg.Stores)
//	history, err := synclog.Open(cfg.SyncLog.MaxEntries, cfg.SyncLog.Path)
//
//	eng := engine.New(provider, history, cfg.Engine)
//	err = eng.SyncAll(context.Background(), cfg.Pairs)
//
// Or use the CLI:
//
//	tablemirror run --config tablemirror.yaml
//	tablemirror serve --config tablemirror.yaml
//
// # Key Packages
//
//	internal/engine  - Chunked replication engine (probe, truncate, copy)
//	pkg/store        - Named database connections and SQL dialects
//	pkg/synclog      - Bounded sync history with SQLite persistence
//	pkg/scheduler    - Periodic cycle trigger
//	pkg/api          - HTTP surface for history, stats and manual syncs
//	pkg/config       - YAML configuration with environment substitution
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus collectors
//
// # Replication Model
//
// The copy is a full refresh: no change tracking, no watermarks, no schema
// migration. Consistency is at chunk granularity, with one transaction
// committed per chunk:
//   - A table that syncs cleanly replaces its target contents entirely.
//   - A failed chunk read skips that chunk, marks the table failed, and
//     leaves every other chunk written.
//   - A failed table is retried naturally on the next cycle, since cycles
//     are idempotent.
//
// Supported stores: PostgreSQL, MySQL, SQLite and Snowflake, all through
// database/sql with per-dialect SQL generation.
//
// # Operations
//
// The serve mode runs cycles on an interval and exposes an HTTP API:
//
//	GET  /api/v1/history  - recent sync entries, newest first
//	GET  /api/v1/stats    - aggregate success/failure counts
//	POST /api/v1/sync     - trigger a cycle (409 while one is running)
//	GET  /healthz         - store connectivity
//	GET  /metrics         - Prometheus metrics
//
// Environment variables are supported in configuration with ${VAR_NAME}
// syntax, and a .env file is loaded when present.
package tablemirror
