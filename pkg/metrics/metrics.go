// Package metrics provides Prometheus metrics for the replication engine.
//
// # Overview
//
// The metrics package provides:
//   - Pre-defined collectors for table syncs, chunks and queue depth
//   - Throughput tracking utilities
//   - Thread-safe metric recording
//   - Automatic metric registration via promauto
//
// # Basic Usage
//
//	// Count a finished table sync
//	metrics.TableSyncs.WithLabelValues("src", "dst", "success").Inc()
//
//	// Track chunk queue depth while a parallel sync runs
//	metrics.ChunkQueueDepth.WithLabelValues("orders").Set(float64(len(queue)))
//
//	// Track per-table throughput
//	tracker := metrics.NewThroughputTracker("src", "dst")
//	tracker.Increment(int64(len(chunkRows)))
//	rowsPerSec := tracker.GetAndReset()
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsSynced tracks the total number of rows committed to targets.
	// Labels: source (store id), destination (store id)
	//
	// Example:
	//	metrics.RowsSynced.WithLabelValues("orders_primary", "reporting").Add(10000)
	RowsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablemirror_rows_synced_total",
			Help: "Total number of rows committed to target stores",
		},
		[]string{"source", "destination"},
	)

	// ChunksProcessed tracks processed chunks by result.
	// Labels: result (ok/read_error/write_error)
	ChunksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablemirror_chunks_processed_total",
			Help: "Total number of chunks processed by result",
		},
		[]string{"result"},
	)

	// TableSyncs tracks finished table-sync attempts.
	// Labels: source, destination, status (success/error)
	TableSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablemirror_table_syncs_total",
			Help: "Total number of table sync attempts",
		},
		[]string{"source", "destination", "status"},
	)

	// TableSyncDuration tracks the distribution of table sync durations.
	// Labels: mode (single/parallel)
	TableSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tablemirror_table_sync_duration_seconds",
			Help: "Table sync duration in seconds",
			Buckets: []float64{
				0.1,  // trivial tables
				0.5,
				1,
				5,
				15,
				60,   // 1m
				300,  // 5m
				900,  // 15m
				3600, // 1h - near the writer stall ceiling
			},
		},
		[]string{"mode"},
	)

	// ChunkQueueDepth tracks the bounded queue depth per table while a
	// parallel sync runs. Labels: table
	ChunkQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemirror_chunk_queue_depth",
			Help: "Current chunk queue depth",
		},
		[]string{"table"},
	)

	// SyncCycles counts completed sync cycles
	SyncCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablemirror_sync_cycles_total",
			Help: "Total number of completed sync cycles",
		},
	)

	// ActiveTableSyncs tracks tables currently being synced
	ActiveTableSyncs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablemirror_active_table_syncs",
			Help: "Number of table syncs currently running",
		},
	)

	// Throughput tracks rows per second per pair
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablemirror_throughput_rows_per_second",
			Help: "Current throughput in rows per second",
		},
		[]string{"source", "destination"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over a window.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64
	lastReset   time.Time
	source      string
	destination string
}

// NewThroughputTracker creates a tracker for one source→destination pair.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		source:      source,
		destination: destination,
	}
}

// Increment adds n to the row count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (rows/second), updates the
// Prometheus gauge, resets the counter, and returns the value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)

	return throughput
}
