package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/logger"
	"github.com/tablemirror/tablemirror/pkg/metrics"
	"github.com/tablemirror/tablemirror/pkg/observability"
	"github.com/tablemirror/tablemirror/pkg/store"
	"github.com/tablemirror/tablemirror/pkg/synclog"
)

// ConnectionProvider hands out opened store connections by configured id.
// *store.Provider is the production implementation.
type ConnectionProvider interface {
	Get(ctx context.Context, id string) (*store.Store, error)
}

// Engine replicates configured table pairs. It owns no connections itself;
// stores come from the provider and results go to the sync log.
type Engine struct {
	provider ConnectionProvider
	log      *synclog.Store
	cfg      config.EngineConfig
	limiter  *rate.Limiter

	// test hooks; nil means the real implementations
	readFn  readFunc
	writeFn writeFunc

	running atomic.Bool
	stopped atomic.Bool

	mu          sync.Mutex
	cancelCycle context.CancelFunc
}

// New builds an Engine from the given provider, sync log and tunables.
func New(provider ConnectionProvider, log *synclog.Store, cfg config.EngineConfig) *Engine {
	e := &Engine{provider: provider, log: log, cfg: cfg}
	if cfg.ReadRateLimit > 0 {
		burst := int(cfg.ReadRateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ReadRateLimit), burst)
	}
	return e
}

// ErrCycleRunning is returned when a sync cycle is requested while another
// one is still in flight.
var ErrCycleRunning = errors.New(errors.ErrorTypeConflict, "a sync cycle is already running")

// Running reports whether a sync cycle is currently in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Stop cooperatively halts the engine: the current cycle is cancelled at the
// next chunk boundary and no further tables are started. Used on process
// shutdown.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.mu.Lock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.mu.Unlock()
}

func (e *Engine) shouldStop(ctx context.Context) bool {
	return e.stopped.Load() || ctx.Err() != nil
}

// SyncAll runs one full sync cycle over pairs, table by table. Each table
// produces exactly one sync-log entry regardless of outcome; per-table
// failures are recorded there and never returned. The returned error is
// reserved for catastrophic conditions: a cycle already in flight, or the
// sync log failing to persist.
func (e *Engine) SyncAll(ctx context.Context, pairs []config.SyncPair) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrCycleRunning
	}
	defer e.running.Store(false)

	cycleCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelCycle = cancel
	e.mu.Unlock()
	defer cancel()

	cycleID := uuid.New().String()
	log := logger.Get().With(zap.String("cycle_id", cycleID))
	cycleCtx = context.WithValue(cycleCtx, logger.CycleIDKey, cycleID)

	cycleCtx, span := observability.Tracer().Start(cycleCtx, "sync_cycle",
		trace.WithAttributes(attribute.String("cycle_id", cycleID)))
	defer span.End()

	started := time.Now()
	var tables, failed int
	log.Info("sync cycle started", zap.Int("pairs", len(pairs)))

cycle:
	for _, pair := range pairs {
		for _, table := range pair.Tables {
			if e.shouldStop(cycleCtx) {
				log.Warn("sync cycle halted", zap.Int("tables_completed", tables))
				break cycle
			}
			if e.runTable(cycleCtx, pair, table) != synclog.StatusSuccess {
				failed++
			}
			tables++
		}
	}

	metrics.SyncCycles.Inc()
	log.Info("sync cycle finished",
		zap.Int("tables", tables),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(started)))

	// History must survive even when the cycle context was cancelled by
	// Stop, so persistence gets its own deadline.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()
	if err := e.log.Persist(persistCtx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to persist sync history")
	}
	return nil
}

// runTable syncs one table and records the outcome as a sync-log entry.
func (e *Engine) runTable(ctx context.Context, pair config.SyncPair, table string) synclog.Status {
	metrics.ActiveTableSyncs.Inc()
	defer metrics.ActiveTableSyncs.Dec()
	timer := metrics.NewTimer("table_sync")

	res := e.syncTable(ctx, pair, table)
	elapsed := timer.Stop()

	entry := synclog.Entry{
		SourceID:   pair.Source,
		TargetID:   pair.Target,
		Table:      table,
		Status:     synclog.StatusSuccess,
		RowsSynced: res.rows,
	}
	if res.err != nil {
		entry.Status = synclog.StatusError
		entry.ErrorMessage = res.err.Error()
	}
	e.log.Append(entry)

	metrics.TableSyncs.WithLabelValues(pair.Source, pair.Target, string(entry.Status)).Inc()
	metrics.RowsSynced.WithLabelValues(pair.Source, pair.Target).Add(float64(res.rows))
	if res.mode != "" {
		metrics.TableSyncDuration.WithLabelValues(string(res.mode)).Observe(elapsed.Seconds())
	}

	log := logger.Get().With(
		zap.String("source", pair.Source),
		zap.String("target", pair.Target),
		zap.String("table", table),
	)
	if res.err != nil {
		log.Error("table sync failed",
			zap.Int64("rows_synced", res.rows),
			zap.Duration("elapsed", elapsed),
			zap.Error(res.err))
	} else {
		log.Info("table sync complete",
			zap.Int64("rows_synced", res.rows),
			zap.String("mode", string(res.mode)),
			zap.Duration("elapsed", elapsed))
	}
	return entry.Status
}
