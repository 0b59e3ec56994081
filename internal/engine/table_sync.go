package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/logger"
	"github.com/tablemirror/tablemirror/pkg/metrics"
	"github.com/tablemirror/tablemirror/pkg/observability"
	"github.com/tablemirror/tablemirror/pkg/store"
)

// tableSyncResult is everything the sync-log entry for one table is built
// from. A nil err means the table completed successfully.
type tableSyncResult struct {
	rows int64
	mode Mode
	err  error
}

// syncTable drives one table through probe, truncate and replication. Every
// failure, panics included, is converted into the returned result; nothing
// escapes the table boundary.
func (e *Engine) syncTable(ctx context.Context, pair config.SyncPair, table string) (res tableSyncResult) {
	defer func() {
		if r := recover(); r != nil {
			res.err = errors.Newf(errors.ErrorTypeInternal, "panic during sync of %s: %v", table, r)
		}
	}()

	log := logger.Get().With(
		zap.String("source", pair.Source),
		zap.String("target", pair.Target),
		zap.String("table", table),
	)

	ctx, span := observability.Tracer().Start(ctx, "table_sync",
		trace.WithAttributes(
			attribute.String("table", table),
			attribute.String("source", pair.Source),
			attribute.String("target", pair.Target),
		))
	defer func() {
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
		} else {
			span.SetAttributes(attribute.Int64("rows_synced", res.rows))
		}
		span.End()
	}()

	src, err := e.provider.Get(ctx, pair.Source)
	if err != nil {
		res.err = err
		return res
	}
	tgt, err := e.provider.Get(ctx, pair.Target)
	if err != nil {
		res.err = err
		return res
	}

	columns, rowCount, err := probeTable(ctx, src, table)
	if err != nil {
		res.err = err
		return res
	}

	// Truncate even when the source is empty; the target must never keep
	// rows the source no longer has.
	if err := truncateTable(ctx, tgt, table); err != nil {
		res.err = err
		return res
	}
	if rowCount == 0 {
		res.mode = ModeSingle
		log.Info("table is empty, nothing to copy")
		return res
	}

	job := &TableSyncJob{
		SourceID:  pair.Source,
		TargetID:  pair.Target,
		Table:     table,
		Columns:   columns,
		RowCount:  rowCount,
		ChunkSize: e.cfg.ChunkSize,
		Workers:   e.cfg.ReaderWorkers,
		Mode:      SelectMode(rowCount, e.cfg.MultithreadingThreshold, e.cfg.Multithreading),
		Started:   time.Now(),
	}
	res.mode = job.Mode
	span.SetAttributes(
		attribute.Int64("row_count", rowCount),
		attribute.String("mode", string(job.Mode)),
	)
	log.Info("starting table sync",
		zap.Int64("row_count", rowCount),
		zap.Int("total_chunks", job.TotalChunks()),
		zap.String("mode", string(job.Mode)))

	// Committed rows feed the per-pair throughput gauge no matter which
	// path runs, so the write hook is wrapped once here.
	write := e.writeFn
	if write == nil {
		write = writeChunk
	}
	tracker := metrics.NewThroughputTracker(job.SourceID, job.TargetID)
	trackedWrite := func(ctx context.Context, tgt *store.Store, job *TableSyncJob, subBatchSize int, chunk *Chunk) error {
		if err := write(ctx, tgt, job, subBatchSize, chunk); err != nil {
			return err
		}
		tracker.Increment(int64(len(chunk.Rows)))
		return nil
	}

	switch job.Mode {
	case ModeParallel:
		res.rows, res.err = e.syncParallel(ctx, src, tgt, job, trackedWrite, log)
	default:
		res.rows, res.err = e.syncSingle(ctx, src, tgt, job, trackedWrite)
	}
	if rps := tracker.GetAndReset(); rps > 0 {
		log.Debug("table throughput", zap.Float64("rows_per_second", rps))
	}
	return res
}

// syncSingle copies the table sequentially: one goroutine reads a chunk and
// writes it before reading the next, reusing the same chunk planning and
// sub-batch insertion as the parallel path.
func (e *Engine) syncSingle(ctx context.Context, src, tgt *store.Store, job *TableSyncJob, write writeFunc) (int64, error) {
	read := e.readFn
	if read == nil {
		read = readChunk
	}

	var rowsWritten int64
	for _, r := range planChunks(job.RowCount, job.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return rowsWritten, errors.Wrap(err, errors.ErrorTypeTimeout, "table sync cancelled")
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return rowsWritten, errors.Wrap(err, errors.ErrorTypeTimeout, "table sync cancelled")
			}
		}

		chunk, err := read(ctx, src, job, r)
		if err != nil {
			metrics.ChunksProcessed.WithLabelValues("read_error").Inc()
			return rowsWritten, err
		}
		if err := write(ctx, tgt, job, e.cfg.SubBatchSize, chunk); err != nil {
			metrics.ChunksProcessed.WithLabelValues("write_error").Inc()
			return rowsWritten, err
		}
		rowsWritten += int64(len(chunk.Rows))
		metrics.ChunksProcessed.WithLabelValues("ok").Inc()
	}
	return rowsWritten, nil
}

// syncParallel fans chunk reads out to a worker pool feeding the single
// writer through a fixed-capacity queue. The queue holds twice the worker
// count, so readers block rather than buffer an unbounded backlog when the
// writer falls behind. A writer abort cancels the group context, which
// unblocks any reader mid-enqueue.
func (e *Engine) syncParallel(ctx context.Context, src, tgt *store.Store, job *TableSyncJob, write writeFunc, log *zap.Logger) (int64, error) {
	queue := make(chan ChunkEnvelope, 2*job.Workers)
	pool := newChunkReaderPool(src, job, queue, e.limiter, e.readFn, log)
	writer := newChunkWriter(tgt, job, queue, e.cfg.SubBatchSize, e.cfg.WriterDequeueTimeout, write, log)

	var rowsWritten int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Read failures travel as envelopes; the pool itself never fails.
		pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		rows, err := writer.Run(gctx)
		rowsWritten = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return rowsWritten, err
	}

	metrics.ChunkQueueDepth.WithLabelValues(job.Table).Set(0)
	if rowsRead := pool.rowsRead.Load(); rowsRead != rowsWritten {
		log.Debug("read/write row counts differ",
			zap.Int64("rows_read", rowsRead),
			zap.Int64("rows_written", rowsWritten))
	}
	// Chunks skipped over read failures mark the whole table as failed,
	// even though every other chunk was written.
	return rowsWritten, writer.SkippedErr()
}
