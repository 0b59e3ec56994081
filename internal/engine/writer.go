package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/metrics"
	"github.com/tablemirror/tablemirror/pkg/store"
)

// writeFunc writes one chunk to the target. Tests inject failures here.
type writeFunc func(ctx context.Context, tgt *store.Store, job *TableSyncJob, subBatchSize int, chunk *Chunk) error

// chunkWriter is the single consumer of the chunk queue. It drains exactly
// TotalChunks envelopes: successful chunks are written and committed one at a
// time, ChunkError envelopes are logged and skipped. A write failure or a
// dequeue timeout aborts the remaining work for the table.
type chunkWriter struct {
	tgt            *store.Store
	job            *TableSyncJob
	queue          <-chan ChunkEnvelope
	subBatchSize   int
	dequeueTimeout time.Duration
	write          writeFunc
	skipped        *multierror.Error
	logger         *zap.Logger
}

func newChunkWriter(tgt *store.Store, job *TableSyncJob, queue <-chan ChunkEnvelope, subBatchSize int, dequeueTimeout time.Duration, write writeFunc, logger *zap.Logger) *chunkWriter {
	if write == nil {
		write = writeChunk
	}
	return &chunkWriter{
		tgt:            tgt,
		job:            job,
		queue:          queue,
		subBatchSize:   subBatchSize,
		dequeueTimeout: dequeueTimeout,
		write:          write,
		logger:         logger,
	}
}

// Run consumes envelopes until all planned chunks are accounted for. It
// returns the number of rows successfully written and a non-nil error only
// when the table sync must be abandoned (write failure, dequeue timeout, or
// cancellation). Skipped read failures are reported via SkippedErr instead so
// the remaining chunks still land.
func (w *chunkWriter) Run(ctx context.Context) (int64, error) {
	total := w.job.TotalChunks()
	var rowsWritten int64

	timer := time.NewTimer(w.dequeueTimeout)
	defer timer.Stop()

	for processed := 0; processed < total; processed++ {
		timer.Stop()
		timer.Reset(w.dequeueTimeout)

		select {
		case env := <-w.queue:
			metrics.ChunkQueueDepth.WithLabelValues(w.job.Table).Set(float64(len(w.queue)))
			if env.Err != nil {
				w.logger.Warn("skipping unreadable chunk",
					zap.String("table", w.job.Table),
					zap.Int("chunk_seq", env.Err.Seq),
					zap.Error(env.Err.Err))
				metrics.ChunksProcessed.WithLabelValues("read_error").Inc()
				w.skipped = multierror.Append(w.skipped, env.Err)
				continue
			}
			if err := w.write(ctx, w.tgt, w.job, w.subBatchSize, env.Chunk); err != nil {
				metrics.ChunksProcessed.WithLabelValues("write_error").Inc()
				return rowsWritten, err
			}
			rowsWritten += int64(len(env.Chunk.Rows))
			metrics.ChunksProcessed.WithLabelValues("ok").Inc()

		case <-timer.C:
			return rowsWritten, errors.Newf(errors.ErrorTypeTimeout,
				"no chunk received within %s (%d of %d chunks processed)",
				w.dequeueTimeout, processed, total)

		case <-ctx.Done():
			return rowsWritten, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "table sync cancelled")
		}
	}
	return rowsWritten, nil
}

// SkippedErr returns the accumulated read failures, nil when every chunk was
// written.
func (w *chunkWriter) SkippedErr() error {
	return w.skipped.ErrorOrNil()
}

// writeChunk inserts one chunk into the target inside a single transaction,
// committed once per chunk. Rows are flushed in sub-batches as multi-row
// INSERT statements to keep bind-parameter counts bounded.
func writeChunk(ctx context.Context, tgt *store.Store, job *TableSyncJob, subBatchSize int, chunk *Chunk) error {
	if len(chunk.Rows) == 0 {
		return nil
	}

	tx, err := tgt.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to begin chunk transaction").
			WithDetail("table", job.Table).
			WithDetail("chunk_seq", chunk.Seq)
	}
	defer tx.Rollback()

	for start := 0; start < len(chunk.Rows); start += subBatchSize {
		end := start + subBatchSize
		if end > len(chunk.Rows) {
			end = len(chunk.Rows)
		}
		query, args := buildInsert(tgt.Dialect, job.Table, job.Columns, chunk.Rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWrite, fmt.Sprintf("failed to insert sub-batch at row %d", start)).
				WithDetail("table", job.Table).
				WithDetail("chunk_seq", chunk.Seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to commit chunk").
			WithDetail("table", job.Table).
			WithDetail("chunk_seq", chunk.Seq)
	}
	return nil
}

// buildInsert renders a multi-row INSERT for rows and flattens their values
// into the bind argument list, using the dialect's placeholder style.
func buildInsert(d store.Dialect, table string, columns []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(table))
	sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.QuoteIdent(col))
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(n))
			n++
			args = append(args, row[j])
		}
		sb.WriteByte(')')
	}
	return sb.String(), args
}
