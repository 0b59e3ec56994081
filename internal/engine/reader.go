package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/metrics"
	"github.com/tablemirror/tablemirror/pkg/store"
)

// readFunc reads one planned chunk range. It exists so tests can inject
// failures for specific chunks.
type readFunc func(ctx context.Context, src *store.Store, job *TableSyncJob, r chunkRange) (*Chunk, error)

// readChunk fetches one chunk's row range from the source table.
func readChunk(ctx context.Context, src *store.Store, job *TableSyncJob, r chunkRange) (*Chunk, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, col := range job.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(src.Dialect.QuoteIdent(col))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(src.Dialect.QuoteIdent(job.Table))
	sb.WriteString(" LIMIT ")
	sb.WriteString(src.Dialect.Placeholder(1))
	sb.WriteString(" OFFSET ")
	sb.WriteString(src.Dialect.Placeholder(2))

	rows, err := src.DB.QueryContext(ctx, sb.String(), r.Limit, r.Offset)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read chunk").
			WithDetail("table", job.Table).
			WithDetail("offset", r.Offset)
	}
	defer rows.Close()

	data := make([][]any, 0, r.Limit)
	width := len(job.Columns)
	for rows.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan chunk row").
				WithDetail("table", job.Table).
				WithDetail("offset", r.Offset)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "chunk read interrupted").
			WithDetail("table", job.Table).
			WithDetail("offset", r.Offset)
	}

	return &Chunk{Table: job.Table, Seq: r.Seq, Offset: r.Offset, Rows: data}, nil
}

// chunkReaderPool reads every planned chunk of one table with a bounded
// number of concurrent workers and pushes exactly one envelope per attempted
// chunk onto the queue. Read failures become ChunkError envelopes; they never
// stop the other workers.
type chunkReaderPool struct {
	src      *store.Store
	job      *TableSyncJob
	queue    chan<- ChunkEnvelope
	limiter  *rate.Limiter
	read     readFunc
	rowsRead atomic.Int64
	logger   *zap.Logger
}

func newChunkReaderPool(src *store.Store, job *TableSyncJob, queue chan<- ChunkEnvelope, limiter *rate.Limiter, read readFunc, logger *zap.Logger) *chunkReaderPool {
	if read == nil {
		read = readChunk
	}
	return &chunkReaderPool{
		src:     src,
		job:     job,
		queue:   queue,
		limiter: limiter,
		read:    read,
		logger:  logger,
	}
}

// Run feeds the planned ranges to job.Workers workers and returns once every
// range has been attempted or ctx is cancelled. Enqueueing blocks when the
// queue is full, which is what bounds memory when readers outpace the writer.
func (p *chunkReaderPool) Run(ctx context.Context) {
	work := make(chan chunkRange)
	var wg sync.WaitGroup
	wg.Add(p.job.Workers)
	for i := 0; i < p.job.Workers; i++ {
		go func() {
			defer wg.Done()
			p.worker(ctx, work)
		}()
	}

feed:
	for _, r := range planChunks(p.job.RowCount, p.job.ChunkSize) {
		select {
		case work <- r:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()
}

func (p *chunkReaderPool) worker(ctx context.Context, work <-chan chunkRange) {
	for r := range work {
		if ctx.Err() != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		var env ChunkEnvelope
		chunk, err := p.read(ctx, p.src, p.job, r)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("chunk read failed",
				zap.String("table", p.job.Table),
				zap.Int("chunk_seq", r.Seq),
				zap.Int64("offset", r.Offset),
				zap.Error(err))
			env = ChunkEnvelope{Err: &ChunkError{Seq: r.Seq, Offset: r.Offset, Err: err}}
		} else {
			p.rowsRead.Add(int64(len(chunk.Rows)))
			env = ChunkEnvelope{Chunk: chunk}
		}

		select {
		case p.queue <- env:
			metrics.ChunkQueueDepth.WithLabelValues(p.job.Table).Set(float64(len(p.queue)))
		case <-ctx.Done():
			return
		}
	}
}
