// Package engine implements chunked full-refresh table replication between
// configured stores.
//
// Each table is synchronized independently: the source table is probed for
// its column list and row count, the target table is truncated, and the rows
// are copied in fixed-size chunks. Large tables are read by a bounded pool of
// concurrent readers feeding a single writer through a fixed-capacity queue;
// small tables take the same chunk logic through a sequential path. Failures
// never propagate past the table boundary: every table sync produces exactly
// one sync-log entry, success or not.
package engine

import (
	"fmt"
	"time"
)

// Mode identifies which replication path a table is assigned to.
type Mode string

const (
	// ModeSingle reads and writes chunks sequentially in one goroutine.
	ModeSingle Mode = "single"
	// ModeParallel fans reads out to a worker pool feeding a single writer.
	ModeParallel Mode = "parallel"
)

// Chunk is a bounded, contiguous range of rows read from one source table.
// Rows are positional and follow the column order captured at probe time.
type Chunk struct {
	Table  string
	Seq    int
	Offset int64
	Rows   [][]any
}

// ChunkError reports that the chunk with the given sequence number could not
// be read. The writer skips it and the table sync is reported as failed.
type ChunkError struct {
	Seq    int
	Offset int64
	Err    error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (offset %d): %v", e.Seq, e.Offset, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ChunkEnvelope is the only type that travels on the chunk queue. Exactly one
// of Chunk or Err is set.
type ChunkEnvelope struct {
	Chunk *Chunk
	Err   *ChunkError
}

// chunkRange is a planned read window before any rows have been fetched.
type chunkRange struct {
	Seq    int
	Offset int64
	Limit  int
}

// TableSyncJob carries the per-table state shared by the readers and the
// writer for the duration of one table sync.
type TableSyncJob struct {
	SourceID  string
	TargetID  string
	Table     string
	Columns   []string
	RowCount  int64
	ChunkSize int
	Workers   int
	Mode      Mode
	Started   time.Time
}

// TotalChunks returns the number of chunks needed to cover RowCount rows,
// i.e. ceil(RowCount / ChunkSize).
func (j *TableSyncJob) TotalChunks() int {
	if j.RowCount <= 0 || j.ChunkSize <= 0 {
		return 0
	}
	return int((j.RowCount + int64(j.ChunkSize) - 1) / int64(j.ChunkSize))
}

// planChunks partitions [0, rowCount) into contiguous, disjoint ranges of at
// most chunkSize rows each. The final range covers the remainder, so the
// limits always sum to rowCount exactly.
func planChunks(rowCount int64, chunkSize int) []chunkRange {
	if rowCount <= 0 || chunkSize <= 0 {
		return nil
	}
	total := int((rowCount + int64(chunkSize) - 1) / int64(chunkSize))
	ranges := make([]chunkRange, 0, total)
	for seq := 0; seq < total; seq++ {
		offset := int64(seq) * int64(chunkSize)
		limit := chunkSize
		if remaining := rowCount - offset; remaining < int64(limit) {
			limit = int(remaining)
		}
		ranges = append(ranges, chunkRange{Seq: seq, Offset: offset, Limit: limit})
	}
	return ranges
}
