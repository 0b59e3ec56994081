package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadChunkRespectsRange(t *testing.T) {
	p := newTestProvider(t)
	src := getStore(t, p, "src")
	createOrders(t, src.DB)
	seedOrders(t, src.DB, 250)

	job := &TableSyncJob{
		Table:     "orders",
		Columns:   []string{"id", "name", "amount"},
		RowCount:  250,
		ChunkSize: 100,
	}

	chunk, err := readChunk(context.Background(), src, job, chunkRange{Seq: 2, Offset: 200, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 2, chunk.Seq)
	assert.Equal(t, int64(200), chunk.Offset)
	assert.Len(t, chunk.Rows, 50)
	assert.Len(t, chunk.Rows[0], 3)
}

func TestReadChunkUnknownTable(t *testing.T) {
	p := newTestProvider(t)
	src := getStore(t, p, "src")

	job := &TableSyncJob{Table: "nope", Columns: []string{"id"}, RowCount: 10, ChunkSize: 10}
	_, err := readChunk(context.Background(), src, job, chunkRange{Seq: 0, Offset: 0, Limit: 10})
	require.Error(t, err)
}

func TestReaderPoolDeliversEveryChunkOnce(t *testing.T) {
	p := newTestProvider(t)
	src := getStore(t, p, "src")
	createOrders(t, src.DB)
	seedOrders(t, src.DB, 1000)

	job := &TableSyncJob{
		Table:     "orders",
		Columns:   []string{"id", "name", "amount"},
		RowCount:  1000,
		ChunkSize: 100,
		Workers:   4,
	}
	queue := make(chan ChunkEnvelope, 2*job.Workers)
	pool := newChunkReaderPool(src, job, queue, nil, nil, zap.NewNop())

	go func() {
		pool.Run(context.Background())
		close(queue)
	}()

	seen := make(map[int]int)
	var rows int64
	for env := range queue {
		require.NotNil(t, env.Chunk)
		require.Nil(t, env.Err)
		seen[env.Chunk.Seq]++
		assert.Len(t, env.Chunk.Rows, 100)
		rows += int64(len(env.Chunk.Rows))
	}

	assert.Len(t, seen, 10)
	for seq, n := range seen {
		assert.Equalf(t, 1, n, "chunk %d delivered %d times", seq, n)
	}
	assert.Equal(t, int64(1000), rows)
	assert.Equal(t, int64(1000), pool.rowsRead.Load())
}

func TestReaderPoolIsolatesFailedChunks(t *testing.T) {
	p := newTestProvider(t)
	src := getStore(t, p, "src")
	createOrders(t, src.DB)
	seedOrders(t, src.DB, 500)

	job := &TableSyncJob{
		Table:     "orders",
		Columns:   []string{"id", "name", "amount"},
		RowCount:  500,
		ChunkSize: 100,
		Workers:   2,
	}
	queue := make(chan ChunkEnvelope, 2*job.Workers)
	pool := newChunkReaderPool(src, job, queue, nil, failingRead(3), zap.NewNop())

	go func() {
		pool.Run(context.Background())
		close(queue)
	}()

	var good, bad int
	for env := range queue {
		if env.Err != nil {
			bad++
			assert.Equal(t, 3, env.Err.Seq)
			continue
		}
		good++
	}
	assert.Equal(t, 4, good)
	assert.Equal(t, 1, bad)
	// Failed chunk rows are never counted as read.
	assert.Equal(t, int64(400), pool.rowsRead.Load())
}

func TestReaderPoolStopsOnCancel(t *testing.T) {
	p := newTestProvider(t)
	src := getStore(t, p, "src")
	createOrders(t, src.DB)
	seedOrders(t, src.DB, 500)

	job := &TableSyncJob{
		Table:     "orders",
		Columns:   []string{"id", "name", "amount"},
		RowCount:  500,
		ChunkSize: 100,
		Workers:   2,
	}
	// Unbuffered queue with no consumer: the pool can only finish by
	// observing the cancel.
	queue := make(chan ChunkEnvelope)
	pool := newChunkReaderPool(src, job, queue, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	<-done
}
