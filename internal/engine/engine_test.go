package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/store"
	"github.com/tablemirror/tablemirror/pkg/synclog"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ChunkSize:               100,
		ReaderWorkers:           4,
		SubBatchSize:            40,
		Multithreading:          true,
		MultithreadingThreshold: 1000,
		WriterDequeueTimeout:    30 * time.Second,
	}
}

func sqliteDSN(dir, name string) string {
	return "file:" + filepath.Join(dir, name) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// newTestProvider wires two healthy sqlite stores plus one that cannot be
// opened, for connection-failure coverage.
func newTestProvider(t *testing.T) *store.Provider {
	t.Helper()
	dir := t.TempDir()
	p, err := store.NewProvider(map[string]config.StoreConfig{
		"src": {Driver: "sqlite", DSN: sqliteDSN(dir, "src.db")},
		"tgt": {Driver: "sqlite", DSN: sqliteDSN(dir, "tgt.db")},
		"bad": {Driver: "sqlite", DSN: "file:/nonexistent-dir-tablemirror/bad.db"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func getStore(t *testing.T, p *store.Provider, id string) *store.Store {
	t.Helper()
	s, err := p.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func createOrders(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, name TEXT, amount REAL)`)
	require.NoError(t, err)
}

// seedOrders inserts n rows into orders in batches.
func seedOrders(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	const batch = 250
	for start := 0; start < n; start += batch {
		end := min(start+batch, n)
		var sb strings.Builder
		sb.WriteString("INSERT INTO orders (id, name, amount) VALUES ")
		args := make([]any, 0, (end-start)*3)
		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?)")
			args = append(args, i+1, fmt.Sprintf("row-%d", i+1), float64(i)*0.5)
		}
		_, err := db.Exec(sb.String(), args...)
		require.NoError(t, err)
	}
}

func countRows(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func ordersPair() []config.SyncPair {
	return []config.SyncPair{{Source: "src", Target: "tgt", Tables: []string{"orders"}}}
}

// countingRead wraps the real chunk read and counts invocations.
func countingRead(calls *int64, mu *sync.Mutex) readFunc {
	return func(ctx context.Context, src *store.Store, job *TableSyncJob, r chunkRange) (*Chunk, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return readChunk(ctx, src, job, r)
	}
}

// failingRead fails the listed chunk sequences and reads the rest normally.
func failingRead(seqs ...int) readFunc {
	bad := make(map[int]bool, len(seqs))
	for _, s := range seqs {
		bad[s] = true
	}
	return func(ctx context.Context, src *store.Store, job *TableSyncJob, r chunkRange) (*Chunk, error) {
		if bad[r.Seq] {
			return nil, errors.New(errors.ErrorTypeQuery, "injected read failure")
		}
		return readChunk(ctx, src, job, r)
	}
}

func TestSyncSmallTableSinglePath(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 250)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())
	var calls int64
	var mu sync.Mutex
	e.readFn = countingRead(&calls, &mu)

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusSuccess, entries[0].Status)
	assert.Equal(t, int64(250), entries[0].RowsSynced)
	assert.Empty(t, entries[0].ErrorMessage)
	assert.Equal(t, int64(250), countRows(t, tgt.DB, "orders"))
	// 250 rows at chunk size 100 takes exactly three reads.
	assert.Equal(t, int64(3), calls)
}

func TestSyncLargeTableParallelPath(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 5000)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())
	var calls int64
	var mu sync.Mutex
	e.readFn = countingRead(&calls, &mu)

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusSuccess, entries[0].Status)
	assert.Equal(t, int64(5000), entries[0].RowsSynced)
	assert.Equal(t, int64(5000), countRows(t, tgt.DB, "orders"))
	assert.Equal(t, int64(50), calls)

	// Spot-check content, not just counts.
	var name string
	require.NoError(t, tgt.DB.QueryRow("SELECT name FROM orders WHERE id = 4999").Scan(&name))
	assert.Equal(t, "row-4999", name)
}

func TestSyncParallelChunkReadFailure(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 5000)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())
	e.readFn = failingRead(7)

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusError, entries[0].Status)
	// The other 49 chunks still land.
	assert.Equal(t, int64(4900), entries[0].RowsSynced)
	assert.Equal(t, int64(4900), countRows(t, tgt.DB, "orders"))
	assert.Contains(t, entries[0].ErrorMessage, "chunk 7")
}

func TestSyncEmptySourceStillTruncatesTarget(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, tgt.DB, 25) // stale rows from an earlier run

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusSuccess, entries[0].Status)
	assert.Zero(t, entries[0].RowsSynced)
	assert.Zero(t, countRows(t, tgt.DB, "orders"))
}

func TestSyncIsIdempotent(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 250)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))
	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, synclog.StatusSuccess, entry.Status)
		assert.Equal(t, int64(250), entry.RowsSynced)
	}
	assert.Equal(t, int64(250), countRows(t, tgt.DB, "orders"))
}

func TestSyncWriteFailureAbandonsTable(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 250)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())
	e.writeFn = func(ctx context.Context, tgt *store.Store, job *TableSyncJob, subBatchSize int, chunk *Chunk) error {
		if chunk.Seq == 1 {
			return errors.New(errors.ErrorTypeWrite, "injected write failure")
		}
		return writeChunk(ctx, tgt, job, subBatchSize, chunk)
	}

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusError, entries[0].Status)
	// Single path writes in order, so only the first chunk landed.
	assert.Equal(t, int64(100), entries[0].RowsSynced)
	assert.Equal(t, int64(100), countRows(t, tgt.DB, "orders"))
	assert.Contains(t, entries[0].ErrorMessage, "injected write failure")
}

func TestSyncFailuresAreIsolatedPerTable(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 50)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	pairs := []config.SyncPair{{Source: "src", Target: "tgt", Tables: []string{"missing", "orders"}}}
	require.NoError(t, e.SyncAll(context.Background(), pairs))

	entries := slog.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, synclog.StatusError, entries[0].Status)
	assert.Equal(t, "missing", entries[0].Table)
	assert.NotEmpty(t, entries[0].ErrorMessage)
	assert.Equal(t, synclog.StatusSuccess, entries[1].Status)
	assert.Equal(t, "orders", entries[1].Table)
	assert.Equal(t, int64(50), entries[1].RowsSynced)
}

func TestSyncProbeFailureLeavesTargetUntouched(t *testing.T) {
	p := newTestProvider(t)
	tgt := getStore(t, p, "tgt")
	createOrders(t, tgt.DB)
	seedOrders(t, tgt.DB, 10)
	// orders is never created on the source store

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusError, entries[0].Status)
	// Truncation happens after a successful probe, never before.
	assert.Equal(t, int64(10), countRows(t, tgt.DB, "orders"))
}

func TestSyncConnectionFailureIsRecorded(t *testing.T) {
	p := newTestProvider(t)
	tgt := getStore(t, p, "tgt")
	createOrders(t, tgt.DB)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	pairs := []config.SyncPair{{Source: "bad", Target: "tgt", Tables: []string{"orders"}}}
	require.NoError(t, e.SyncAll(context.Background(), pairs))

	entries := slog.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusError, entries[0].Status)
	assert.NotEmpty(t, entries[0].ErrorMessage)
}

func TestStopPreventsFurtherTables(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 50)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())
	e.Stop()

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))
	assert.Zero(t, slog.Len())
}

func TestCancelledContextHaltsCycle(t *testing.T) {
	p := newTestProvider(t)
	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.SyncAll(ctx, ordersPair()))
	assert.Zero(t, slog.Len())
}

func TestSyncAllRejectsConcurrentCycle(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 250)

	slog := synclog.New(10)
	e := New(p, slog, testEngineConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.writeFn = func(ctx context.Context, tgt *store.Store, job *TableSyncJob, subBatchSize int, chunk *Chunk) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return writeChunk(ctx, tgt, job, subBatchSize, chunk)
	}

	done := make(chan error, 1)
	go func() { done <- e.SyncAll(context.Background(), ordersPair()) }()

	<-entered
	assert.True(t, e.Running())
	err := e.SyncAll(context.Background(), ordersPair())
	require.ErrorIs(t, err, ErrCycleRunning)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, e.Running())
}

func TestSyncWithRateLimiterStillCompletes(t *testing.T) {
	p := newTestProvider(t)
	src, tgt := getStore(t, p, "src"), getStore(t, p, "tgt")
	createOrders(t, src.DB)
	createOrders(t, tgt.DB)
	seedOrders(t, src.DB, 250)

	cfg := testEngineConfig()
	cfg.ReadRateLimit = 1000 // generous, exercises the limiter wiring only
	slog := synclog.New(10)
	e := New(p, slog, cfg)
	require.NotNil(t, e.limiter)

	require.NoError(t, e.SyncAll(context.Background(), ordersPair()))
	assert.Equal(t, int64(250), countRows(t, tgt.DB, "orders"))
}
