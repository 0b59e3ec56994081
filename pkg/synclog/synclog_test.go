package synclog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(table string, status Status, rows int64) Entry {
	return Entry{
		SourceID:   "src",
		TargetID:   "dst",
		Table:      table,
		Status:     status,
		RowsSynced: rows,
	}
}

func TestAppendAssignsSeqAndTimestamp(t *testing.T) {
	s := New(10)

	e1 := s.Append(entry("orders", StatusSuccess, 100))
	e2 := s.Append(entry("customers", StatusSuccess, 50))

	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestCapEvictsOldestFirst(t *testing.T) {
	s := New(3)

	for i := 0; i < 10; i++ {
		s.Append(entry(fmt.Sprintf("t%d", i), StatusSuccess, int64(i)))
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "t7", snap[0].Table)
	assert.Equal(t, "t9", snap[2].Table)
}

func TestConcurrentAppendsRespectCap(t *testing.T) {
	const (
		capacity   = 50
		goroutines = 8
		perWorker  = 200
	)
	s := New(capacity)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Append(entry(fmt.Sprintf("g%d_t%d", g, i), StatusSuccess, 1))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, capacity, s.Len())

	// The newest capacity entries are exactly the highest seqs
	snap := s.Snapshot()
	total := int64(goroutines * perWorker)
	assert.Equal(t, total-capacity+1, snap[0].Seq)
	assert.Equal(t, total, snap[capacity-1].Seq)
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i-1].Seq+1, snap[i].Seq)
	}

	// Appending once more still retains the newest entry
	latest := s.Append(entry("final", StatusError, 0))
	snap = s.Snapshot()
	assert.Equal(t, latest.Seq, snap[len(snap)-1].Seq)
	assert.Equal(t, "final", snap[len(snap)-1].Table)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(10)
	s.Append(entry("orders", StatusSuccess, 1))

	snap := s.Snapshot()
	snap[0].Table = "mutated"

	assert.Equal(t, "orders", s.Snapshot()[0].Table)
}

func TestStats(t *testing.T) {
	s := New(10)
	s.Append(entry("a", StatusSuccess, 10))
	s.Append(entry("b", StatusError, 5))
	s.Append(entry("c", StatusSuccess, 20))

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Success)
	assert.Equal(t, int64(1), stats.Error)
	assert.False(t, stats.LastSync.IsZero())
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(5, path)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		s.Append(Entry{
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
			SourceID:   "src",
			TargetID:   "dst",
			Table:      fmt.Sprintf("t%d", i),
			Status:     StatusSuccess,
			RowsSynced: int64(i * 100),
		})
	}
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Close())

	// Reopen: the newest 5 entries survive with their seqs
	s2, err := Open(5, path)
	require.NoError(t, err)
	defer s2.Close()

	snap := s2.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, "t3", snap[0].Table)
	assert.Equal(t, "t7", snap[4].Table)
	assert.Equal(t, int64(700), snap[4].RowsSynced)

	// New appends continue the seq sequence
	e := s2.Append(entry("t8", StatusError, 0))
	assert.Equal(t, snap[4].Seq+1, e.Seq)
}

func TestPersistIsIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(10, path)
	require.NoError(t, err)
	defer s.Close()

	s.Append(entry("a", StatusSuccess, 1))
	require.NoError(t, s.Persist(ctx))

	s.Append(entry("b", StatusError, 2))
	require.NoError(t, s.Persist(ctx))
	require.NoError(t, s.Persist(ctx)) // nothing pending

	entries, err := s.backend.Load(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Table)
	assert.Equal(t, "b", entries[1].Table)
	assert.Equal(t, StatusError, entries[1].Status)
}

func TestMemoryOnlyStorePersistIsNoop(t *testing.T) {
	s, err := Open(10, "")
	require.NoError(t, err)
	s.Append(entry("a", StatusSuccess, 1))
	assert.NoError(t, s.Persist(context.Background()))
	assert.NoError(t, s.Close())
}

func TestExportCSV(t *testing.T) {
	s := New(10)
	s.Append(Entry{
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceID:   "src",
		TargetID:   "dst",
		Table:      "orders",
		Status:     StatusSuccess,
		RowsSynced: 25000,
	})
	s.Append(Entry{
		Timestamp:    time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		SourceID:     "src",
		TargetID:     "dst",
		Table:        "customers",
		Status:       StatusError,
		RowsSynced:   990000,
		ErrorMessage: "chunk 42 failed",
	})

	fs := afero.NewMemMapFs()
	require.NoError(t, s.ExportCSV(fs, "history.csv"))

	data, err := afero.ReadFile(fs, "history.csv")
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "orders", records[1][3])
	assert.Equal(t, "25000", records[1][5])
	assert.Equal(t, "ERROR", records[2][4])
	assert.Equal(t, "chunk 42 failed", records[2][6])
}

func TestExportCSVGzip(t *testing.T) {
	s := New(10)
	s.Append(entry("orders", StatusSuccess, 10))

	fs := afero.NewMemMapFs()
	require.NoError(t, s.ExportCSV(fs, "history.csv.gz"))

	data, err := afero.ReadFile(fs, "history.csv.gz")
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(plain)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "orders", records[1][3])
}
