package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablemirror/tablemirror/pkg/errors"
)

func TestPlanChunksCoversEveryRowExactlyOnce(t *testing.T) {
	tests := []struct {
		rowCount   int64
		chunkSize  int
		wantChunks int
		wantLimits []int
	}{
		{0, 100, 0, nil},
		{1, 100, 1, []int{1}},
		{99, 100, 1, []int{99}},
		{100, 100, 1, []int{100}},
		{101, 100, 2, []int{100, 1}},
		{250, 100, 3, []int{100, 100, 50}},
		{25000, 10000, 3, []int{10000, 10000, 5000}},
		{1000000, 10000, 100, nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.rowCount, tt.chunkSize), func(t *testing.T) {
			ranges := planChunks(tt.rowCount, tt.chunkSize)
			require.Len(t, ranges, tt.wantChunks)

			var covered int64
			for i, r := range ranges {
				assert.Equal(t, i, r.Seq)
				assert.Equal(t, covered, r.Offset, "ranges must be contiguous")
				assert.Positive(t, r.Limit)
				assert.LessOrEqual(t, r.Limit, tt.chunkSize)
				covered += int64(r.Limit)
			}
			assert.Equal(t, tt.rowCount, covered, "limits must sum to the row count")

			if tt.wantLimits != nil {
				for i, want := range tt.wantLimits {
					assert.Equal(t, want, ranges[i].Limit)
				}
			}
		})
	}
}

func TestTotalChunksMatchesPlan(t *testing.T) {
	for _, tt := range []struct {
		rowCount  int64
		chunkSize int
	}{{0, 100}, {1, 100}, {100, 100}, {101, 100}, {999999, 10000}} {
		job := &TableSyncJob{RowCount: tt.rowCount, ChunkSize: tt.chunkSize}
		assert.Equal(t, len(planChunks(tt.rowCount, tt.chunkSize)), job.TotalChunks())
	}
}

func TestChunkErrorMessageNamesTheChunk(t *testing.T) {
	cause := errors.New(errors.ErrorTypeQuery, "connection reset")
	err := &ChunkError{Seq: 7, Offset: 70000, Err: cause}
	assert.Contains(t, err.Error(), "chunk 7")
	assert.Contains(t, err.Error(), "70000")
	assert.ErrorIs(t, err, cause)
}
