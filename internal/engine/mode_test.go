package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name           string
		rowCount       int64
		threshold      int64
		multithreading bool
		want           Mode
	}{
		{"below threshold", 499999, 500000, true, ModeSingle},
		{"at threshold", 500000, 500000, true, ModeParallel},
		{"above threshold", 500001, 500000, true, ModeParallel},
		{"multithreading disabled", 2000000, 500000, false, ModeSingle},
		{"tiny table", 1, 500000, true, ModeSingle},
		{"zero threshold always parallel", 1, 0, true, ModeParallel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectMode(tt.rowCount, tt.threshold, tt.multithreading))
		})
	}
}
