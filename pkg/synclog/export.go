package synclog

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/tablemirror/tablemirror/pkg/errors"
)

// csvHeader matches the columns surfaced by the history API.
var csvHeader = []string{
	"timestamp", "source_db", "target_db", "table_name",
	"status", "records_synced", "error_message",
}

// ExportCSV writes the current snapshot to path on fs as CSV, gzipped when
// the path ends in .gz.
func (s *Store) ExportCSV(fs afero.Fs, path string) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to create export file").WithDetail("path", path)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to write export header")
	}

	for _, e := range s.Snapshot() {
		record := []string{
			e.Timestamp.Format(time.RFC3339),
			e.SourceID,
			e.TargetID,
			e.Table,
			string(e.Status),
			strconv.FormatInt(e.RowsSynced, 10),
			e.ErrorMessage,
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "failed to write export row").WithDetail("seq", e.Seq)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to flush export")
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "failed to finish gzip export")
		}
	}
	return nil
}
