package engine

import (
	"context"

	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/store"
)

// probeTable returns the ordered column list and total row count of table on
// the source store. The column order fixes the positional layout of every
// chunk read afterwards.
func probeTable(ctx context.Context, src *store.Store, table string) ([]string, int64, error) {
	quoted := src.Dialect.QuoteIdent(table)

	rows, err := src.DB.QueryContext(ctx, "SELECT * FROM "+quoted+" LIMIT 0")
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to probe columns of "+table)
	}
	columns, err := rows.Columns()
	if cerr := rows.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read column metadata of "+table)
	}
	if len(columns) == 0 {
		return nil, 0, errors.New(errors.ErrorTypeQuery, "table "+table+" has no columns")
	}

	var count int64
	if err := src.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&count); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count rows of "+table)
	}
	return columns, count, nil
}

// truncateTable removes all rows from table on the target store. A full
// refresh truncates even when the source is empty, so stale target rows never
// survive a cycle.
func truncateTable(ctx context.Context, tgt *store.Store, table string) error {
	if _, err := tgt.DB.ExecContext(ctx, tgt.Dialect.TruncateStmt(table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTruncate, "failed to truncate "+table)
	}
	return nil
}
