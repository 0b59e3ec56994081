package synclog

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tablemirror/tablemirror/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_log (
	seq           INTEGER PRIMARY KEY,
	ts            INTEGER NOT NULL,
	source_id     TEXT    NOT NULL,
	target_id     TEXT    NOT NULL,
	table_name    TEXT    NOT NULL,
	status        TEXT    NOT NULL,
	rows_synced   INTEGER NOT NULL,
	error_message TEXT    NOT NULL DEFAULT ''
);`

// sqliteBackend stores sync history in a single-table SQLite file.
type sqliteBackend struct {
	db *sql.DB
}

func newSQLiteBackend(path string) (*sqliteBackend, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to open history file").WithDetail("path", path)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to initialize history schema").WithDetail("path", path)
	}

	return &sqliteBackend{db: db}, nil
}

// Save upserts entries by seq.
func (b *sqliteBackend) Save(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to begin history transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO sync_log
			(seq, ts, source_id, target_id, table_name, status, rows_synced, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to prepare history insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Seq, e.Timestamp.UnixNano(), e.SourceID, e.TargetID,
			e.Table, string(e.Status), e.RowsSynced, e.ErrorMessage,
		); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStorage, "failed to save history entry").WithDetail("seq", e.Seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to commit history")
	}
	return nil
}

// Prune deletes all but the newest keep entries.
func (b *sqliteBackend) Prune(ctx context.Context, keep int) error {
	_, err := b.db.ExecContext(ctx, `
		DELETE FROM sync_log
		WHERE seq NOT IN (SELECT seq FROM sync_log ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to prune history")
	}
	return nil
}

// Load returns the newest limit entries in ascending seq order.
func (b *sqliteBackend) Load(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT seq, ts, source_id, target_id, table_name, status, rows_synced, error_message
		FROM (SELECT * FROM sync_log ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to load history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var status string
		if err := rows.Scan(&e.Seq, &ts, &e.SourceID, &e.TargetID, &e.Table, &status, &e.RowsSynced, &e.ErrorMessage); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to scan history entry")
		}
		e.Timestamp = time.Unix(0, ts)
		e.Status = Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read history")
	}
	return entries, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
