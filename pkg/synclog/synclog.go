// Package synclog keeps the record of every table-sync attempt: an in-memory,
// size-capped, append-only log behind a mutex, optionally backed by a SQLite
// history file so sync history survives restarts.
//
// Appends come from concurrently running table syncs; readers (API, CLI
// export) always work on snapshot copies and never block appenders for long.
// When the log exceeds its cap the oldest entries are evicted first, so the
// most recent entries are never lost.
package synclog

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one table-sync attempt.
type Status string

const (
	// StatusSuccess marks a fully replicated table
	StatusSuccess Status = "SUCCESS"
	// StatusError marks a failed or partially replicated table
	StatusError Status = "ERROR"
)

// Entry records one table-sync attempt.
type Entry struct {
	// Seq is a monotonically increasing id assigned on append
	Seq int64 `json:"seq"`
	// Timestamp is when the attempt finished
	Timestamp time.Time `json:"timestamp"`
	// SourceID is the source store id
	SourceID string `json:"source_db"`
	// TargetID is the target store id
	TargetID string `json:"target_db"`
	// Table is the mirrored table name
	Table string `json:"table_name"`
	// Status is SUCCESS or ERROR
	Status Status `json:"status"`
	// RowsSynced counts rows committed to the target, including partial progress
	RowsSynced int64 `json:"records_synced"`
	// ErrorMessage is empty for successful attempts
	ErrorMessage string `json:"error_message,omitempty"`
}

// Stats aggregates the retained log.
type Stats struct {
	Total    int64     `json:"total_syncs"`
	Success  int64     `json:"successful"`
	Error    int64     `json:"failed"`
	LastSync time.Time `json:"last_sync"`
}

// Store is the capped, thread-safe sync history log.
type Store struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	nextSeq    int64

	backend       *sqliteBackend
	lastPersisted int64
}

// New creates an in-memory Store retaining at most maxEntries entries.
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Store{
		maxEntries: maxEntries,
		nextSeq:    1,
	}
}

// Open creates a Store backed by a SQLite history file at path, loading any
// previously persisted entries. An empty path yields a memory-only Store.
func Open(maxEntries int, path string) (*Store, error) {
	s := New(maxEntries)
	if path == "" {
		return s, nil
	}

	backend, err := newSQLiteBackend(path)
	if err != nil {
		return nil, err
	}

	entries, err := backend.Load(context.Background(), maxEntries)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	s.backend = backend
	s.entries = entries
	if n := len(entries); n > 0 {
		s.nextSeq = entries[n-1].Seq + 1
		s.lastPersisted = entries[n-1].Seq
	}
	return s, nil
}

// Append adds an entry, assigning its Seq and defaulting a zero Timestamp to
// now. The oldest entries are evicted once the cap is exceeded. The stored
// entry is returned.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = s.nextSeq
	s.nextSeq++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.maxEntries; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
	return e
}

// Snapshot returns a copy of the retained entries in append order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats aggregates the retained entries.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats
	for _, e := range s.entries {
		stats.Total++
		if e.Status == StatusSuccess {
			stats.Success++
		} else {
			stats.Error++
		}
		if e.Timestamp.After(stats.LastSync) {
			stats.LastSync = e.Timestamp
		}
	}
	return stats
}

// Persist writes entries appended since the last Persist to the history file
// and prunes it to the cap. A memory-only Store persists nothing.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	s.mu.Lock()
	var pending []Entry
	for _, e := range s.entries {
		if e.Seq > s.lastPersisted {
			pending = append(pending, e)
		}
	}
	highest := s.nextSeq - 1
	s.mu.Unlock()

	if err := s.backend.Save(ctx, pending); err != nil {
		return err
	}
	if err := s.backend.Prune(ctx, s.maxEntries); err != nil {
		return err
	}

	s.mu.Lock()
	if highest > s.lastPersisted {
		s.lastPersisted = highest
	}
	s.mu.Unlock()
	return nil
}

// Close persists outstanding entries and closes the history file.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	if err := s.Persist(context.Background()); err != nil {
		_ = s.backend.Close()
		return err
	}
	return s.backend.Close()
}
