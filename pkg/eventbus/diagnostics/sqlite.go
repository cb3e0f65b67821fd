package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink journals failures to SQLite.
// It is suitable for single-process production use.
type SQLiteSink struct {
	db      *sql.DB
	maxRows int
	mu      sync.RWMutex
	closed  bool
}

// NewSQLiteSink opens (or creates) a failure journal.
// The path should be a file path (e.g., "./failures.db") or ":memory:" for testing.
// maxRows bounds the journal; the oldest rows are pruned on insert. Zero
// keeps every row.
func NewSQLiteSink(path string, maxRows int) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_failures (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			bus TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			stage TEXT NOT NULL,
			message TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			member_index INTEGER NOT NULL,
			occurred_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_delivery_failures_event_id
		ON delivery_failures(event_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	if maxRows < 0 {
		maxRows = 0
	}
	return &SQLiteSink{db: db, maxRows: maxRows}, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_failures
			(id, bus, event_id, event_kind, stage, message, aggregate_id, member_index, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Bus, f.EventID, f.EventKind, string(f.Stage), f.Message,
		f.AggregateID, f.MemberIndex, f.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	if s.maxRows > 0 {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM delivery_failures
			WHERE seq <= (SELECT MAX(seq) FROM delivery_failures) - ?
		`, s.maxRows); err != nil {
			return fmt.Errorf("prune failures: %w", err)
		}
	}
	return nil
}

// Recent implements Sink.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]*Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bus, event_id, event_kind, stage, message, aggregate_id, member_index, occurred_at
		FROM delivery_failures
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		var (
			f          Failure
			stage      string
			occurredAt string
		)
		if err := rows.Scan(&f.ID, &f.Bus, &f.EventID, &f.EventKind, &stage, &f.Message,
			&f.AggregateID, &f.MemberIndex, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Stage = Stage(stage)
		f.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		out = append(out, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// Count implements Sink.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// ForEvent returns every stored failure for one event ID, oldest first.
func (s *SQLiteSink) ForEvent(ctx context.Context, eventID string) ([]*Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bus, stage, message, aggregate_id, member_index, occurred_at, event_kind
		FROM delivery_failures
		WHERE event_id = ?
		ORDER BY seq
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event failures: %w", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		f := Failure{EventID: eventID}
		var stage, occurredAt string
		if err := rows.Scan(&f.ID, &f.Bus, &stage, &f.Message, &f.AggregateID,
			&f.MemberIndex, &occurredAt, &f.EventKind); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.Stage = Stage(stage)
		f.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
		out = append(out, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
