package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
)

// SQLiteStore persists events to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite event store.
// The path should be a file path (e.g., "./events.db") or ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			correlation_id TEXT,
			timestamp TEXT NOT NULL,
			seq INTEGER,
			body BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, type, source, correlation_id, timestamp, seq, body)
		VALUES (
			?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(seq) FROM events), 0) + 1,
			?
		)
	`, e.ID, e.Type, e.Source, e.CorrelationID,
		e.Timestamp.UTC().Format(time.RFC3339Nano), body)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return event.Event{}, ErrStoreClosed
	}

	var body []byte
	err := s.db.QueryRow(`SELECT body FROM events WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return event.Event{}, ErrNotFound
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("load event: %w", err)
	}

	var e event.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return event.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Query implements Store.
func (s *SQLiteStore) Query(q QueryOptions) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `SELECT body FROM events WHERE 1=1`
	var args []any

	if len(q.Types) > 0 {
		query += ` AND type IN (` + placeholders(len(q.Types)) + `)`
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if len(q.Sources) > 0 {
		query += ` AND source IN (` + placeholders(len(q.Sources)) + `)`
		for _, src := range q.Sources {
			args = append(args, src)
		}
	}
	if q.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, q.CorrelationID)
	}
	if !q.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, q.Until.UTC().Format(time.RFC3339Nano))
	}

	query += ` ORDER BY timestamp, seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	} else if q.Offset > 0 {
		query += ` LIMIT -1`
	}
	if q.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, q.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]event.Event, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e event.Event
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Count implements Store.
func (s *SQLiteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(policy RetentionPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).UTC().Format(time.RFC3339Nano)
		res, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if policy.MaxCount > 0 {
		res, err := s.db.Exec(`
			DELETE FROM events WHERE id NOT IN (
				SELECT id FROM events ORDER BY timestamp DESC, seq DESC LIMIT ?
			)
		`, policy.MaxCount)
		if err != nil {
			return removed, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	return removed, nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// isUniqueViolation detects a primary-key conflict without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "constraint violation")
}
