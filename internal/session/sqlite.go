package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists each session as one document-style row keyed by
// session id. History, facts, and topics are stored as JSON so the row
// mirrors the wire shape of a session exactly.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the session database at path.
// Returns an error when the database cannot be opened or migrated, in which
// case the caller is expected to fall back to the in-memory backend.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// NewSQLiteBackendWithDB wraps an existing database connection. Used by
// tests that supply an in-memory database.
func NewSQLiteBackendWithDB(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			last_active TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			history TEXT NOT NULL DEFAULT '[]',
			facts TEXT NOT NULL DEFAULT '{}',
			topics TEXT NOT NULL DEFAULT '[]'
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);
	`)
	return err
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Session, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT session_id, created_at, last_active, message_count, history, facts, topics
		FROM sessions WHERE session_id = ?
	`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, s *Session) error {
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	facts, err := json.Marshal(s.Facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	topics, err := json.Marshal(s.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_active, message_count, history, facts, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			created_at = excluded.created_at,
			last_active = excluded.last_active,
			message_count = excluded.message_count,
			history = excluded.history,
			facts = excluded.facts,
			topics = excluded.topics
	`, s.ID, s.CreatedAt.UTC().Format(time.RFC3339Nano), s.LastActive.UTC().Format(time.RFC3339Nano),
		s.MessageCount, string(history), string(facts), string(topics))
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) TotalMessages(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum message counts: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) RefsByLastActive(ctx context.Context) ([]Ref, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT session_id, last_active FROM sessions ORDER BY last_active ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query refs: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var id, lastActive string
		if err := rows.Scan(&id, &lastActive); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, lastActive)
		if err != nil {
			return nil, fmt.Errorf("parse last_active for %s: %w", id, err)
		}
		refs = append(refs, Ref{ID: id, LastActive: ts})
	}
	return refs, rows.Err()
}

func (b *SQLiteBackend) All(ctx context.Context) ([]*Session, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT session_id, created_at, last_active, message_count, history, facts, topics
		FROM sessions ORDER BY session_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (b *SQLiteBackend) Kind() string { return "sqlite" }

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s                     Session
		createdAt, lastActive string
		history, facts        string
		topics                string
	)
	if err := row.Scan(&s.ID, &createdAt, &lastActive, &s.MessageCount, &history, &facts, &topics); err != nil {
		return nil, err
	}

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastActive, err = time.Parse(time.RFC3339Nano, lastActive); err != nil {
		return nil, fmt.Errorf("parse last_active: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &s.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal([]byte(facts), &s.Facts); err != nil {
		return nil, fmt.Errorf("decode facts: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &s.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return &s, nil
}
