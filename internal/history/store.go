// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists finalized chat messages. Once a streaming
// message completes, its record migrates here and becomes immutable;
// the store's keyed inserts make that migration idempotent, so a
// duplicate finalize cannot produce a second copy.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrNotFound is returned when no record exists for a message id.
var ErrNotFound = errors.New("message not found")

// =============================================================================
// RECORD
// =============================================================================

// Record is one committed, immutable chat message.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           string    `json:"role"` // "user", "assistant", "system"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed message history.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);
`

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory history, used by tests and
// by sessions that opt out of persistence.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Append commits one finalized message. Inserting an id that already
// exists is a no-op: finalize is idempotent and committed history is
// never mutated. Returns true when a new row was written.
func (s *Store) Append(rec Record) (bool, error) {
	if rec.ID == "" {
		return false, errors.New("record missing id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.ConversationID, rec.Role, rec.Content, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns the record for a message id.
func (s *Store) Get(id string) (Record, error) {
	var rec Record
	var createdMs int64
	err := s.db.QueryRow(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ConversationID, &rec.Role, &rec.Content, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load message: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	return rec, nil
}

// Recent returns up to limit committed messages for a conversation,
// oldest first.
func (s *Store) Recent(conversationID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var createdMs int64
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.Role, &rec.Content, &createdMs); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMilli(createdMs)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of committed messages.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
