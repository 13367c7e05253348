// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history provides a searchable index over saved chat transcripts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/nvalden/sitechat/internal/storage"
	"github.com/nvalden/sitechat/internal/util"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	summary       TEXT NOT NULL,
	page_title    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	message_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	folded        TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_transcript ON messages(transcript_id);
CREATE INDEX IF NOT EXISTS idx_messages_folded ON messages(folded);
`

// =============================================================================
// INDEX
// =============================================================================

// SearchResult is one matching message.
type SearchResult struct {
	TranscriptID string
	Summary      string
	Role         string
	Snippet      string
	Timestamp    time.Time
}

// Index is a sqlite-backed search index over transcripts. Matching is
// case- and accent-insensitive.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Index{db: db}, nil
}

// Close releases the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// =============================================================================
// INDEXING
// =============================================================================

// Add indexes one transcript, replacing any previous entry for the same ID.
func (ix *Index) Add(ctx context.Context, t *storage.Transcript) error {
	if t.ID == "" {
		return errors.New("transcript has no id")
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Replace wholesale; cascade clears old messages.
	if _, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", t.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, session_id, summary, page_title, created_at, updated_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Summary, t.PageTitle,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), len(t.Messages))
	if err != nil {
		return err
	}

	for _, msg := range t.Messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (transcript_id, role, content, folded, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			t.ID, msg.Role, msg.Content, Fold(msg.Content), msg.Timestamp.Unix())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Remove drops a transcript from the index.
func (ix *Index) Remove(ctx context.Context, id string) error {
	_, err := ix.db.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", id)
	return err
}

// Reindex rebuilds the index from every transcript in the store.
func (ix *Index) Reindex(ctx context.Context, store *storage.TranscriptStore) (int, error) {
	metas, err := store.List()
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, meta := range metas {
		t, err := store.Load(meta.ID)
		if err != nil {
			continue
		}
		if err := ix.Add(ctx, t); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// Count returns the number of indexed transcripts.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts").Scan(&n)
	return n, err
}

// =============================================================================
// SEARCH
// =============================================================================

// Search returns messages whose content matches the query, newest first.
// The match is case- and accent-insensitive; limit <= 0 selects a default.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + escapeLike(Fold(query)) + "%"
	rows, err := ix.db.QueryContext(ctx, `
		SELECT m.transcript_id, t.summary, m.role, m.content, m.created_at
		FROM messages m
		JOIN transcripts t ON t.id = m.transcript_id
		WHERE m.folded LIKE ? ESCAPE '\'
		ORDER BY m.created_at DESC
		LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var content string
		var ts int64
		if err := rows.Scan(&r.TranscriptID, &r.Summary, &r.Role, &content, &ts); err != nil {
			return nil, err
		}
		r.Snippet = snippet(content, query)
		r.Timestamp = time.Unix(ts, 0)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippet extracts a short window of content around the first match.
func snippet(content, query string) string {
	const window = 100

	folded := Fold(content)
	pos := strings.Index(folded, Fold(query))
	if pos < 0 || len(content) != len(folded) {
		// Folding shifted byte offsets (or no hit); fall back to the head.
		return util.TruncateRunes(util.FirstLine(content), window)
	}

	start := pos - window/3
	if start < 0 {
		start = 0
	}
	// Backing up by a byte count can land inside a multi-byte rune.
	for start < pos && !utf8.RuneStart(content[start]) {
		start++
	}
	return util.TruncateRunes(strings.TrimSpace(content[start:]), window)
}

// escapeLike escapes LIKE metacharacters in user input.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// Fold lowercases s and strips diacritics, so "Café" matches "cafe".
func Fold(s string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(chain, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
