// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides chat transcript persistence.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nvalden/sitechat/internal/model"
	"github.com/nvalden/sitechat/internal/util"
)

// =============================================================================
// TRANSCRIPT TYPES
// =============================================================================

// Transcript is a persisted conversation.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	PageURL   string    `json:"page_url,omitempty"`
	PageTitle string    `json:"page_title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []TranscriptMessage `json:"messages"`
}

// TranscriptMessage is a persisted message.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptMeta contains metadata for listing transcripts.
type TranscriptMeta struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// FromConversation converts a live conversation into a transcript. A message
// still streaming is captured with its content so far.
func FromConversation(conv *model.Conversation, sessionID string) *Transcript {
	t := &Transcript{
		ID:        conv.ID,
		SessionID: sessionID,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]TranscriptMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		if msg.IsEmpty() {
			continue
		}
		t.Messages = append(t.Messages, TranscriptMessage{
			ID:        msg.ID,
			Role:      msg.Role.String(),
			Content:   msg.DisplayContent(),
			Timestamp: msg.Timestamp,
		})
	}
	return t
}

// ToMessages converts the transcript back into live messages, preserving the
// original IDs and timestamps. The inverse of FromConversation.
func (t *Transcript) ToMessages() []*model.Message {
	msgs := make([]*model.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		msgs = append(msgs, &model.Message{
			ID:        m.ID,
			Role:      model.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return msgs
}

// MessageCount returns the number of messages in the transcript.
func (t *Transcript) MessageCount() int {
	return len(t.Messages)
}

// ExportMarkdown renders the transcript as a markdown document.
func (t *Transcript) ExportMarkdown() string {
	var b strings.Builder
	b.WriteString("# Chat transcript\n\n")
	fmt.Fprintf(&b, "- Session: `%s`\n", t.SessionID)
	fmt.Fprintf(&b, "- Started: %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.PageTitle != "" {
		fmt.Fprintf(&b, "- Page: %s\n", t.PageTitle)
	}
	b.WriteString("\n")
	caser := cases.Title(language.English)
	for _, msg := range t.Messages {
		fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n",
			caser.String(msg.Role), msg.Timestamp.Format("15:04:05"), msg.Content)
	}
	return b.String()
}

// =============================================================================
// TRANSCRIPT STORE
// =============================================================================

// TranscriptStore persists transcripts as one JSON file each.
type TranscriptStore struct {
	// BaseDir is the transcript directory.
	BaseDir string

	// MaxTranscripts limits stored transcripts (0 = unlimited); the oldest
	// by update time are pruned first.
	MaxTranscripts int
}

// NewTranscriptStore creates a store under ~/.sitechat/transcripts.
func NewTranscriptStore() (*TranscriptStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewTranscriptStoreWithDir(filepath.Join(homeDir, ".sitechat", "transcripts"))
}

// NewTranscriptStoreWithDir creates a store with a custom directory.
func NewTranscriptStoreWithDir(baseDir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &TranscriptStore{
		BaseDir:        baseDir,
		MaxTranscripts: 100,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a transcript and returns its ID.
func (s *TranscriptStore) Save(t *Transcript) (string, error) {
	if t.ID == "" {
		t.ID = generateTranscriptID()
	}
	if t.Summary == "" {
		t.Summary = summarize(t)
	}

	t.UpdatedAt = time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}

	// Atomic write with fsync prevents a torn file on crash.
	if err := util.AtomicWriteFile(s.filePath(t.ID), data, 0o644); err != nil {
		return "", err
	}

	if s.MaxTranscripts > 0 {
		s.enforceLimit()
	}
	return t.ID, nil
}

// summarize derives a summary from the first user message.
func summarize(t *Transcript) string {
	for _, msg := range t.Messages {
		if msg.Role == "user" && msg.Content != "" {
			return util.TruncateRunes(util.FirstLine(msg.Content), 50)
		}
	}
	return "New conversation"
}

// enforceLimit prunes the oldest transcripts when over the limit.
func (s *TranscriptStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxTranscripts {
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})

	excess := len(metas) - s.MaxTranscripts
	for i := 0; i < excess; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// LOAD AND LIST OPERATIONS
// =============================================================================

// Load retrieves a transcript by ID.
func (s *TranscriptStore) Load(id string) (*Transcript, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTranscriptNotFound
		}
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadByIndex loads a transcript by list position (0 = most recent).
func (s *TranscriptStore) LoadByIndex(index int) (*Transcript, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(metas) {
		return nil, ErrTranscriptNotFound
	}
	return s.Load(metas[index].ID)
}

// List returns all saved transcripts, most recent first. Corrupted files are
// skipped rather than failing the whole listing.
func (s *TranscriptStore) List() ([]TranscriptMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TranscriptMeta{}, nil
		}
		return nil, err
	}

	var metas []TranscriptMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		t, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		preview := ""
		for _, msg := range t.Messages {
			if msg.Role == "user" {
				preview = util.TruncateRunes(msg.Content, 80)
				break
			}
		}

		metas = append(metas, TranscriptMeta{
			ID:           t.ID,
			SessionID:    t.SessionID,
			Summary:      t.Summary,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
			MessageCount: len(t.Messages),
			Preview:      preview,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a transcript by ID.
func (s *TranscriptStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrTranscriptNotFound
		}
		return err
	}
	return nil
}

// Clear removes all saved transcripts.
func (s *TranscriptStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *TranscriptStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// generateTranscriptID creates a timestamp-prefixed random identifier, which
// keeps directory listings roughly chronological.
func generateTranscriptID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102-150405")
	}
	return time.Now().Format("20060102-150405") + "-" + hex.EncodeToString(b)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrTranscriptNotFound indicates the requested transcript does not exist.
var ErrTranscriptNotFound = &TranscriptError{Message: "transcript not found"}

// TranscriptError represents a transcript storage error.
type TranscriptError struct {
	Message string
}

// Error implements the error interface.
func (e *TranscriptError) Error() string {
	return e.Message
}

// Is supports errors.Is comparison with ErrTranscriptNotFound.
func (e *TranscriptError) Is(target error) bool {
	t, ok := target.(*TranscriptError)
	return ok && t.Message == e.Message
}
