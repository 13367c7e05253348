// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nvalden/sitechat/internal/storage"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func sampleTranscript(id string, contents ...string) *storage.Transcript {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t := &storage.Transcript{
		ID:        id,
		SessionID: "sess-1",
		Summary:   "sample chat",
		CreatedAt: base,
		UpdatedAt: base,
	}
	for i, content := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		t.Messages = append(t.Messages, storage.TranscriptMessage{
			ID:        "m" + string(rune('0'+i)),
			Role:      role,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return t
}

func TestAddAndSearch(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	err := ix.Add(ctx, sampleTranscript("t1",
		"how do I deploy the blog?",
		"You can deploy it with the publish script."))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := ix.Search(ctx, "DEPLOY", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.TranscriptID != "t1" {
			t.Errorf("unexpected transcript id %q", r.TranscriptID)
		}
		if r.Summary != "sample chat" {
			t.Errorf("unexpected summary %q", r.Summary)
		}
	}
	// Newest first.
	if results[0].Role != "assistant" {
		t.Errorf("expected newest match first, got role %q", results[0].Role)
	}
}

func TestSearchIsAccentInsensitive(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, sampleTranscript("t1", "the café review post")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := ix.Search(ctx, "Cafe", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !strings.Contains(results[0].Snippet, "café") {
		t.Errorf("snippet should carry original text, got %q", results[0].Snippet)
	}
}

func TestSearchEscapesLikeMetacharacters(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	err := ix.Add(ctx, sampleTranscript("t1", "progress is at 50% done", "no match here"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := ix.Search(ctx, "50%", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	ix := openTestIndex(t)

	results, err := ix.Search(context.Background(), "   ", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for blank query, got %v", results)
	}
}

func TestSearchLimit(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	err := ix.Add(ctx, sampleTranscript("t1",
		"widget one", "widget two", "widget three", "widget four"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := ix.Search(ctx, "widget", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestAddReplacesExisting(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, sampleTranscript("t1", "old content")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(ctx, sampleTranscript("t1", "new content")); err != nil {
		t.Fatalf("Add again: %v", err)
	}

	if results, _ := ix.Search(ctx, "old content", 0); len(results) != 0 {
		t.Errorf("stale messages survived re-add: %v", results)
	}
	if results, _ := ix.Search(ctx, "new content", 0); len(results) != 1 {
		t.Errorf("expected 1 result for replaced content, got %d", len(results))
	}
	if n, _ := ix.Count(ctx); n != 1 {
		t.Errorf("expected 1 transcript, got %d", n)
	}
}

func TestRemoveCascades(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, sampleTranscript("t1", "findable text")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Remove(ctx, "t1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if results, _ := ix.Search(ctx, "findable", 0); len(results) != 0 {
		t.Errorf("messages survived transcript removal: %v", results)
	}
	if n, _ := ix.Count(ctx); n != 0 {
		t.Errorf("expected empty index, got %d transcripts", n)
	}
}

func TestReindexFromStore(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	store, err := storage.NewTranscriptStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewTranscriptStoreWithDir: %v", err)
	}
	for _, tr := range []*storage.Transcript{
		sampleTranscript("", "first chat about gophers"),
		sampleTranscript("", "second chat about badgers"),
	} {
		if _, err := store.Save(tr); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	indexed, err := ix.Reindex(ctx, store)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if indexed != 2 {
		t.Fatalf("expected 2 indexed, got %d", indexed)
	}
	if results, _ := ix.Search(ctx, "gophers", 0); len(results) != 1 {
		t.Errorf("expected 1 result after reindex, got %d", len(results))
	}
}

func TestSnippetStartsOnRuneBoundary(t *testing.T) {
	// Enough multi-byte runes before the match that the window start lands
	// inside one when counted in bytes.
	content := strings.Repeat("漢", 40) + " needle and the rest of the line"
	got := snippet(content, "needle")
	if !utf8.ValidString(got) {
		t.Errorf("snippet is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "needle") {
		t.Errorf("snippet lost the match: %q", got)
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "hello"},
		{"Café", "cafe"},
		{"ÀÉÎÕÜ", "aeiou"},
		{"plain ascii", "plain ascii"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
