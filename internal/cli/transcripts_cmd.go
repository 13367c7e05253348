// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// transcripts_cmd.go - handlers for list, show, search, and export.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/nvalden/sitechat/internal/history"
	"github.com/nvalden/sitechat/internal/storage"
	"github.com/nvalden/sitechat/internal/ui/components"
)

// HandleList prints saved transcripts, most recent first.
func HandleList(store *storage.TranscriptStore) error {
	metas, err := store.List()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("no saved transcripts"))
		return nil
	}

	for _, meta := range metas {
		fmt.Printf("%s  %s  %s\n",
			promptStyle.Render(meta.ID),
			meta.UpdatedAt.Format("2006-01-02 15:04"),
			infoStyle.Render(fmt.Sprintf("%d messages", meta.MessageCount)))
		if meta.Preview != "" {
			fmt.Printf("    %s\n", meta.Preview)
		}
	}
	return nil
}

// HandleShow prints one transcript to stdout.
func HandleShow(store *storage.TranscriptStore, id string) error {
	if id == "" {
		return fmt.Errorf("usage: sitechat show <id>")
	}
	t, err := store.Load(id)
	if err != nil {
		return err
	}

	for _, msg := range t.Messages {
		label := "you"
		if msg.Role == "assistant" {
			label = "assistant"
		}
		fmt.Printf("%s %s\n", promptStyle.Render(label+">"), msg.Timestamp.Format("15:04"))
		content := msg.Content
		if IsStdoutTTY() {
			content = components.HighlightFences(content, TerminalWidth(80), "monokai")
		}
		fmt.Println(content)
		fmt.Println()
	}
	return nil
}

// HandleSearch runs a history search and prints matches.
func HandleSearch(index *history.Index, query string) error {
	if index == nil {
		return fmt.Errorf("history search is disabled in the config")
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: sitechat search <query>")
	}

	results, err := index.Search(context.Background(), query, 20)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println(infoStyle.Render("no matches"))
		return nil
	}

	for _, r := range results {
		fmt.Printf("%s  %s  %s\n",
			promptStyle.Render(r.TranscriptID),
			r.Timestamp.Format("2006-01-02 15:04"),
			infoStyle.Render(r.Role))
		fmt.Printf("    %s\n", r.Snippet)
	}
	fmt.Println()
	fmt.Println(infoStyle.Render(fmt.Sprintf("%d matches; sitechat show <id> to read", len(results))))
	return nil
}

// HandleExport writes a transcript as markdown to stdout.
func HandleExport(store *storage.TranscriptStore, id string) error {
	if id == "" {
		return fmt.Errorf("usage: sitechat export <id>")
	}
	t, err := store.Load(id)
	if err != nil {
		return err
	}
	fmt.Print(t.ExportMarkdown())
	return nil
}
