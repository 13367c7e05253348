// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERER
// =============================================================================

// MarkdownRenderer renders assistant replies as terminal markdown. The
// underlying glamour renderer is rebuilt when the wrap width changes, so a
// terminal resize picks up the new width on the next render.
type MarkdownRenderer struct {
	mu       sync.Mutex
	renderer *glamour.TermRenderer
	width    int
}

// NewMarkdownRenderer creates a renderer wrapping at width columns.
func NewMarkdownRenderer(width int) *MarkdownRenderer {
	mr := &MarkdownRenderer{}
	mr.SetWidth(width)
	return mr
}

// SetWidth updates the wrap width, rebuilding the renderer if needed.
func (mr *MarkdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if width == mr.width && mr.renderer != nil {
		return
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Keep whatever renderer we had; Render falls back to plain text.
		return
	}
	mr.renderer = r
	mr.width = width
}

// Render renders markdown for terminal display. Returns the original
// content unchanged if rendering fails.
func (mr *MarkdownRenderer) Render(content string) string {
	mr.mu.Lock()
	r := mr.renderer
	mr.mu.Unlock()

	if r == nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	// Glamour pads with a trailing blank line that doubles up in the
	// viewport.
	return strings.TrimRight(rendered, "\n") + "\n"
}
