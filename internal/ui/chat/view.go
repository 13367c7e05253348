// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nvalden/sitechat/internal/model"
	"github.com/nvalden/sitechat/internal/session"
	"github.com/nvalden/sitechat/internal/ui/components"
	"github.com/nvalden/sitechat/internal/util"
)

// streamCursor marks the growing end of a streaming reply.
const streamCursor = "▍"

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if ctx, ok := m.session.Context(); ok {
		b.WriteString(m.renderContextBar(ctx))
		b.WriteString("\n")
	}

	b.WriteString(m.theme.InputContainer.Width(m.width).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	if m.showHelp {
		return b.String() + "\n" + m.renderHelp()
	}
	if m.searchOverlay != "" {
		return b.String() + "\n" + m.theme.HelpBox.Render(m.searchOverlay)
	}
	return b.String()
}

// renderHeader draws the title bar.
func (m Model) renderHeader() string {
	title := "sitechat"
	if m.pageTitle != "" {
		title += "  " + m.theme.HeaderSubtitle.Render(m.pageTitle)
	}
	return m.theme.Header.Width(m.width).Render(title)
}

// renderContextBar shows the held attachment above the input.
func (m Model) renderContextBar(ctx string) string {
	label := m.theme.ContextLabel.Render("context ")
	content := m.theme.ContextContent.Render(util.TruncateRunes(util.FirstLine(ctx), 60))
	return m.theme.ContextBar.Width(m.width).Render(label + content)
}

// renderStatusBar draws the bottom line: activity, transient status, hints.
func (m Model) renderStatusBar() string {
	var left string
	if m.session.IsTyping() {
		left = m.spinner.View() + m.theme.ThinkingText.Render(" answering...")
	} else {
		left = m.theme.StatusOK.Render("ready")
	}

	if m.statusMsg != "" {
		left += "  " + m.theme.ShortcutDesc.Render(m.statusMsg)
	}

	right := m.theme.ShortcutKey.Render("C-/") + m.theme.ShortcutDesc.Render(" help")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderHelp draws the key-binding overlay.
func (m Model) renderHelp() string {
	var b strings.Builder
	for _, entry := range m.keyMap.HelpEntries() {
		b.WriteString(m.theme.ShortcutKey.Render(padRight(entry[0], 12)))
		b.WriteString(m.theme.ShortcutDesc.Render(entry[1]))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.theme.ShortcutDesc.Render("commands: /context <text>  /nocontext  /clear  /save  /search <query>  /quit"))
	return m.theme.HelpBox.Render(strings.TrimRight(b.String(), "\n"))
}

// =============================================================================
// CONVERSATION RENDERING
// =============================================================================

// renderConversation renders every message for the viewport.
func (m Model) renderConversation() string {
	msgs := m.session.Messages()
	parts := make([]string, 0, len(msgs))
	for i := range msgs {
		parts = append(parts, m.renderMessage(&msgs[i]))
	}
	return strings.Join(parts, "\n\n")
}

// renderMessage renders one message with its role label and body.
func (m Model) renderMessage(msg *model.Message) string {
	label := m.theme.RoleLabel.Render(msg.Role.DisplayName()) + " " +
		m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))

	content := msg.Content
	if msg.IsStreaming {
		content += streamCursor
	}

	width := m.width - 6
	if width < 20 {
		width = 20
	}

	var body string
	switch {
	case msg.Role == model.RoleUser:
		body = m.theme.UserBubble.Width(width).Render(content)
	case msg.Content == session.FailureNotice:
		body = m.theme.NoticeBubble.Width(width).Render(content)
	case m.useMarkdown && !msg.IsStreaming:
		// Only finalized replies get the full markdown pass; partial
		// markdown renders unstably while tokens arrive.
		body = m.theme.AssistantBubble.Render(m.markdown.Render(content))
	case !m.useMarkdown:
		body = m.theme.AssistantBubble.Width(width).Render(
			components.HighlightFences(content, width, m.chromaStyle))
	default:
		body = m.theme.AssistantBubble.Width(width).Render(content)
	}

	return label + "\n" + body
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}
