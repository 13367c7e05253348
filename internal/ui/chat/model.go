// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
package chat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/nvalden/sitechat/internal/chatbot"
	"github.com/nvalden/sitechat/internal/config"
	"github.com/nvalden/sitechat/internal/history"
	"github.com/nvalden/sitechat/internal/session"
	"github.com/nvalden/sitechat/internal/storage"
	"github.com/nvalden/sitechat/internal/ui/components"
	"github.com/nvalden/sitechat/internal/ui/styles"
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	theme *styles.Theme

	// Session owns the conversation and all streaming state.
	session *session.Manager
	gate    *renderGate

	// Persistence; index may be nil when history search is disabled.
	store *storage.TranscriptStore
	index *history.Index

	// Rendering
	markdown    *components.MarkdownRenderer
	useMarkdown bool
	chromaStyle string

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keyMap   KeyMap

	// Dimensions
	width  int
	height int
	ready  bool

	// Typing state seen on the previous frame tick; a true→false edge
	// means the stream just settled.
	wasTyping bool

	// Transient status-bar text
	statusMsg string
	statusSeq int

	pageTitle  string
	saveOnExit bool
	showHelp   bool
	quitting   bool

	// Overlay with the latest /search results; empty when hidden.
	searchOverlay string
}

// New creates the chat view around a configured client. The store persists
// transcripts; index may be nil.
func New(client *chatbot.Client, cfg *config.Config, store *storage.TranscriptStore, index *history.Index) Model {
	theme := styles.NewTheme(cfg.UI.Theme)
	gate := newRenderGate()

	sess := session.NewManager(client, session.Config{
		MaxMessages:  cfg.Chat.MaxMessages,
		Greeting:     cfg.Chat.Greeting,
		StallTimeout: time.Duration(cfg.Endpoint.StallTimeoutSecs) * time.Second,
		OnChange:     gate.Mark,
	})

	input := textinput.New()
	input.Placeholder = "Ask about the site..."
	input.Prompt = theme.InputPrompt.Render("> ")
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	return Model{
		theme:       theme,
		session:     sess,
		gate:        gate,
		store:       store,
		index:       index,
		markdown:    components.NewMarkdownRenderer(80),
		useMarkdown: cfg.UI.Markdown,
		chromaStyle: cfg.UI.SyntaxTheme,
		input:       input,
		spinner:     sp,
		keyMap:      DefaultKeyMap(),
		pageTitle:   cfg.Endpoint.PageTitle,
		saveOnExit:  cfg.Storage.SaveOnExit,
	}
}

// Session exposes the underlying manager, mainly for tests.
func (m Model) Session() *session.Manager {
	return m.session
}

// Init starts the frame tick and the cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(streamTickCmd(), textinput.Blink)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles all Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamTickMsg:
		if m.quitting {
			return m, nil
		}
		typing := m.session.IsTyping()
		repaint := m.gate.Take()
		if m.wasTyping && !typing && m.gate.Force() {
			// The stream just settled; flush the final chunks without
			// waiting out the frame interval.
			repaint = true
		}
		m.wasTyping = typing
		if repaint {
			m.refreshViewport()
		}
		return m, streamTickCmd()

	case spinner.TickMsg:
		if !m.session.IsTyping() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TranscriptSavedMsg:
		if msg.Err != nil {
			return m.setStatus("save failed: " + msg.Err.Error())
		}
		return m.setStatus("saved transcript " + msg.ID)

	case statusExpiredMsg:
		if msg.seq == m.statusSeq {
			m.statusMsg = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleResize recomputes layout on terminal resize.
func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 1
	inputHeight := 2
	statusHeight := 1
	vpHeight := m.height - headerHeight - inputHeight - statusHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}

	m.input.Width = m.width - 4
	m.markdown.SetWidth(m.width - 4)
	m.refreshViewport()
	return m
}

// handleKey routes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keyMap
	switch {
	case keyMatches(msg, k.Quit):
		return m.quit()

	case keyMatches(msg, k.Cancel):
		if m.session.IsTyping() {
			m.session.CancelActive()
			return m.setStatus("stopped")
		}
		if m.searchOverlay != "" || m.showHelp {
			m.searchOverlay = ""
			m.showHelp = false
		}
		return m, nil

	case keyMatches(msg, k.Submit):
		return m.submit()

	case keyMatches(msg, k.Clear):
		m.session.ClearMessages()
		m.refreshViewport()
		return m.setStatus("conversation cleared")

	case keyMatches(msg, k.Save):
		return m, m.saveTranscriptCmd()

	case keyMatches(msg, k.Help):
		m.showHelp = !m.showHelp
		return m, nil

	case keyMatches(msg, k.Up):
		m.viewport.LineUp(1)
		return m, nil

	case keyMatches(msg, k.Down):
		m.viewport.LineDown(1)
		return m, nil

	case keyMatches(msg, k.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case keyMatches(msg, k.PageDown):
		m.viewport.ViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input line, or runs it as a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	if !m.session.SendMessage(text) {
		if m.session.IsTyping() {
			return m.setStatus("still answering; Esc to stop")
		}
		return m, nil
	}

	m.input.Reset()
	m.refreshViewport()
	return m, m.spinner.Tick
}

// runCommand handles slash commands typed into the input.
func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	m.input.Reset()

	switch cmd {
	case "/context":
		if arg == "" {
			return m.setStatus("usage: /context <text>")
		}
		m.session.SetContext(arg)
		return m.setStatus("context attached")

	case "/nocontext":
		m.session.ClearContext()
		return m.setStatus("context cleared")

	case "/clear":
		m.session.ClearMessages()
		m.refreshViewport()
		return m.setStatus("conversation cleared")

	case "/save":
		return m, m.saveTranscriptCmd()

	case "/search":
		return m.runSearch(arg)

	case "/help":
		m.searchOverlay = ""
		m.showHelp = !m.showHelp
		return m, nil

	case "/quit":
		return m.quit()

	default:
		return m.setStatus("unknown command " + cmd)
	}
}

// runSearch queries the transcript index and shows the hits in an overlay.
// The index is local sqlite, so querying inline is fine.
func (m Model) runSearch(query string) (tea.Model, tea.Cmd) {
	if m.index == nil {
		return m.setStatus("history search is disabled in the config")
	}
	if query == "" {
		return m.setStatus("usage: /search <query>")
	}

	hits, err := m.index.Search(context.Background(), query, 10)
	if err != nil {
		return m.setStatus("search failed: " + err.Error())
	}
	if len(hits) == 0 {
		return m.setStatus("no transcripts match " + strconv.Quote(query))
	}

	var b strings.Builder
	b.WriteString(m.theme.HeaderSubtitle.Render("transcripts matching "+strconv.Quote(query)) + "\n")
	for _, h := range hits {
		b.WriteString(m.theme.ShortcutKey.Render(h.TranscriptID))
		b.WriteString(m.theme.Timestamp.Render("  " + h.Timestamp.Format("Jan 02 15:04")))
		b.WriteString(m.theme.ShortcutDesc.Render("  " + h.Role + "  " + h.Snippet))
		b.WriteString("\n")
	}
	b.WriteString(m.theme.ShortcutDesc.Render("Esc to dismiss; sitechat show <id> prints a transcript"))

	m.showHelp = false
	m.searchOverlay = strings.TrimRight(b.String(), "\n")
	return m, nil
}

// quit saves the transcript if configured, shuts the session down, and
// exits the program.
func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.session.CancelActive()
	m.session.Close()

	if m.saveOnExit && m.session.MessageCount() > 1 {
		t := storage.FromConversation(m.session.SnapshotConversation(), m.session.SessionID())
		if id, err := m.store.Save(t); err != nil {
			logrus.WithError(err).Warn("failed to save transcript on exit")
		} else if m.index != nil {
			if err := m.index.Add(context.Background(), t); err != nil {
				logrus.WithError(err).WithField("transcript", id).Warn("failed to index transcript")
			}
		}
	}

	return m, tea.Quit
}

// saveTranscriptCmd persists the conversation off the update loop.
func (m Model) saveTranscriptCmd() tea.Cmd {
	t := storage.FromConversation(m.session.SnapshotConversation(), m.session.SessionID())
	store := m.store
	index := m.index
	return func() tea.Msg {
		id, err := store.Save(t)
		if err == nil && index != nil {
			if ierr := index.Add(context.Background(), t); ierr != nil {
				logrus.WithError(ierr).WithField("transcript", id).Warn("failed to index transcript")
			}
		}
		return TranscriptSavedMsg{ID: id, Err: err}
	}
}

// setStatus shows a transient status-bar message for a few seconds.
func (m Model) setStatus(text string) (tea.Model, tea.Cmd) {
	m.statusMsg = text
	m.statusSeq++
	seq := m.statusSeq
	return m, tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return statusExpiredMsg{seq: seq}
	})
}

// refreshViewport re-renders the conversation into the viewport, keeping
// the scroll position pinned to the bottom if it was there.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func keyMatches(msg tea.KeyMsg, b key.Binding) bool {
	return key.Matches(msg, b)
}
