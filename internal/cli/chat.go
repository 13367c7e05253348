// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - line-mode chat REPL for terminals without full TUI support.
//
// Command: chat (also reached via --plain)
//
// Interactive commands:
//   /context <text>     Attach page context to following questions
//   /nocontext          Drop the attached context
//   /clear              Reset the conversation
//   /save               Save the transcript
//   /help               Show commands
//   /quit               Exit
//   Ctrl+C              Cancel the current reply
//   Ctrl+D              Exit
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"

	"github.com/nvalden/sitechat/internal/chatbot"
	"github.com/nvalden/sitechat/internal/config"
	"github.com/nvalden/sitechat/internal/history"
	"github.com/nvalden/sitechat/internal/model"
	"github.com/nvalden/sitechat/internal/session"
	"github.com/nvalden/sitechat/internal/storage"
	"github.com/nvalden/sitechat/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for the REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with persistent input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "input_history"),
	}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the line-mode REPL until the user exits. With resume set,
// the most recent saved transcript is loaded as the starting conversation.
func HandleChat(cfg *config.Config, client *chatbot.Client, store *storage.TranscriptStore, index *history.Index, resume bool) error {
	if !IsTTY() {
		return fmt.Errorf("chat requires an interactive terminal")
	}

	sess := session.NewManager(client, session.Config{
		MaxMessages:  cfg.Chat.MaxMessages,
		Greeting:     cfg.Chat.Greeting,
		StallTimeout: time.Duration(cfg.Endpoint.StallTimeoutSecs) * time.Second,
	})
	defer sess.Close()

	resumed := false
	if resume {
		if t, err := store.LoadByIndex(0); err == nil && t.MessageCount() > 0 {
			if err := sess.RestoreMessages(t.ToMessages()); err == nil {
				resumed = true
			}
		} else if !errors.Is(err, storage.ErrTranscriptNotFound) {
			logrus.WithError(err).Warn("could not resume the last transcript")
		}
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C during streaming cancels the reply instead of killing the
	// process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			sess.CancelActive()
		}
	}()

	fmt.Println(welcomeStyle.Render("sitechat"))
	if resumed {
		msgs := sess.Messages()
		fmt.Println(infoStyle.Render(fmt.Sprintf("resumed the last conversation (%d messages)", len(msgs))))
		if last := msgs[len(msgs)-1]; last.Role == model.RoleAssistant {
			fmt.Println(infoStyle.Render("assistant: " + last.Content))
		}
	} else {
		fmt.Println(infoStyle.Render(sess.Messages()[0].Content))
	}
	fmt.Println(infoStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Println()

	for {
		text, err := input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// liner.ErrPromptAborted on Ctrl+C, io.EOF on Ctrl+D.
			fmt.Println()
			saveOnExit(cfg, sess, store, index)
			return nil
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if !runSlashCommand(text, cfg, sess, store, index) {
				return nil
			}
			continue
		}
		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			saveOnExit(cfg, sess, store, index)
			return nil
		}

		if !sess.SendMessage(text) {
			fmt.Println(warningStyle.Render("still answering; Ctrl+C to stop"))
			continue
		}
		streamReply(sess)
	}
}

// streamReply prints the in-progress assistant reply as it grows.
func streamReply(sess *session.Manager) {
	// Everything after the just-sent user message belongs to this turn.
	base := sess.MessageCount()
	printed := 0

	flush := func() {
		msgs := sess.Messages()
		if len(msgs) <= base {
			return
		}
		content := msgs[base].Content
		if msgs[base].Role != model.RoleAssistant {
			return
		}
		if len(content) > printed {
			fmt.Print(content[printed:])
			printed = len(content)
		}
	}

	for sess.IsTyping() {
		flush()
		time.Sleep(50 * time.Millisecond)
	}
	flush()
	fmt.Print("\n\n")
}

// runSlashCommand executes a slash command; returns false to exit.
func runSlashCommand(text string, cfg *config.Config, sess *session.Manager, store *storage.TranscriptStore, index *history.Index) bool {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/context":
		if arg == "" {
			fmt.Println(warningStyle.Render("usage: /context <text>"))
			return true
		}
		sess.SetContext(arg)
		fmt.Println(infoStyle.Render("context attached"))

	case "/nocontext":
		sess.ClearContext()
		fmt.Println(infoStyle.Render("context cleared"))

	case "/clear", "/c":
		sess.ClearMessages()
		fmt.Println(infoStyle.Render("conversation cleared"))

	case "/save":
		if id, err := saveTranscript(sess, store, index); err != nil {
			fmt.Println(errorStyle.Render("save failed: " + err.Error()))
		} else {
			fmt.Println(infoStyle.Render("saved transcript " + id))
		}

	case "/help", "/h":
		fmt.Println(infoStyle.Render("/context <text>  /nocontext  /clear  /save  /quit"))

	case "/quit", "/q":
		saveOnExit(cfg, sess, store, index)
		return false

	default:
		fmt.Println(warningStyle.Render("unknown command " + cmd))
	}
	return true
}

// saveTranscript persists and indexes the current conversation.
func saveTranscript(sess *session.Manager, store *storage.TranscriptStore, index *history.Index) (string, error) {
	t := storage.FromConversation(sess.SnapshotConversation(), sess.SessionID())
	id, err := store.Save(t)
	if err != nil {
		return "", err
	}
	if index != nil {
		if err := index.Add(context.Background(), t); err != nil {
			logrus.WithError(err).WithField("transcript", id).Warn("failed to index transcript")
		}
	}
	return id, nil
}

// saveOnExit persists the conversation if configured and non-trivial.
func saveOnExit(cfg *config.Config, sess *session.Manager, store *storage.TranscriptStore, index *history.Index) {
	sess.CancelActive()
	sess.Wait()
	if !cfg.Storage.SaveOnExit || sess.MessageCount() <= 1 {
		return
	}
	if _, err := saveTranscript(sess, store, index); err != nil {
		logrus.WithError(err).Warn("failed to save transcript on exit")
	}
}
