// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/nvalden/sitechat/internal/chatbot"
)

// DefaultMaxMessages is the default cap on conversation history. When
// exceeded, the oldest messages are evicted first to bound memory and the
// payload size of each request.
const DefaultMaxMessages = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one chat session's ordered message history.
//
// Invariants: insertion order is display order; the list is append-only
// except for the single streaming message's content; at most one message is
// streaming at any moment.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []*Message `json:"messages"`

	// MaxMessages caps the history (0 means DefaultMaxMessages).
	MaxMessages int `json:"max_messages,omitempty"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation(maxMessages int) *Conversation {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Conversation{
		ID:          generateConversationID(),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Messages:    make([]*Message, 0),
		MaxMessages: maxMessages,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message and evicts the oldest entries when the
// history exceeds MaxMessages.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.evictOldest()
}

// AddUserMessage creates and appends a user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage creates and appends a finalized assistant message.
func (c *Conversation) AddAssistantMessage(content string) *Message {
	msg := NewMessage(RoleAssistant, content)
	c.AddMessage(msg)
	return msg
}

// AddStreamingMessage creates and appends an empty streaming assistant
// message. Any previously streaming message is finalized first so that at
// most one message is ever streaming.
func (c *Conversation) AddStreamingMessage() *Message {
	if cur := c.StreamingMessage(); cur != nil {
		cur.Finalize()
	}
	msg := NewStreamingMessage()
	c.AddMessage(msg)
	return msg
}

// StreamingMessage returns the message currently streaming, or nil.
func (c *Conversation) StreamingMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsStreaming {
			return c.Messages[i]
		}
	}
	return nil
}

// AppendToStreaming appends a chunk to the streaming message, if any.
// Chunks are applied in call order; there is no reordering.
func (c *Conversation) AppendToStreaming(chunk string) {
	if msg := c.StreamingMessage(); msg != nil {
		msg.AppendChunk(chunk)
		c.UpdatedAt = time.Now()
	}
}

// FinalizeStreaming completes the streaming message, if any, and returns it.
func (c *Conversation) FinalizeStreaming() *Message {
	msg := c.StreamingMessage()
	if msg != nil {
		msg.Finalize()
		c.UpdatedAt = time.Now()
	}
	return msg
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageByID returns a message by its ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// Reset clears the history and installs the greeting as the first assistant
// message. It does not touch any in-flight request; that is the session
// manager's concern.
func (c *Conversation) Reset(greeting string) {
	c.Messages = make([]*Message, 0)
	c.UpdatedAt = time.Now()
	if greeting != "" {
		c.AddAssistantMessage(greeting)
	}
}

// Snapshot returns a deep copy that is safe to read while the original keeps
// mutating, provided the caller holds whatever lock guards the original for
// the duration of this call. A streaming message is captured finalized with
// its content so far.
func (c *Conversation) Snapshot() *Conversation {
	cp := &Conversation{
		ID:          c.ID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		MaxMessages: c.MaxMessages,
		Messages:    make([]*Message, 0, len(c.Messages)),
	}
	for _, msg := range c.Messages {
		cp.Messages = append(cp.Messages, &Message{
			ID:        msg.ID,
			Role:      msg.Role,
			Timestamp: msg.Timestamp,
			Content:   msg.DisplayContent(),
		})
	}
	return cp
}

// Load replaces the history with previously persisted messages, trimming to
// MaxMessages. Messages must be finalized; streaming state is not restored.
func (c *Conversation) Load(msgs []*Message) {
	c.Messages = append(make([]*Message, 0, len(msgs)), msgs...)
	c.UpdatedAt = time.Now()
	c.evictOldest()
}

// evictOldest trims the history FIFO to MaxMessages. The newest messages are
// never dropped.
func (c *Conversation) evictOldest() {
	max := c.MaxMessages
	if max <= 0 {
		max = DefaultMaxMessages
	}
	if len(c.Messages) <= max {
		return
	}
	c.Messages = c.Messages[len(c.Messages)-max:]
}

// =============================================================================
// TRANSPORT CONVERSION
// =============================================================================

// ToHistory serializes the conversation for the chat service payload.
// Only finalized messages are included; the in-progress streaming message
// (if any) is not part of the history sent upstream. Entries carry their
// sequential index and an RFC 3339 timestamp.
func (c *Conversation) ToHistory() []chatbot.HistoryEntry {
	entries := make([]chatbot.HistoryEntry, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.IsStreaming || msg.IsEmpty() {
			continue
		}
		entries = append(entries, chatbot.HistoryEntry{
			ID:        len(entries),
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp.Format(time.RFC3339),
		})
	}
	return entries
}

// Preview returns a short preview of the conversation for listings.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(100)
		}
	}
	if len(c.Messages) > 0 {
		return c.Messages[0].Preview(100)
	}
	return "Empty conversation"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}
