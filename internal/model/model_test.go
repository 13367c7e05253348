// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("message ID should start with 'msg_', got %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want user", msg.Role)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if msg.IsStreaming {
		t.Error("user message should not be streaming")
	}
}

func TestMessage_Streaming(t *testing.T) {
	msg := NewStreamingMessage()

	if !msg.IsStreaming {
		t.Fatal("new streaming message should have IsStreaming true")
	}
	if !msg.IsEmpty() {
		t.Error("new streaming message should be empty")
	}

	msg.AppendChunk("Hi")
	msg.AppendChunk(" there")
	msg.AppendChunk("!")

	if got := msg.DisplayContent(); got != "Hi there!" {
		t.Errorf("DisplayContent = %q, want %q", got, "Hi there!")
	}
	if msg.Content != "" {
		t.Errorf("Content should be empty until finalized, got %q", msg.Content)
	}

	msg.Finalize()

	if msg.IsStreaming {
		t.Error("IsStreaming should be false after Finalize")
	}
	if msg.Content != "Hi there!" {
		t.Errorf("Content = %q, want %q", msg.Content, "Hi there!")
	}

	// Appending after finalize is a no-op.
	msg.AppendChunk("more")
	if msg.Content != "Hi there!" {
		t.Errorf("Content mutated after finalize: %q", msg.Content)
	}
}

func TestMessage_FinalizeIdempotent(t *testing.T) {
	msg := NewStreamingMessage()
	msg.AppendChunk("done")
	msg.Finalize()
	msg.Finalize()

	if msg.Content != "done" {
		t.Errorf("Content = %q after double finalize", msg.Content)
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("this is a fairly long message body")
	preview := msg.Preview(10)
	if len([]rune(preview)) > 10 {
		t.Errorf("Preview too long: %q", preview)
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("Preview should end with ellipsis: %q", preview)
	}
}

func TestRole_DisplayName(t *testing.T) {
	if RoleUser.DisplayName() != "You" {
		t.Errorf("user display name = %q", RoleUser.DisplayName())
	}
	if RoleAssistant.DisplayName() != "Assistant" {
		t.Errorf("assistant display name = %q", RoleAssistant.DisplayName())
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation(t *testing.T) {
	conv := NewConversation(10)

	if !strings.HasPrefix(conv.ID, "conv_") {
		t.Errorf("conversation ID should start with 'conv_', got %q", conv.ID)
	}
	if !conv.IsEmpty() {
		t.Error("new conversation should be empty")
	}
	if conv.MaxMessages != 10 {
		t.Errorf("MaxMessages = %d, want 10", conv.MaxMessages)
	}
}

func TestConversation_OrderPreserved(t *testing.T) {
	conv := NewConversation(0)
	conv.AddUserMessage("one")
	conv.AddAssistantMessage("two")
	conv.AddUserMessage("three")

	contents := []string{"one", "two", "three"}
	for i, want := range contents {
		if got := conv.Messages[i].Content; got != want {
			t.Errorf("Messages[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestConversation_Eviction(t *testing.T) {
	conv := NewConversation(3)
	conv.AddUserMessage("a")
	conv.AddAssistantMessage("b")
	conv.AddUserMessage("c")

	if conv.MessageCount() != 3 {
		t.Fatalf("count = %d, want 3", conv.MessageCount())
	}

	// Appending a fourth message drops the oldest, never the newest.
	conv.AddAssistantMessage("d")
	if conv.MessageCount() != 3 {
		t.Fatalf("count after eviction = %d, want 3", conv.MessageCount())
	}
	if conv.Messages[0].Content != "b" {
		t.Errorf("oldest surviving message = %q, want %q", conv.Messages[0].Content, "b")
	}
	if conv.LastMessage().Content != "d" {
		t.Errorf("newest message = %q, want %q", conv.LastMessage().Content, "d")
	}
}

func TestConversation_SingleStreamingMessage(t *testing.T) {
	conv := NewConversation(0)
	first := conv.AddStreamingMessage()
	first.AppendChunk("partial")

	// Starting another streaming message finalizes the first.
	second := conv.AddStreamingMessage()

	streaming := 0
	for _, msg := range conv.Messages {
		if msg.IsStreaming {
			streaming++
		}
	}
	if streaming != 1 {
		t.Errorf("streaming messages = %d, want 1", streaming)
	}
	if first.IsStreaming {
		t.Error("first message should have been finalized")
	}
	if first.Content != "partial" {
		t.Errorf("first message content = %q, want %q", first.Content, "partial")
	}
	if conv.StreamingMessage() != second {
		t.Error("StreamingMessage should return the second message")
	}
}

func TestConversation_AppendToStreaming(t *testing.T) {
	conv := NewConversation(0)
	conv.AddUserMessage("question")
	conv.AddStreamingMessage()

	chunks := []string{"c1", "c2", "c3"}
	for _, c := range chunks {
		conv.AppendToStreaming(c)
	}

	msg := conv.FinalizeStreaming()
	if msg == nil {
		t.Fatal("FinalizeStreaming returned nil")
	}
	if msg.Content != "c1c2c3" {
		t.Errorf("Content = %q, want concatenation in arrival order", msg.Content)
	}
	if conv.StreamingMessage() != nil {
		t.Error("no message should be streaming after finalize")
	}
}

func TestConversation_Reset(t *testing.T) {
	conv := NewConversation(0)
	conv.AddUserMessage("old")
	conv.Reset("Hi! How can I help?")

	if conv.MessageCount() != 1 {
		t.Fatalf("count after reset = %d, want 1", conv.MessageCount())
	}
	greeting := conv.Messages[0]
	if greeting.Role != RoleAssistant {
		t.Errorf("greeting role = %v, want assistant", greeting.Role)
	}
	if greeting.Content != "Hi! How can I help?" {
		t.Errorf("greeting content = %q", greeting.Content)
	}
}

func TestConversation_ToHistory(t *testing.T) {
	conv := NewConversation(0)
	conv.AddUserMessage("question")
	conv.AddAssistantMessage("answer")
	streaming := conv.AddStreamingMessage()
	streaming.AppendChunk("in progress")

	history := conv.ToHistory()

	// The streaming message must not be serialized.
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	for i, entry := range history {
		if entry.ID != i {
			t.Errorf("entry %d has index %d", i, entry.ID)
		}
		if entry.Timestamp == "" {
			t.Errorf("entry %d missing timestamp", i)
		}
	}
	if history[0].Role != "user" || history[0].Content != "question" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "answer" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

func TestConversation_Preview(t *testing.T) {
	conv := NewConversation(0)
	if conv.Preview() != "Empty conversation" {
		t.Errorf("empty preview = %q", conv.Preview())
	}
	conv.AddAssistantMessage("greeting")
	conv.AddUserMessage("the user question")
	if conv.Preview() != "the user question" {
		t.Errorf("preview should prefer the first user message, got %q", conv.Preview())
	}
}
