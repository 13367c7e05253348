// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat conversations.
//
// # Key Types
//
//   - Conversation: ordered, bounded message history for one chat session
//   - Message: a single turn with role, content, timestamp, and streaming state
//   - Role: message role enumeration (user, assistant)
//
// A conversation is append-only except for the single message currently
// streaming: its content grows incrementally until it is finalized. At most
// one message is streaming at any moment. When the history exceeds its
// configured maximum, the oldest messages are evicted first.
//
// # Usage
//
// Create a conversation and exchange a turn:
//
//	conv := model.NewConversation(50)
//	conv.AddUserMessage("Hello!")
//	reply := conv.AddAssistantMessage()
//	conv.AppendToStreaming("Hi")
//	conv.AppendToStreaming(" there")
//	conv.FinalizeStreaming()
package model
