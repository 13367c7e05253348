// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns all conversation state for one chat window.
//
// The Manager is the single writer of the message list, typing flag, and
// visibility flag. UI layers issue intents (send, cancel, open, close) and
// read state snapshots; streaming runs in a background goroutine that applies
// each chunk to the one in-progress assistant message in arrival order.
//
// # Key Types
//
//   - Manager: conversation owner, one per chat window
//   - Transport: the outbound exchange, satisfied by chatbot.Client
//   - Config: limits, greeting, and the stall timeout policy
//
// At most one send is in flight; starting a new one cancels its predecessor.
// Cancellation is intentional and never produces an error message, while
// transport failures surface as a synthetic assistant reply so the
// conversation stays usable.
package session
