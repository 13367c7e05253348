// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// This file defines the Bubble Tea message types used by the view:
//   - Streaming: the frame tick that drives render batching
//   - Transcripts: results of asynchronous transcript saves
//   - Status: expiry of transient status-bar text
package chat

import "time"

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamTickMsg drives the render loop while a response is streaming.
type StreamTickMsg struct {
	Time time.Time
}

// =============================================================================
// TRANSCRIPT MESSAGES
// =============================================================================

// TranscriptSavedMsg reports the outcome of a transcript save.
type TranscriptSavedMsg struct {
	ID  string
	Err error
}

// =============================================================================
// STATUS MESSAGES
// =============================================================================

// statusExpiredMsg clears a transient status message. The sequence number
// guards against clearing a newer status than the one that scheduled it.
type statusExpiredMsg struct {
	seq int
}
