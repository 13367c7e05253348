// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// This file implements render batching for streaming responses. Chunks
// arrive from the session manager's goroutine far faster than a terminal
// can usefully repaint; the renderGate coalesces change notifications and
// admits a repaint only when a batch threshold or frame interval is
// reached.
package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// RENDER GATE
// =============================================================================

// renderGate coalesces change notifications into frames. The session
// manager marks it from the streaming goroutine; the Bubble Tea loop asks
// it on each tick whether a repaint is due.
//
// A repaint is admitted when either:
//  1. The pending-change count reaches the batch threshold, or
//  2. A frame interval has elapsed since the last repaint.
type renderGate struct {
	mu       sync.Mutex
	pending  int
	lastPass time.Time

	batchSize   int
	minInterval time.Duration
}

const (
	defaultBatchSize = 15
	defaultFrameRate = 30
)

// newRenderGate creates a gate at 30fps with a 15-change batch threshold.
func newRenderGate() *renderGate {
	return &renderGate{
		batchSize:   defaultBatchSize,
		minInterval: time.Second / defaultFrameRate,
		lastPass:    time.Now(),
	}
}

// Mark records one state change. Safe to call from any goroutine.
func (g *renderGate) Mark() {
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()
}

// Take reports whether a repaint is due and, if so, consumes the pending
// changes. Called from the Bubble Tea loop on each tick.
func (g *renderGate) Take() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == 0 {
		return false
	}
	if g.pending < g.batchSize && time.Since(g.lastPass) < g.minInterval {
		return false
	}

	g.pending = 0
	g.lastPass = time.Now()
	return true
}

// Force consumes any pending changes regardless of thresholds. Used when a
// stream completes so the final chunk is never held back a frame.
func (g *renderGate) Force() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == 0 {
		return false
	}
	g.pending = 0
	g.lastPass = time.Now()
	return true
}

// PendingChanges returns the number of unconsumed change marks.
func (g *renderGate) PendingChanges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd schedules the next frame tick at 30fps.
func streamTickCmd() tea.Cmd {
	return tea.Tick(time.Second/defaultFrameRate, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
