// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// The view renders the session manager's conversation in a scrollable
// viewport with a single-line input below it. Streaming responses arrive
// on a background goroutine inside the session manager; the view polls a
// render gate on a 30fps tick so token bursts coalesce into smooth,
// flicker-free updates instead of re-rendering per token.
//
// # Key Types
//
//   - Model: the Bubble Tea model wiring session state to the terminal
//   - KeyMap: keyboard bindings with built-in help text
//
// # Usage
//
//	m := chat.New(client, cfg, store, index)
//	p := tea.NewProgram(m, tea.WithAltScreen())
//	_, err := p.Run()
package chat
