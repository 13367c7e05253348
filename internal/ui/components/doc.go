// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides rendering helpers shared by the TUI and the
// plain terminal mode.
//
// # Key Types
//
//   - MarkdownRenderer: glamour-backed markdown rendering sized to the
//     terminal width
//   - CodeBlock: chroma-based syntax highlighting for fenced code, used
//     when full markdown rendering is disabled
package components
