// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across sitechat.
//
// String helpers are rune- and width-aware so transcript previews and the
// chat viewport never split a multi-byte character. File helpers provide
// crash-safe writes for transcript persistence.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width truncation (CJK aware, via go-runewidth)
//   - StringToInt: numeric parsing with a fallback
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
